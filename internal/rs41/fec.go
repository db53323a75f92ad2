package rs41

import (
	"errors"

	"radiosonde-ng/internal/reedsolomon"
)

func newCodec() (*reedsolomon.Codec, error) {
	return reedsolomon.New(rsPoly, rsFirstRoot, rsRootSkip, rsRoots)
}

func chunkLen(extended bool) int {
	if extended {
		return rsK
	}
	return normalChunk
}

// gather deinterleaves codeword b of frame into block.
func gather(block, frame []byte, b, chunk int) {
	clear(block)
	for i := 0; i < chunk; i++ {
		block[i] = frame[flagOffset+rsInterleave*i+b]
	}
	for i := 0; i < rsRoots; i++ {
		block[rsK+i] = frame[parityOffset+rsRoots*b+i]
	}
}

// scatter writes codeword b back to its interleaved frame positions.
func scatter(frame, block []byte, b, chunk int) {
	for i := 0; i < chunk; i++ {
		frame[flagOffset+rsInterleave*i+b] = block[i]
	}
	for i := 0; i < rsRoots; i++ {
		frame[parityOffset+rsRoots*b+i] = block[rsK+i]
	}
}

// fecResult reports per-frame Reed-Solomon outcome.
type fecResult struct {
	corrected    int
	failedBlocks int
}

// correct runs the interleaved Reed-Solomon decode over a descrambled frame.
// Blocks that cannot be corrected are left as received.
func correct(rs *reedsolomon.Codec, frame []byte, extended bool) fecResult {
	var res fecResult
	var block [rsN]byte
	chunk := chunkLen(extended)
	for b := 0; b < rsInterleave; b++ {
		gather(block[:], frame, b, chunk)
		n, err := rs.Decode(block[:])
		if err != nil {
			if errors.Is(err, reedsolomon.ErrUncorrectable) {
				res.failedBlocks++
			}
			continue
		}
		res.corrected += n
		scatter(frame, block[:], b, chunk)
	}
	return res
}

// encodeParity computes and stores parity for a descrambled frame.
func encodeParity(rs *reedsolomon.Codec, frame []byte, extended bool) error {
	var block [rsN]byte
	chunk := chunkLen(extended)
	for b := 0; b < rsInterleave; b++ {
		gather(block[:], frame, b, chunk)
		if err := rs.Encode(block[:rsK], block[rsK:]); err != nil {
			return err
		}
		scatter(frame, block[:], b, chunk)
	}
	return nil
}
