package framer

import (
	"errors"
	"fmt"
	"io"
	"math/bits"
	"sync"
	"sync/atomic"
)

// ErrNoInput is returned by Step when no input source is bound.
var ErrNoInput = errors.New("framer: no input bound")

// EmitFunc receives one aligned frame. The slice is owned by the callee.
// A non-nil error aborts the current step and is returned to the caller.
type EmitFunc func(frame []byte) error

type Config struct {
	// SyncWord holds the synchronization pattern in its low SyncBits bits,
	// first transmitted bit most significant.
	SyncWord uint64
	SyncBits int

	// FrameLen is the emitted frame length in bytes, sync word included.
	FrameLen int

	// ChunkBytes is the read size used by Step. Defaults to 4096.
	ChunkBytes int

	// Normalize complements frames whose sync word was found inverted, so
	// downstream stages always see the transmitted polarity.
	Normalize bool
}

type state int

const (
	stateRead state = iota
	stateDeoffset
)

func (s state) String() string {
	switch s {
	case stateRead:
		return "read"
	case stateDeoffset:
		return "deoffset"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Snapshot is a point-in-time view of framer counters.
type Snapshot struct {
	State          string `json:"state"`
	BufferedBits   int    `json:"buffered_bits"`
	BytesIn        uint64 `json:"bytes_in"`
	Frames         uint64 `json:"frames"`
	InvertedFrames uint64 `json:"inverted_frames"`
	Rebinds        uint64 `json:"rebinds"`
}

// Framer is a single-owner pipeline stage. Step, Run and Write must not be
// called concurrently with each other; SetInput and Snapshot may be called
// from any goroutine.
type Framer struct {
	cfg      Config
	syncWord uint64
	syncMask uint64

	mu  sync.Mutex
	src io.Reader
	gen uint64

	raw        []byte
	bits       int
	state      state
	syncOffset int
	inverted   bool

	chunk []byte

	bytesIn        atomic.Uint64
	frames         atomic.Uint64
	invertedFrames atomic.Uint64
	rebinds        atomic.Uint64
}

func New(cfg Config, src io.Reader) (*Framer, error) {
	if cfg.SyncBits <= 0 || cfg.SyncBits > 64 {
		return nil, fmt.Errorf("framer sync bits must be in 1..64, got %d", cfg.SyncBits)
	}
	if cfg.FrameLen*8 < cfg.SyncBits {
		return nil, fmt.Errorf("framer frame length %d is shorter than the sync word", cfg.FrameLen)
	}
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = 4096
	}

	mask := ^uint64(0)
	if cfg.SyncBits < 64 {
		mask = 1<<cfg.SyncBits - 1
	}

	return &Framer{
		cfg:      cfg,
		syncWord: cfg.SyncWord & mask,
		syncMask: mask,
		src:      src,
		// Up to two frames of bits plus the partial bytes at either end.
		raw:   make([]byte, 2*cfg.FrameLen+2),
		chunk: make([]byte, cfg.ChunkBytes),
	}, nil
}

// SetInput detaches the current source and binds r. The call waits for any
// in-progress processing to finish, then resets the bit cursor so no bits
// from the old source leak into frames from the new one. A Step blocked in
// Read on the old source discards whatever that read returns.
func (f *Framer) SetInput(r io.Reader) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.src = r
	f.gen++
	f.resetLocked()
	f.rebinds.Add(1)
}

// Step performs one blocking read from the bound source and emits every
// frame the new bytes complete. It returns the number of frames emitted.
// A read error (io.EOF included) discards the partially buffered frame and
// is returned as-is, after the frames completed by that read are emitted.
func (f *Framer) Step(emit EmitFunc) (int, error) {
	f.mu.Lock()
	src, gen := f.src, f.gen
	f.mu.Unlock()
	if src == nil {
		return 0, ErrNoInput
	}

	n, rerr := src.Read(f.chunk)

	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return 0, nil
	}
	var frames [][]byte
	if n > 0 {
		frames = f.writeLocked(f.chunk[:n])
	}
	if rerr != nil {
		f.resetLocked()
	}
	f.mu.Unlock()

	count, err := deliver(frames, emit)
	if err != nil {
		return count, err
	}
	return count, rerr
}

// Write feeds p through the state machine, emitting every completed frame.
// The state lock is released before emit runs, so a slow sink does not stall
// SetInput or Snapshot.
func (f *Framer) Write(p []byte, emit EmitFunc) (int, error) {
	f.mu.Lock()
	frames := f.writeLocked(p)
	f.mu.Unlock()
	return deliver(frames, emit)
}

// deliver hands frames to emit in order and stops at the first error. Frames
// after a failed emit are dropped.
func deliver(frames [][]byte, emit EmitFunc) (int, error) {
	if emit == nil {
		return len(frames), nil
	}
	for i, frame := range frames {
		if err := emit(frame); err != nil {
			return i, err
		}
	}
	return len(frames), nil
}

func (f *Framer) Snapshot() Snapshot {
	f.mu.Lock()
	st, buffered := f.state, f.bits
	f.mu.Unlock()
	return Snapshot{
		State:          st.String(),
		BufferedBits:   buffered,
		BytesIn:        f.bytesIn.Load(),
		Frames:         f.frames.Load(),
		InvertedFrames: f.invertedFrames.Load(),
		Rebinds:        f.rebinds.Load(),
	}
}

func (f *Framer) resetLocked() {
	f.state = stateRead
	f.bits = 0
	f.syncOffset = 0
	f.inverted = false
}

func (f *Framer) frameBits() int { return 8 * f.cfg.FrameLen }

// writeLocked advances the state machine over p and returns the frames it
// completed.
func (f *Framer) writeLocked(p []byte) [][]byte {
	f.bytesIn.Add(uint64(len(p)))
	var frames [][]byte
	for {
		switch f.state {
		case stateRead:
			p = f.fill(p, f.frameBits())
			if f.bits < f.frameBits() {
				return frames
			}
			f.syncOffset, f.inverted = f.Correlate(f.raw[:f.cfg.FrameLen])
			f.state = stateDeoffset

		case stateDeoffset:
			p = f.fill(p, f.syncOffset+f.frameBits())
			if f.bits < f.syncOffset+f.frameBits() {
				return frames
			}
			frames = append(frames, f.cutLocked())

		default:
			f.state = stateRead
		}
	}
}

// fill appends whole bytes from p until at least want bits are buffered and
// returns the unconsumed remainder.
func (f *Framer) fill(p []byte, want int) []byte {
	if f.bits >= want || len(p) == 0 {
		return p
	}
	n := (want - f.bits + 7) / 8
	if n > len(p) {
		n = len(p)
	}
	f.push(p[:n])
	return p[n:]
}

// push packs bytes after the last buffered bit.
func (f *Framer) push(p []byte) {
	shift := uint(f.bits % 8)
	idx := f.bits / 8
	for _, v := range p {
		if shift == 0 {
			f.raw[idx] = v
		} else {
			f.raw[idx] = f.raw[idx]&byte(0xFF<<(8-shift)) | v>>shift
			f.raw[idx+1] = v << (8 - shift)
		}
		idx++
	}
	f.bits += 8 * len(p)
}

// cutLocked extracts the aligned frame and keeps the bits that follow it.
func (f *Framer) cutLocked() []byte {
	end := f.syncOffset + f.frameBits()
	frame := make([]byte, f.cfg.FrameLen)
	bitcopy(frame, f.raw, f.syncOffset, f.cfg.FrameLen)
	inverted := f.inverted
	if inverted && f.cfg.Normalize {
		for i := range frame {
			frame[i] = ^frame[i]
		}
	}

	// Keep only the sub-byte tail that follows the frame.
	rem := f.bits - end
	if rem > 0 {
		f.raw[0] = readByte(f.raw, end) & byte(0xFF<<(8-uint(rem)))
	}
	f.bits = rem
	f.state = stateRead
	f.syncOffset = 0
	f.inverted = false

	f.frames.Add(1)
	if inverted {
		f.invertedFrames.Add(1)
	}
	return frame
}

// Correlate returns the bit offset in buf where the sync word, or its
// complement, matches with the fewest bit errors. Ties go to the lowest
// offset, and a non-inverted match wins a tie at the same offset. Offsets
// run from 0 to 8*len(buf)-SyncBits-1; a sync word ending on the last bit of
// buf is not considered.
func (f *Framer) Correlate(buf []byte) (offset int, inverted bool) {
	n := f.cfg.SyncBits
	total := 8 * len(buf)
	if total <= n {
		return 0, false
	}

	best := n + 1
	var window uint64
	for k := 0; k < total-1; k++ {
		window = window<<1 | uint64(buf[k/8]>>(7-uint(k%8))&1)
		if k < n-1 {
			continue
		}
		off := k - n + 1
		dist := bits.OnesCount64((window ^ f.syncWord) & f.syncMask)
		if off == 0 && dist == 0 {
			return 0, false
		}
		if dist < best {
			best, offset, inverted = dist, off, false
		}
		if inv := n - dist; inv < best {
			best, offset, inverted = inv, off, true
		}
	}
	return offset, inverted
}

// readByte returns the 8 bits of src starting at bit offset off.
func readByte(src []byte, off int) byte {
	i, s := off/8, uint(off%8)
	if s == 0 {
		return src[i]
	}
	return src[i]<<s | src[i+1]>>(8-s)
}

// bitcopy copies n bytes from src starting at bit offset off into dst.
// dst may alias the start of src.
func bitcopy(dst, src []byte, off, n int) {
	for i := 0; i < n; i++ {
		dst[i] = readByte(src, off+8*i)
	}
}
