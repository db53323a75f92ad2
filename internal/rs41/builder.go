package rs41

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"radiosonde-ng/internal/reedsolomon"
)

// FrameBuilder assembles on-air RS41 frames: subframes are appended to the
// data region, then parity is computed, the frame is scrambled, and the sync
// word is written in front. It is used by the flight simulator and by tests.
type FrameBuilder struct {
	rs       *reedsolomon.Codec
	extended bool
	data     []byte
}

func NewFrameBuilder(extended bool) (*FrameBuilder, error) {
	rs, err := newCodec()
	if err != nil {
		return nil, err
	}
	return &FrameBuilder{rs: rs, extended: extended}, nil
}

func (b *FrameBuilder) regionLen() int {
	if b.extended {
		return DataLen + XDataLen
	}
	return DataLen
}

// Reset discards appended subframes.
func (b *FrameBuilder) Reset() { b.data = b.data[:0] }

// AddSubframe appends a raw subframe with a valid CRC.
func (b *FrameBuilder) AddSubframe(typ byte, payload []byte) error {
	if len(b.data)+len(payload)+subframeOverhead > b.regionLen() {
		return fmt.Errorf("subframe 0x%02x does not fit: %d bytes left", typ, b.regionLen()-len(b.data))
	}
	out, err := appendSubframe(b.data, typ, payload)
	if err != nil {
		return err
	}
	b.data = out
	return nil
}

func (b *FrameBuilder) AddStatus(s Status) error {
	return b.AddSubframe(SubframeStatus, s.encode())
}

// AddGPSPosition appends a GPS position subframe from an ECEF position (m)
// and velocity (m/s).
func (b *FrameBuilder) AddGPSPosition(pos, vel r3.Vec, sats uint8) error {
	g := GPSPosition{
		X:    int32(math.Round(pos.X * 100)),
		Y:    int32(math.Round(pos.Y * 100)),
		Z:    int32(math.Round(pos.Z * 100)),
		VX:   int16(math.Round(vel.X * 100)),
		VY:   int16(math.Round(vel.Y * 100)),
		VZ:   int16(math.Round(vel.Z * 100)),
		Sats: sats,
	}
	return b.AddSubframe(SubframeGPSPos, g.encode())
}

// Frame returns the finished on-air frame: FrameLen bytes, or ExtFrameLen
// for extended frames. Unused data space is filled with an empty subframe.
func (b *FrameBuilder) Frame() ([]byte, error) {
	size := FrameLen
	flag := FlagNormal
	if b.extended {
		size = ExtFrameLen
		flag = FlagExtended
	}

	frame := make([]byte, size)
	frame[flagOffset] = flag
	region := frame[dataOffset : dataOffset+b.regionLen()]
	n := copy(region, b.data)
	if err := pad(region[n:]); err != nil {
		return nil, err
	}

	if err := encodeParity(b.rs, frame, b.extended); err != nil {
		return nil, err
	}
	Scramble(frame)
	for i := 0; i < syncLen; i++ {
		frame[i] = byte(SyncWord >> uint(56-8*i))
	}
	return frame, nil
}

// pad fills space with empty subframes. Fewer than subframeOverhead bytes
// cannot hold a subframe and are left zero.
func pad(space []byte) error {
	var out []byte
	left := len(space)
	for left >= subframeOverhead {
		n := min(left-subframeOverhead, 0xFF)
		// Keep the remainder usable by the next empty subframe.
		if rest := left - n - subframeOverhead; rest > 0 && rest < subframeOverhead {
			n -= subframeOverhead
		}
		var err error
		out, err = appendSubframe(out, SubframeEmpty, make([]byte, n))
		if err != nil {
			return err
		}
		left -= n + subframeOverhead
	}
	copy(space, out)
	return nil
}
