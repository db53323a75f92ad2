package sim

import (
	"fmt"
	"io"
	"math/rand"
	"time"

	"radiosonde-ng/internal/geo"
	"radiosonde-ng/internal/rs41"
)

// FrameInterval is the time between two RS41 frames.
const FrameInterval = time.Second

// Generator renders a Flight as on-air RS41 frames, one per second. The
// calibration block is sent one fragment per frame, cycling forever.
type Generator struct {
	flight Flight
	calib  []byte
	b      *rs41.FrameBuilder
}

func NewGenerator(f Flight) (*Generator, error) {
	if err := f.Normalize(); err != nil {
		return nil, err
	}
	b, err := rs41.NewFrameBuilder(f.Extended)
	if err != nil {
		return nil, err
	}

	calib := make([]byte, rs41.CalibLen)
	for i := range calib {
		calib[i] = byte(i*7) ^ f.Serial[i%len(f.Serial)]
	}
	bk := -1
	if f.BurstKill > 0 {
		bk = int(f.BurstKill / time.Second)
	}
	if err := rs41.SetBurstKill(calib, bk); err != nil {
		return nil, err
	}
	if err := rs41.SetFrequencyKHz(calib, f.FrequencyKHz); err != nil {
		return nil, err
	}
	return &Generator{flight: f, calib: calib, b: b}, nil
}

func (g *Generator) Flight() Flight { return g.flight }

// Frame returns frame n (sent n seconds after launch) and the state it encodes.
func (g *Generator) Frame(n int) ([]byte, State, error) {
	st := g.flight.StateAt(time.Duration(n) * FrameInterval)

	frag := n % rs41.CalibFragments
	status := rs41.Status{
		Seq:     uint16(n),
		Serial:  g.flight.Serial,
		Battery: batteryAt(n),
		FragSeq: byte(frag),
	}
	copy(status.Fragment[:], g.calib[frag*rs41.CalibFragmentLen:])

	g.b.Reset()
	if err := g.b.AddStatus(status); err != nil {
		return nil, st, err
	}
	pos := geo.LLAToECEF(st.LatDeg, st.LonDeg, st.AltM)
	vel := geo.ENUToECEF(st.LatDeg, st.LonDeg, st.East, st.North, st.Up)
	if err := g.b.AddGPSPosition(pos, vel, 10); err != nil {
		return nil, st, err
	}
	if g.flight.Extended {
		// Stand-in for an auxiliary instrument payload.
		aux := make([]byte, 20)
		for i := range aux {
			aux[i] = byte(n + i)
		}
		if err := g.b.AddSubframe(rs41.SubframeXData, aux); err != nil {
			return nil, st, err
		}
	}
	frame, err := g.b.Frame()
	return frame, st, err
}

// batteryAt drains from 3.0 V by 0.1 V per hour, down to 2.0 V.
func batteryAt(n int) byte {
	v := 30 - n/3600
	if v < 20 {
		v = 20
	}
	return byte(v)
}

type StreamOptions struct {
	Frames int
	// Start is the first frame number.
	Start int
	// Unpacked writes one bit per byte instead of packed bytes.
	Unpacked bool
	// Seed drives the noise written between frames.
	Seed int64
}

// WriteStream writes frames as a receiver would deliver them: random noise
// before each frame, long enough that a full-length window never spans two
// frames.
func (g *Generator) WriteStream(w io.Writer, opts StreamOptions) error {
	if opts.Frames <= 0 {
		return fmt.Errorf("stream frames must be > 0")
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	gapMin := rs41.MaxFrameLen - rs41.FrameLen

	var out []byte
	for i := 0; i < opts.Frames; i++ {
		frame, _, err := g.Frame(opts.Start + i)
		if err != nil {
			return err
		}
		noise := make([]byte, gapMin+rng.Intn(64))
		rng.Read(noise)

		out = append(out[:0], noise...)
		out = append(out, frame...)
		if i == opts.Frames-1 {
			// The framer emits full-length windows; pad the last one.
			tail := make([]byte, gapMin)
			rng.Read(tail)
			out = append(out, tail...)
		}
		if opts.Unpacked {
			out = unpackBits(out)
		}
		if _, err := w.Write(out); err != nil {
			return err
		}
	}
	return nil
}

func unpackBits(p []byte) []byte {
	out := make([]byte, 0, 8*len(p))
	for _, b := range p {
		for i := 7; i >= 0; i-- {
			out = append(out, (b>>uint(i))&1)
		}
	}
	return out
}
