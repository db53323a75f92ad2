package rs41

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/spatial/r3"

	"radiosonde-ng/internal/geo"
	"radiosonde-ng/internal/reedsolomon"
)

// ErrNoInput is returned by Run when no frame source is bound.
var ErrNoInput = errors.New("rs41: no input bound")

// FrameSource yields aligned frames. Read blocks until a frame is available
// and returns io.EOF once the source is exhausted.
type FrameSource interface {
	Read(ctx context.Context) ([]byte, error)
}

// Report describes what the decoder did with one frame.
//
// FECOK is informational only: frames whose Reed-Solomon blocks could not be
// corrected are still walked, and the per-subframe CRC decides what is used.
type Report struct {
	Extended  bool
	Short     bool
	FECOK     bool
	Corrected int
	Subframes int
	CRCErrors int
	Truncated bool
}

// Snapshot is a point-in-time view of decoder counters.
type Snapshot struct {
	Frames           uint64 `json:"frames"`
	ExtendedFrames   uint64 `json:"extended_frames"`
	ShortFrames      uint64 `json:"short_frames"`
	FECFailedBlocks  uint64 `json:"fec_failed_blocks"`
	CorrectedSymbols uint64 `json:"corrected_symbols"`
	Subframes        uint64 `json:"subframes"`
	CRCErrors        uint64 `json:"crc_errors"`
	Truncated        uint64 `json:"truncated"`
	CalibFragments   int    `json:"calib_fragments"`
	Calibrated       bool   `json:"calibrated"`
}

// Decoder turns aligned frames into telemetry records. Calibration state
// persists across frames and is owned by the decoder; Decode and Run must
// not be used concurrently on the same Decoder.
type Decoder struct {
	handler Handler
	rs      *reedsolomon.Codec
	calib   *Calibration
	buf     [MaxFrameLen]byte

	mu  sync.Mutex
	src FrameSource
	gen uint64

	frames           atomic.Uint64
	extendedFrames   atomic.Uint64
	shortFrames      atomic.Uint64
	fecFailedBlocks  atomic.Uint64
	correctedSymbols atomic.Uint64
	subframes        atomic.Uint64
	crcErrors        atomic.Uint64
	truncated        atomic.Uint64
	calibFragments   atomic.Int64
	calibrated       atomic.Bool
}

func NewDecoder(handler Handler) (*Decoder, error) {
	if handler == nil {
		return nil, fmt.Errorf("rs41 decoder handler is nil")
	}
	rs, err := newCodec()
	if err != nil {
		return nil, err
	}
	return &Decoder{handler: handler, rs: rs, calib: NewCalibration()}, nil
}

// SetInput detaches the current frame source and binds src. A Run blocked
// on the old source drops whatever that read returns.
func (d *Decoder) SetInput(src FrameSource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.src = src
	d.gen++
}

// Run decodes frames from the bound source until it is exhausted or ctx is
// done. It returns nil on io.EOF and on cancellation.
func (d *Decoder) Run(ctx context.Context) error {
	if d == nil {
		return errors.New("rs41 decoder is nil")
	}
	for {
		d.mu.Lock()
		src, gen := d.src, d.gen
		d.mu.Unlock()
		if src == nil {
			return ErrNoInput
		}

		frame, err := src.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		d.mu.Lock()
		if gen == d.gen {
			d.decodeLocked(frame)
		}
		d.mu.Unlock()
	}
}

// Decode processes one aligned frame and invokes the handler exactly once.
// The input is not modified.
func (d *Decoder) Decode(frame []byte) Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.decodeLocked(frame)
}

func (d *Decoder) Snapshot() Snapshot {
	return Snapshot{
		Frames:           d.frames.Load(),
		ExtendedFrames:   d.extendedFrames.Load(),
		ShortFrames:      d.shortFrames.Load(),
		FECFailedBlocks:  d.fecFailedBlocks.Load(),
		CorrectedSymbols: d.correctedSymbols.Load(),
		Subframes:        d.subframes.Load(),
		CRCErrors:        d.crcErrors.Load(),
		Truncated:        d.truncated.Load(),
		CalibFragments:   int(d.calibFragments.Load()),
		Calibrated:       d.calibrated.Load(),
	}
}

func (d *Decoder) decodeLocked(frame []byte) Report {
	var data SondeData
	var rep Report
	d.frames.Add(1)

	if len(frame) < FrameLen {
		rep.Short = true
		d.shortFrames.Add(1)
		d.handler(&data)
		return rep
	}

	work := d.buf[:]
	clear(work)
	copy(work, frame)
	Descramble(work)

	// Extended layout needs the full frame; a truncated buffer is read as normal.
	rep.Extended = work[flagOffset] == FlagExtended && len(frame) >= ExtFrameLen
	fec := correct(d.rs, work, rep.Extended)
	rep.Corrected = fec.corrected
	rep.FECOK = fec.failedBlocks == 0
	d.correctedSymbols.Add(uint64(fec.corrected))
	d.fecFailedBlocks.Add(uint64(fec.failedBlocks))

	regionLen := DataLen
	if work[flagOffset] == FlagExtended && len(frame) >= ExtFrameLen {
		regionLen += XDataLen
		d.extendedFrames.Add(1)
	}
	region := work[dataOffset : dataOffset+regionLen]

	res := walkSubframes(region, func(sf Subframe) {
		d.apply(&data, sf)
	})
	rep.Subframes = res.accepted
	rep.CRCErrors = res.crcErrors
	rep.Truncated = res.truncated
	d.subframes.Add(uint64(res.accepted))
	d.crcErrors.Add(uint64(res.crcErrors))
	if res.truncated {
		d.truncated.Add(1)
	}

	d.handler(&data)
	return rep
}

func (d *Decoder) apply(data *SondeData, sf Subframe) {
	switch sf.Type {
	case SubframeStatus:
		st, ok := parseStatus(sf.Payload)
		if !ok {
			return
		}
		d.mergeCalibration(st)

		data.HasStatus = true
		data.Calibrated = d.calib.Complete()
		data.Serial = st.Serial
		data.Seq = int(st.Seq)
		data.BatteryVoltage = float64(st.Battery) / 10
		if bk, ok := d.calib.BurstKill(); ok {
			data.BurstKill = bk
		}

	case SubframePTU:
		// Sensor conversion needs the calibration polynomials; not decoded.

	case SubframeGPSPos:
		g, ok := parseGPSPosition(sf.Payload)
		if !ok {
			return
		}
		pos := r3.Vec{X: float64(g.X) / 100, Y: float64(g.Y) / 100, Z: float64(g.Z) / 100}
		vel := r3.Vec{X: float64(g.VX) / 100, Y: float64(g.VY) / 100, Z: float64(g.VZ) / 100}
		data.Lat, data.Lon, data.Alt = geo.ECEFToLLA(pos)
		data.Speed, data.Heading, data.Climb = geo.ECEFToSpeedHeading(data.Lat, data.Lon, vel)
		data.Satellites = int(g.Sats)
		data.HasPosition = true

	case SubframeGPSInfo:
		// GPS week and time of week; not decoded.

	case SubframeXData:
		// Auxiliary instrument payload; not decoded.

	case SubframeGPSRaw, SubframeEmpty:
		// Nothing to extract.

	default:
	}
}

func (d *Decoder) mergeCalibration(st Status) {
	done, err := d.calib.Merge(int(st.FragSeq), st.Fragment[:])
	if err != nil {
		return
	}
	d.calibFragments.Store(int64(d.calib.Received()))
	if done {
		d.calibrated.Store(true)
	}
}
