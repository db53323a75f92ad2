// Package metrics exposes framer and decoder counters to Prometheus.
//
// Pipeline counters are read from the components' snapshots at scrape time;
// per-sonde gauges are updated from every decoded record.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"radiosonde-ng/internal/framer"
	"radiosonde-ng/internal/rs41"
)

const namespace = "radiosonde"

// Sources are the snapshot functions read on every scrape. Queue may be nil.
type Sources struct {
	Framer  func() framer.Snapshot
	Decoder func() rs41.Snapshot
	Queue   func() int
}

type Metrics struct {
	reg *prometheus.Registry

	records    *prometheus.CounterVec
	altitude   *prometheus.GaugeVec
	latitude   *prometheus.GaugeVec
	longitude  *prometheus.GaugeVec
	climb      *prometheus.GaugeVec
	battery    *prometheus.GaugeVec
	satellites *prometheus.GaugeVec
	burstKill  *prometheus.GaugeVec
	lastSeen   *prometheus.GaugeVec
}

func New(src Sources) (*Metrics, error) {
	if src.Framer == nil || src.Decoder == nil {
		return nil, errors.New("metrics framer and decoder sources are required")
	}

	reg := prometheus.NewRegistry()
	m := &Metrics{reg: reg}

	counter := func(name, help string, get func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, get)
	}
	gauge := func(name, help string, get func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, get)
	}
	sondeGauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sonde",
			Name:      name,
			Help:      help,
		}, []string{"serial"})
	}

	collectors := []prometheus.Collector{
		counter("framer_bytes_total", "Bytes consumed by the bit framer.", func() float64 {
			return float64(src.Framer().BytesIn)
		}),
		counter("framer_frames_total", "Frames emitted by the bit framer.", func() float64 {
			return float64(src.Framer().Frames)
		}),
		counter("framer_inverted_frames_total", "Frames whose sync word was found inverted.", func() float64 {
			return float64(src.Framer().InvertedFrames)
		}),
		counter("framer_rebinds_total", "Input source rebinds.", func() float64 {
			return float64(src.Framer().Rebinds)
		}),
		counter("decoder_frames_total", "Frames processed by the decoder.", func() float64 {
			return float64(src.Decoder().Frames)
		}),
		counter("decoder_extended_frames_total", "Frames with extended data.", func() float64 {
			return float64(src.Decoder().ExtendedFrames)
		}),
		counter("decoder_short_frames_total", "Frames too short to decode.", func() float64 {
			return float64(src.Decoder().ShortFrames)
		}),
		counter("decoder_fec_failed_blocks_total", "Reed-Solomon blocks that could not be corrected.", func() float64 {
			return float64(src.Decoder().FECFailedBlocks)
		}),
		counter("decoder_corrected_symbols_total", "Symbols corrected by Reed-Solomon.", func() float64 {
			return float64(src.Decoder().CorrectedSymbols)
		}),
		counter("decoder_subframes_total", "Subframes that passed the CRC check.", func() float64 {
			return float64(src.Decoder().Subframes)
		}),
		counter("decoder_crc_errors_total", "Subframes rejected by the CRC check.", func() float64 {
			return float64(src.Decoder().CRCErrors)
		}),
		counter("decoder_truncated_total", "Frames whose last subframe ran past the data region.", func() float64 {
			return float64(src.Decoder().Truncated)
		}),
		gauge("decoder_calibration_fragments", "Distinct calibration fragments received.", func() float64 {
			return float64(src.Decoder().CalibFragments)
		}),
	}
	if src.Queue != nil {
		collectors = append(collectors, gauge("stream_queued_frames", "Frames waiting between framer and decoder.", func() float64 {
			return float64(src.Queue())
		}))
	}

	m.records = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sonde",
		Name:      "records_total",
		Help:      "Telemetry records carrying a status subframe.",
	}, []string{"serial"})
	m.altitude = sondeGauge("altitude_meters", "Altitude above the WGS84 ellipsoid.")
	m.latitude = sondeGauge("latitude_degrees", "Latitude.")
	m.longitude = sondeGauge("longitude_degrees", "Longitude.")
	m.climb = sondeGauge("climb_meters_per_second", "Vertical speed, positive up.")
	m.battery = sondeGauge("battery_volts", "Battery voltage.")
	m.satellites = sondeGauge("satellites", "GPS satellites in use.")
	m.burstKill = sondeGauge("burst_kill_seconds", "Burst-kill countdown, -1 when disabled.")
	m.lastSeen = sondeGauge("last_seen_timestamp_seconds", "Unix time of the last record.")

	collectors = append(collectors, m.records, m.altitude, m.latitude, m.longitude,
		m.climb, m.battery, m.satellites, m.burstKill, m.lastSeen)
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe updates the per-sonde gauges. Records without a serial number
// cannot be attributed and are ignored.
func (m *Metrics) Observe(now time.Time, d *rs41.SondeData) {
	if m == nil || d == nil || d.Serial == "" {
		return
	}
	s := d.Serial
	m.records.WithLabelValues(s).Inc()
	m.lastSeen.WithLabelValues(s).Set(float64(now.UnixNano()) / 1e9)
	m.battery.WithLabelValues(s).Set(d.BatteryVoltage)
	m.burstKill.WithLabelValues(s).Set(float64(d.BurstKill))
	if d.HasPosition {
		m.altitude.WithLabelValues(s).Set(d.Alt)
		m.latitude.WithLabelValues(s).Set(d.Lat)
		m.longitude.WithLabelValues(s).Set(d.Lon)
		m.climb.WithLabelValues(s).Set(d.Climb)
		m.satellites.WithLabelValues(s).Set(float64(d.Satellites))
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
