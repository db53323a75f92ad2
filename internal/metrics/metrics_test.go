package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"radiosonde-ng/internal/framer"
	"radiosonde-ng/internal/rs41"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	ts := httptest.NewServer(m.Handler())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func requireLine(t *testing.T, body, line string) {
	t.Helper()
	for _, l := range strings.Split(body, "\n") {
		if l == line {
			return
		}
	}
	t.Fatalf("missing line %q in:\n%s", line, body)
}

func TestMetrics_ReadsSnapshotsAtScrape(t *testing.T) {
	fs := framer.Snapshot{BytesIn: 4096, Frames: 3, InvertedFrames: 1, Rebinds: 2}
	ds := rs41.Snapshot{Frames: 3, CRCErrors: 5, CorrectedSymbols: 7, CalibFragments: 12}
	queued := 2

	m, err := New(Sources{
		Framer:  func() framer.Snapshot { return fs },
		Decoder: func() rs41.Snapshot { return ds },
		Queue:   func() int { return queued },
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	body := scrape(t, m)
	requireLine(t, body, "radiosonde_framer_bytes_total 4096")
	requireLine(t, body, "radiosonde_framer_frames_total 3")
	requireLine(t, body, "radiosonde_framer_inverted_frames_total 1")
	requireLine(t, body, "radiosonde_decoder_crc_errors_total 5")
	requireLine(t, body, "radiosonde_decoder_corrected_symbols_total 7")
	requireLine(t, body, "radiosonde_decoder_calibration_fragments 12")
	requireLine(t, body, "radiosonde_stream_queued_frames 2")

	fs.Frames = 10
	requireLine(t, scrape(t, m), "radiosonde_framer_frames_total 10")
}

func TestMetrics_ObservePerSonde(t *testing.T) {
	m, err := New(Sources{
		Framer:  func() framer.Snapshot { return framer.Snapshot{} },
		Decoder: func() rs41.Snapshot { return rs41.Snapshot{} },
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	now := time.Unix(1700000000, 0)
	m.Observe(now, &rs41.SondeData{Serial: "S1234567", BurstKill: -1, BatteryVoltage: 2.5})
	m.Observe(now, &rs41.SondeData{Serial: "S1234567", BurstKill: -1, HasPosition: true, Alt: 1500, Satellites: 9})
	// No serial: not attributable.
	m.Observe(now, &rs41.SondeData{HasPosition: true, Alt: 99})

	body := scrape(t, m)
	requireLine(t, body, `radiosonde_sonde_records_total{serial="S1234567"} 2`)
	requireLine(t, body, `radiosonde_sonde_altitude_meters{serial="S1234567"} 1500`)
	requireLine(t, body, `radiosonde_sonde_satellites{serial="S1234567"} 9`)
	requireLine(t, body, `radiosonde_sonde_burst_kill_seconds{serial="S1234567"} -1`)
	requireLine(t, body, `radiosonde_sonde_last_seen_timestamp_seconds{serial="S1234567"} 1.7e+09`)
	if strings.Contains(body, "radiosonde_stream_queued_frames") {
		t.Fatalf("queue gauge registered without a source")
	}
}

func TestNew_RequiresSources(t *testing.T) {
	if _, err := New(Sources{}); err == nil {
		t.Fatalf("expected error")
	}
}
