package web

import (
	"math"
	"testing"
	"time"

	"radiosonde-ng/internal/rs41"
)

func TestStatus_LookAngles(t *testing.T) {
	s := NewStatus()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Observe(now, &rs41.SondeData{Serial: "S1000001", HasStatus: true, HasPosition: true, Lat: 48.1, Lon: 11.5, Alt: 1500})
	s.Observe(now, &rs41.SondeData{Serial: "S1000001", HasStatus: true})
	s.Observe(now, &rs41.SondeData{Serial: "S1000002", HasStatus: true})

	snap := s.Snapshot(now)
	if len(snap.Sondes) != 2 || snap.Sondes[0].AzimuthDeg != nil {
		t.Fatalf("angles without observer: %+v", snap.Sondes)
	}

	s.SetObserver(func() (float64, float64, float64, bool) { return 48.1, 11.5, 500, true })
	snap = s.Snapshot(now)
	overhead := snap.Sondes[0]
	if overhead.Serial != "S1000001" || overhead.Records != 2 || overhead.ElevationDeg == nil {
		t.Fatalf("sonde=%+v", overhead)
	}
	if *overhead.ElevationDeg < 89.99 || math.Abs(*overhead.RangeM-1000) > 1e-3 {
		t.Fatalf("elevation=%v range=%v", *overhead.ElevationDeg, *overhead.RangeM)
	}
	if snap.Sondes[1].RangeM != nil {
		t.Fatalf("sonde without position got angles: %+v", snap.Sondes[1])
	}

	s.SetObserver(func() (float64, float64, float64, bool) { return 0, 0, 0, false })
	if snap = s.Snapshot(now); snap.Sondes[0].RangeM != nil {
		t.Fatalf("angles without a receiver fix: %+v", snap.Sondes[0])
	}
}
