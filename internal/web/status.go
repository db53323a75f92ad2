package web

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"radiosonde-ng/internal/geo"
	"radiosonde-ng/internal/rs41"
)

// Observer returns the receiver position, ok=false when unknown.
type Observer func() (latDeg, lonDeg, altM float64, ok bool)

// Status collects what /api/status reports: static run info, component
// snapshots read on demand, and the latest record of every sonde heard.
type Status struct {
	startUnixNano int64
	mode          atomic.Value // string
	input         atomic.Value // string

	mu         sync.RWMutex
	observer   Observer
	components map[string]func() any
	sondes     map[string]*sondeEntry
}

type sondeEntry struct {
	records  uint64
	lastSeen time.Time
	last     rs41.SondeData

	hasPos        bool
	lat, lon, alt float64
}

func NewStatus() *Status {
	s := &Status{
		components: map[string]func() any{},
		sondes:     map[string]*sondeEntry{},
	}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.mode.Store("")
	s.input.Store("")
	return s
}

func (s *Status) SetStatic(mode string, input string) {
	if mode != "" {
		s.mode.Store(mode)
	}
	if input != "" {
		s.input.Store(input)
	}
}

// SetObserver enables look angles from the receiver to each sonde.
func (s *Status) SetObserver(obs Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = obs
}

// SetComponent registers a snapshot function reported under name.
func (s *Status) SetComponent(name string, snapshot func() any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snapshot == nil {
		delete(s.components, name)
		return
	}
	s.components[name] = snapshot
}

// Observe stores d as the latest record for its serial. Records without a
// serial are not tracked.
func (s *Status) Observe(nowUTC time.Time, d *rs41.SondeData) {
	if d == nil || d.Serial == "" {
		return
	}
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.sondes[d.Serial]
	if e == nil {
		e = &sondeEntry{}
		s.sondes[d.Serial] = e
	}
	e.records++
	e.lastSeen = nowUTC
	e.last = *d
	if d.HasPosition {
		e.hasPos = true
		e.lat, e.lon, e.alt = d.Lat, d.Lon, d.Alt
	}
}

type SondeSnapshot struct {
	Serial      string         `json:"serial"`
	Records     uint64         `json:"records"`
	LastSeenUTC string         `json:"last_seen_utc"`
	Last        rs41.SondeData `json:"last"`

	// Look angles from the receiver, set when both positions are known.
	AzimuthDeg   *float64 `json:"azimuth_deg,omitempty"`
	ElevationDeg *float64 `json:"elevation_deg,omitempty"`
	RangeM       *float64 `json:"range_m,omitempty"`
}

type StatusSnapshot struct {
	Service    string          `json:"service"`
	NowUTC     string          `json:"now_utc"`
	UptimeSec  int64           `json:"uptime_sec"`
	Mode       string          `json:"mode"`
	Input      string          `json:"input"`
	Components map[string]any  `json:"components"`
	Sondes     []SondeSnapshot `json:"sondes"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	snap := StatusSnapshot{
		Service:    "radiosonde-ng",
		NowUTC:     nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:  int64(nowUTC.Sub(start).Seconds()),
		Mode:       s.mode.Load().(string),
		Input:      s.input.Load().(string),
		Components: map[string]any{},
		Sondes:     []SondeSnapshot{},
	}

	s.mu.RLock()
	fns := make(map[string]func() any, len(s.components))
	for name, fn := range s.components {
		fns[name] = fn
	}
	obs := s.observer
	type located struct {
		idx           int
		lat, lon, alt float64
	}
	var positions []located
	for serial, e := range s.sondes {
		snap.Sondes = append(snap.Sondes, SondeSnapshot{
			Serial:      serial,
			Records:     e.records,
			LastSeenUTC: e.lastSeen.UTC().Format(time.RFC3339Nano),
			Last:        e.last,
		})
		if e.hasPos {
			positions = append(positions, located{len(snap.Sondes) - 1, e.lat, e.lon, e.alt})
		}
	}
	s.mu.RUnlock()

	if obs != nil && len(positions) > 0 {
		if lat, lon, alt, ok := obs(); ok {
			for _, p := range positions {
				az, el, rng := geo.LookAngles(lat, lon, alt, p.lat, p.lon, p.alt)
				ss := &snap.Sondes[p.idx]
				ss.AzimuthDeg, ss.ElevationDeg, ss.RangeM = &az, &el, &rng
			}
		}
	}

	// Component snapshots may take their own locks; call them unlocked.
	for name, fn := range fns {
		snap.Components[name] = fn()
	}
	sort.Slice(snap.Sondes, func(i, j int) bool { return snap.Sondes[i].Serial < snap.Sondes[j].Serial })
	return snap
}
