package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"radiosonde-ng/internal/config"
	"radiosonde-ng/internal/history"
	"radiosonde-ng/internal/replay"
	"radiosonde-ng/internal/sim"
)

type instantSleeper struct{}

func (instantSleeper) Sleep(ctx context.Context, d time.Duration) bool { return ctx.Err() == nil }

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func writeSimStream(t *testing.T, dir string, frames int) string {
	t.Helper()
	g, err := sim.NewGenerator(sim.Flight{
		Serial:       "R1234567",
		LaunchLatDeg: 48.1,
		LaunchLonDeg: 11.5,
		LaunchAltM:   500,
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	var buf bytes.Buffer
	if err := g.WriteStream(&buf, sim.StreamOptions{Frames: frames, Seed: 1}); err != nil {
		t.Fatalf("WriteStream: %v", err)
	}
	path := filepath.Join(dir, "stream.bin")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func parseCfg(t *testing.T, doc string) config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("config.Parse: %v", err)
	}
	return cfg
}

func runToEnd(t *testing.T, cfg config.Config) *liveRuntime {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rt, err := newRuntime(ctx, cfg, runtimeDeps{
		Now:     func() time.Time { return fixedNow },
		Sleeper: instantSleeper{},
	})
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	if err := rt.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("Run did not finish before the deadline")
	}
	rt.Close()
	return rt
}

func sondeRecords(t *testing.T, rt *liveRuntime, serial string) uint64 {
	t.Helper()
	for _, s := range rt.status.Snapshot(fixedNow).Sondes {
		if s.Serial == serial {
			return s.Records
		}
	}
	return 0
}

func TestRuntime_FileInputToSinksThenReplay(t *testing.T) {
	const frames = 6
	dir := t.TempDir()
	in := writeSimStream(t, dir, frames)
	csvPath := filepath.Join(dir, "ptu.csv")
	logPath := filepath.Join(dir, "frames.log")
	ln, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer ln.Close()

	live := runToEnd(t, parseCfg(t, fmt.Sprintf(`
input:
  source: file
  path: %s
output:
  csv_path: %s
  udp_dest: %s
  record:
    enable: true
    path: %s
`, in, csvPath, ln.LocalAddr().String(), logPath)))

	_ = ln.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	for i := 0; i < frames; i++ {
		n, _, err := ln.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("datagram %d: %v", i, err)
		}
		if !strings.Contains(string(buf[:n]), `"serial":"R1234567"`) {
			t.Fatalf("datagram %d=%s", i, buf[:n])
		}
	}

	if got := sondeRecords(t, live, "R1234567"); got != frames {
		t.Fatalf("status records=%d want %d", got, frames)
	}
	if fs := live.framer.Snapshot(); fs.Frames != frames {
		t.Fatalf("framer frames=%d want %d", fs.Frames, frames)
	}
	if snap := live.status.Snapshot(fixedNow); snap.Mode != "live" || snap.Input != "file:"+in {
		t.Fatalf("status mode=%q input=%q", snap.Mode, snap.Input)
	}

	csv, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(csv)), "\n")
	if len(lines) != frames+1 {
		t.Fatalf("csv lines=%d want %d:\n%s", len(lines), frames+1, csv)
	}
	if !strings.HasPrefix(lines[1], fmt.Sprintf("%d,0.0,0.0,0.0,0.0,", fixedNow.Unix())) {
		t.Fatalf("csv line=%q", lines[1])
	}

	recs, err := replay.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	n := 0
	for _, r := range recs {
		if r.Frame != nil {
			n++
		}
	}
	if n != frames {
		t.Fatalf("recorded frames=%d want %d", n, frames)
	}

	replayed := runToEnd(t, parseCfg(t, fmt.Sprintf(`
output:
  replay:
    enable: true
    path: %s
    speed: 50
`, logPath)))
	if got := sondeRecords(t, replayed, "R1234567"); got != frames {
		t.Fatalf("replayed records=%d want %d", got, frames)
	}
	if snap := replayed.status.Snapshot(fixedNow); snap.Mode != "replay" {
		t.Fatalf("replay mode=%q", snap.Mode)
	}

	var out bytes.Buffer
	if err := printLogSummary(&out, logPath); err != nil {
		t.Fatalf("printLogSummary: %v", err)
	}
	for _, want := range []string{
		fmt.Sprintf("frames: %d\n", frames),
		"segments: 1\n",
		"invalid_frames: 0\n",
		fmt.Sprintf("  R1234567: %d\n", frames),
	} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("summary missing %q:\n%s", want, out.String())
		}
	}
}

func TestRuntime_StdinUnpackedInput(t *testing.T) {
	g, err := sim.NewGenerator(sim.Flight{Serial: "U0000001"})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	var buf bytes.Buffer
	if err := g.WriteStream(&buf, sim.StreamOptions{Frames: 3, Unpacked: true, Seed: 4}); err != nil {
		t.Fatalf("WriteStream: %v", err)
	}

	cfg := parseCfg(t, `
input:
  source: stdin
  bit_packed: false
framer:
  queue_frames: 1
`)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rt, err := newRuntime(ctx, cfg, runtimeDeps{Stdin: &buf, Now: func() time.Time { return fixedNow }})
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	defer rt.Close()
	if err := rt.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := sondeRecords(t, rt, "U0000001"); got != 3 {
		t.Fatalf("records=%d want 3", got)
	}
	if snap := rt.status.Snapshot(fixedNow); snap.Input != "stdin" {
		t.Fatalf("input=%q", snap.Input)
	}
}

func TestRuntime_MissingInputFails(t *testing.T) {
	cfg := parseCfg(t, "input:\n  path: /nonexistent/stream.bin\n")
	rt, err := newRuntime(context.Background(), cfg, runtimeDeps{})
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	defer rt.Close()
	if err := rt.Run(context.Background()); err == nil {
		t.Fatalf("expected open error")
	}
}

func TestSummarizeFrameLog_CountsInvalidAndSegments(t *testing.T) {
	g, err := sim.NewGenerator(sim.Flight{Serial: "L0000001", Extended: true})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	f0, _, err := g.Frame(0)
	if err != nil {
		t.Fatal(err)
	}
	f1, _, err := g.Frame(1)
	if err != nil {
		t.Fatal(err)
	}

	recs := []replay.Record{
		{At: 0},
		{At: 0, Frame: f0},
		{At: 400 * time.Millisecond, Frame: []byte{0x01, 0x02}},
		{At: 5 * time.Second},
		{At: 7 * time.Second, Frame: f1},
	}
	s, err := summarizeFrameLog(recs)
	if err != nil {
		t.Fatalf("summarizeFrameLog: %v", err)
	}
	if s.Segments != 2 || s.Frames != 3 || s.Invalid != 1 || s.Extended != 2 {
		t.Fatalf("summary=%+v", s)
	}
	if s.MaxDuration != 2*time.Second {
		t.Fatalf("max duration=%s", s.MaxDuration)
	}
	if s.Serials["L0000001"] != 2 {
		t.Fatalf("serials=%v", s.Serials)
	}
}

func TestRuntime_CommandInput(t *testing.T) {
	cat, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available")
	}
	in := writeSimStream(t, t.TempDir(), 4)
	rt := runToEnd(t, parseCfg(t, fmt.Sprintf(`
input:
  source: command
  command: %s
  args: [%q]
`, cat, in)))
	if got := sondeRecords(t, rt, "R1234567"); got != 4 {
		t.Fatalf("records=%d want 4", got)
	}
	if snap := rt.command.Snapshot(); snap.Starts != 1 || snap.State != "stopped" {
		t.Fatalf("command snapshot=%+v", snap)
	}
}

func TestRuntime_StationLookAnglesAndHistory(t *testing.T) {
	dir := t.TempDir()
	in := writeSimStream(t, dir, 3)
	dbPath := filepath.Join(dir, "history.db")

	rt := runToEnd(t, parseCfg(t, fmt.Sprintf(`
input:
  source: file
  path: %s
output:
  history:
    enable: true
    path: %s
station:
  enable: true
  lat: 48.1
  lon: 11.5
  alt: 0
`, in, dbPath)))

	snap := rt.status.Snapshot(fixedNow)
	if len(snap.Sondes) != 1 {
		t.Fatalf("sondes=%+v", snap.Sondes)
	}
	s := snap.Sondes[0]
	if s.ElevationDeg == nil || s.RangeM == nil || s.AzimuthDeg == nil {
		t.Fatalf("missing look angles: %+v", s)
	}
	if *s.ElevationDeg <= 0 || *s.RangeM < 500 {
		t.Fatalf("elevation=%v range=%v", *s.ElevationDeg, *s.RangeM)
	}
	if _, ok := snap.Components["station"]; !ok {
		t.Fatalf("station component missing: %v", snap.Components)
	}

	store, err := history.Open(history.Config{Path: dbPath}, nil)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	defer store.Close()
	sondes, err := store.Sondes()
	if err != nil || len(sondes) != 1 || sondes[0].Serial != "R1234567" || sondes[0].Points != 3 {
		t.Fatalf("history sondes=%+v err=%v", sondes, err)
	}
}
