package rs41

import (
	"testing"
)

func mustAppend(t *testing.T, dst []byte, typ byte, payload []byte) []byte {
	t.Helper()
	out, err := appendSubframe(dst, typ, payload)
	if err != nil {
		t.Fatalf("appendSubframe: %v", err)
	}
	return out
}

func TestWalkSubframes_AcceptsValid(t *testing.T) {
	var region []byte
	region = mustAppend(t, region, SubframeStatus, make([]byte, statusLen))
	region = mustAppend(t, region, SubframeGPSPos, make([]byte, gpsPosLen))
	region = mustAppend(t, region, SubframeEmpty, nil)

	var types []byte
	res := walkSubframes(region, func(sf Subframe) { types = append(types, sf.Type) })
	if res.accepted != 3 || res.crcErrors != 0 || res.truncated {
		t.Fatalf("res=%+v", res)
	}
	want := []byte{SubframeStatus, SubframeGPSPos, SubframeEmpty}
	if string(types) != string(want) {
		t.Fatalf("types=% x want % x", types, want)
	}
}

func TestWalkSubframes_CRCMismatchSkipsOnlyThatSubframe(t *testing.T) {
	var region []byte
	region = mustAppend(t, region, SubframeStatus, make([]byte, statusLen))
	gpsAt := len(region)
	region = mustAppend(t, region, SubframeGPSPos, make([]byte, gpsPosLen))
	region = mustAppend(t, region, SubframeEmpty, make([]byte, 3))

	// One bit in the GPS payload.
	region[gpsAt+2+5] ^= 0x10

	var types []byte
	res := walkSubframes(region, func(sf Subframe) { types = append(types, sf.Type) })
	if res.accepted != 2 || res.crcErrors != 1 || res.truncated {
		t.Fatalf("res=%+v", res)
	}
	for _, typ := range types {
		if typ == SubframeGPSPos {
			t.Fatalf("corrupted GPS subframe was accepted")
		}
	}
}

func TestWalkSubframes_TruncatedStopsWalk(t *testing.T) {
	var region []byte
	region = mustAppend(t, region, SubframeStatus, make([]byte, statusLen))
	tail := len(region)
	region = mustAppend(t, region, SubframeGPSPos, make([]byte, gpsPosLen))
	region = region[:tail+10]

	res := walkSubframes(region, func(Subframe) {})
	if res.accepted != 1 || !res.truncated {
		t.Fatalf("res=%+v", res)
	}

	// A single dangling type byte.
	res = walkSubframes([]byte{SubframeEmpty}, func(Subframe) {})
	if res.accepted != 0 || !res.truncated {
		t.Fatalf("dangling byte res=%+v", res)
	}
}

func TestAppendSubframe_RejectsLongPayload(t *testing.T) {
	if _, err := appendSubframe(nil, SubframeXData, make([]byte, 256)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStatus_ParseEncode(t *testing.T) {
	in := Status{Seq: 4321, Serial: "S1234567", Battery: 29, FragSeq: 0x31}
	in.Fragment[7] = 0x2C
	in.Fragment[8] = 0x01

	got, ok := parseStatus(in.encode())
	if !ok {
		t.Fatalf("parseStatus failed")
	}
	if got != in {
		t.Fatalf("got %+v want %+v", got, in)
	}

	if _, ok := parseStatus(make([]byte, statusLen-1)); ok {
		t.Fatalf("short status accepted")
	}
}

func TestStatus_SerialTrimsPadding(t *testing.T) {
	p := Status{Serial: "P12"}.encode()
	got, ok := parseStatus(p)
	if !ok || got.Serial != "P12" {
		t.Fatalf("serial=%q ok=%v", got.Serial, ok)
	}
}

func TestGPSPosition_ParseShortPayload(t *testing.T) {
	in := GPSPosition{X: -123456, Y: 4567890, Z: 400000000, VX: -150, VY: 250, VZ: 500, Sats: 9}
	p := in.encode()

	got, ok := parseGPSPosition(p[:gpsPosMinLen])
	if !ok {
		t.Fatalf("parse failed")
	}
	if got.X != in.X || got.VX != in.VX || got.VZ != in.VZ || got.Sats != 0 {
		t.Fatalf("got %+v", got)
	}
	if _, ok := parseGPSPosition(p[:gpsPosMinLen-1]); ok {
		t.Fatalf("too short payload accepted")
	}
}
