package rs41

import (
	"bytes"
	"encoding/hex"
	"testing"
)

// goldenFrame is an on-air normal frame carrying a status subframe (serial
// V1234567, sequence 4711, battery 2.9 V, calibration fragment 7), a GPS
// position subframe (52.2297N 21.0122E 18250 m, moving 6 m/s east, 8 m/s
// north and 4 m/s down, 9 satellites) and one empty subframe filling the
// rest of the data region.
const goldenFrame = "" +
	"086d53884469481f07c8483071256a593e104aaf6bb7f7f3bc23aed0e114d972" +
	"3e1a193520b1a55808bc1008de7ed7cdf212797fe9e6f0c81117376c4a4b4130" +
	"5a122f199ed5efe6b35f658f60dd9c9b7bf95cade4008c5f700cf8da51bd1045" +
	"a5e44b6595b812b0fada5b1990d19bbdb13d6afd40c5d04ee119e3bb35b4a301" +
	"963e8375726defe6b35f658f60dd9c9b7bf9bca86145497ad5691dcfc4e8c570" +
	"1091be011f66bacb36c1f33950f78b79f4c2d2929faad03be189238a0221cd7c" +
	"963e8375726defe6b35f658f60dd9c9b7bf9bca86145497ad5691dcfc4e8c570" +
	"1091be011f66bacb36c1f33950f78b79f4c2d2929faad03be189238a0221cd7c" +
	"963e8375726defe6b35f658f60dd9c9b7bf9bca86145497ad5691dcfc4e8c570" +
	"1091be011f66bacb36c1f33950f78b79f4c2d2929faad03be189238a02211a54"

func goldenBytes(t *testing.T) []byte {
	t.Helper()
	b, err := hex.DecodeString(goldenFrame)
	if err != nil {
		t.Fatalf("golden hex: %v", err)
	}
	if len(b) != FrameLen {
		t.Fatalf("golden len=%d want %d", len(b), FrameLen)
	}
	return b
}

func goldenStatus() Status {
	s := Status{Seq: 4711, Serial: "V1234567", Battery: 29, FragSeq: 7}
	for i := range s.Fragment {
		s.Fragment[i] = 0xA0 + byte(i)
	}
	return s
}

var goldenPosition = GPSPosition{
	X: 366490590, Y: 140772100, Z: 503292451,
	VX: -1034, VY: 246, VZ: 174,
	Sats: 9, SAcc: 3, PDOP: 140,
}

func checkGoldenRecord(t *testing.T, got SondeData) {
	t.Helper()
	if got.Serial != "V1234567" || got.Seq != 4711 || !near(got.BatteryVoltage, 2.9, 1e-9) || got.Satellites != 9 {
		t.Fatalf("record=%+v", got)
	}
	if !got.HasPosition || !near(got.Lat, 52.2297, 1e-5) || !near(got.Lon, 21.0122, 1e-5) || !near(got.Alt, 18250, 0.05) {
		t.Fatalf("position=(%f,%f,%f)", got.Lat, got.Lon, got.Alt)
	}
	if !near(got.Speed, 10, 0.05) || !near(got.Heading, 36.87, 0.5) || !near(got.Climb, -4, 0.05) {
		t.Fatalf("velocity speed=%f heading=%f climb=%f", got.Speed, got.Heading, got.Climb)
	}
}

func TestGolden_DecodeReferenceFrame(t *testing.T) {
	d, rec := newTestDecoder(t)
	rep := d.Decode(goldenBytes(t))

	if !rep.FECOK || rep.Corrected != 0 || rep.Extended || rep.Subframes != 3 || rep.CRCErrors != 0 || rep.Truncated {
		t.Fatalf("report=%+v", rep)
	}
	if len(rec.records) != 1 {
		t.Fatalf("records=%d want 1", len(rec.records))
	}
	checkGoldenRecord(t, rec.records[0])
	if snap := d.Snapshot(); snap.CalibFragments != 1 || snap.Calibrated {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestGolden_DescrambledLayout(t *testing.T) {
	work := goldenBytes(t)
	Descramble(work)

	if work[flagOffset] != FlagNormal {
		t.Fatalf("flag=0x%02X want 0x%02X", work[flagOffset], FlagNormal)
	}
	// Status subframe header, sequence (LE) and serial.
	want := []byte{0x79, 0x28, 0x67, 0x12, 'V', '1', '2', '3', '4', '5', '6', '7', 0x1D}
	for i := range want {
		if work[dataOffset+i] != want[i] {
			t.Fatalf("data[%d] mismatch: got 0x%02X want 0x%02X (data=% X)", i, work[dataOffset+i], want[i], work[dataOffset:dataOffset+len(want)])
		}
	}
	// GPS position subframe follows the 44-byte status subframe.
	if work[dataOffset+44] != SubframeGPSPos || work[dataOffset+45] != gpsPosLen {
		t.Fatalf("gps header=% X", work[dataOffset+44:dataOffset+46])
	}
	if work[dataOffset+69] != SubframeEmpty || work[dataOffset+70] != 190 {
		t.Fatalf("empty header=% X", work[dataOffset+69:dataOffset+71])
	}
}

func TestGolden_BuilderMatchesReferenceFrame(t *testing.T) {
	b, err := NewFrameBuilder(false)
	if err != nil {
		t.Fatalf("NewFrameBuilder: %v", err)
	}
	if err := b.AddStatus(goldenStatus()); err != nil {
		t.Fatalf("AddStatus: %v", err)
	}
	if err := b.AddSubframe(SubframeGPSPos, goldenPosition.encode()); err != nil {
		t.Fatalf("AddSubframe: %v", err)
	}
	got, err := b.Frame()
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	want := goldenBytes(t)
	if !bytes.Equal(got, want) {
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("byte[%d] mismatch: got 0x%02X want 0x%02X", i, got[i], want[i])
			}
		}
	}
}

func TestGolden_UncorrectableBlockLeavesOtherBlockCorrected(t *testing.T) {
	frame := goldenBytes(t)
	// Every parity symbol of the even codeword: far beyond what it can fix.
	for i := parityOffset; i < parityOffset+rsRoots; i++ {
		frame[i] ^= 0xFF
	}
	// Five symbol errors in the odd codeword, all inside the status subframe.
	for _, i := range []int{61, 63, 65, 71, 91} {
		frame[i] ^= 0x5A
	}

	d, rec := newTestDecoder(t)
	rep := d.Decode(frame)

	if rep.FECOK {
		t.Fatalf("expected FEC failure: %+v", rep)
	}
	if rep.Corrected != 5 || rep.Subframes != 3 || rep.CRCErrors != 0 {
		t.Fatalf("report=%+v", rep)
	}
	checkGoldenRecord(t, rec.records[0])
	if snap := d.Snapshot(); snap.FECFailedBlocks != 1 || snap.CorrectedSymbols != 5 {
		t.Fatalf("snapshot=%+v", snap)
	}
}
