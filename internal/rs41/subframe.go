package rs41

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Subframe is one length-prefixed, CRC-protected unit inside a frame's data
// region. Payload aliases the frame buffer.
type Subframe struct {
	Type    byte
	Payload []byte
	CRC     uint16
}

// Valid reports whether the trailing CRC matches the payload.
func (s Subframe) Valid() bool {
	return CRC16(s.Payload) == s.CRC
}

// walkResult summarizes one pass over a data region.
type walkResult struct {
	accepted  int
	crcErrors int
	truncated bool
}

// walkSubframes calls fn for every subframe in region whose CRC is valid.
// A subframe that would run past the end of region ends the walk; a CRC
// mismatch only skips that subframe.
func walkSubframes(region []byte, fn func(Subframe)) walkResult {
	var res walkResult
	off := 0
	for off < len(region) {
		if off+2 > len(region) {
			res.truncated = true
			break
		}
		n := int(region[off+1])
		end := off + n + subframeOverhead
		if end > len(region) {
			res.truncated = true
			break
		}
		sf := Subframe{
			Type:    region[off],
			Payload: region[off+2 : off+2+n],
			CRC:     binary.LittleEndian.Uint16(region[off+2+n : end]),
		}
		off = end

		if !sf.Valid() {
			res.crcErrors++
			continue
		}
		res.accepted++
		fn(sf)
	}
	return res
}

// appendSubframe encodes a subframe onto dst.
func appendSubframe(dst []byte, typ byte, payload []byte) ([]byte, error) {
	if len(payload) > 0xFF {
		return dst, fmt.Errorf("subframe payload too long: %d", len(payload))
	}
	dst = append(dst, typ, byte(len(payload)))
	dst = append(dst, payload...)
	return binary.LittleEndian.AppendUint16(dst, CRC16(payload)), nil
}

// Status subframe payload layout.
const (
	statusLen         = 40
	statusSeqOff      = 0
	statusSerialOff   = 2
	SerialLen         = 8
	statusBatteryOff  = 10
	statusFragSeqOff  = 23
	statusFragDataOff = 24
)

// Status is the decoded content of a status subframe.
type Status struct {
	Seq      uint16
	Serial   string
	Battery  byte // tenths of a volt
	FragSeq  byte
	Fragment [CalibFragmentLen]byte
}

func parseStatus(p []byte) (Status, bool) {
	if len(p) < statusLen {
		return Status{}, false
	}
	s := Status{
		Seq:     binary.LittleEndian.Uint16(p[statusSeqOff:]),
		Serial:  string(bytes.TrimRight(p[statusSerialOff:statusSerialOff+SerialLen], "\x00")),
		Battery: p[statusBatteryOff],
		FragSeq: p[statusFragSeqOff],
	}
	copy(s.Fragment[:], p[statusFragDataOff:statusFragDataOff+CalibFragmentLen])
	return s, true
}

func (s Status) encode() []byte {
	p := make([]byte, statusLen)
	binary.LittleEndian.PutUint16(p[statusSeqOff:], s.Seq)
	copy(p[statusSerialOff:statusSerialOff+SerialLen], s.Serial)
	p[statusBatteryOff] = s.Battery
	p[statusFragSeqOff] = s.FragSeq
	copy(p[statusFragDataOff:], s.Fragment[:])
	return p
}

// GPS position subframe payload layout.
const (
	gpsPosLen     = 21
	gpsPosMinLen  = 18
	gpsPosSatsOff = 18
)

// GPSPosition is an ECEF state vector: position in centimeters and velocity
// in centimeters per second.
type GPSPosition struct {
	X, Y, Z    int32
	VX, VY, VZ int16
	Sats       uint8
	SAcc       uint8
	PDOP       uint8
}

func parseGPSPosition(p []byte) (GPSPosition, bool) {
	if len(p) < gpsPosMinLen {
		return GPSPosition{}, false
	}
	g := GPSPosition{
		X:  int32(binary.LittleEndian.Uint32(p[0:])),
		Y:  int32(binary.LittleEndian.Uint32(p[4:])),
		Z:  int32(binary.LittleEndian.Uint32(p[8:])),
		VX: int16(binary.LittleEndian.Uint16(p[12:])),
		VY: int16(binary.LittleEndian.Uint16(p[14:])),
		VZ: int16(binary.LittleEndian.Uint16(p[16:])),
	}
	if len(p) >= gpsPosLen {
		g.Sats = p[gpsPosSatsOff]
		g.SAcc = p[gpsPosSatsOff+1]
		g.PDOP = p[gpsPosSatsOff+2]
	}
	return g, true
}

func (g GPSPosition) encode() []byte {
	p := make([]byte, gpsPosLen)
	binary.LittleEndian.PutUint32(p[0:], uint32(g.X))
	binary.LittleEndian.PutUint32(p[4:], uint32(g.Y))
	binary.LittleEndian.PutUint32(p[8:], uint32(g.Z))
	binary.LittleEndian.PutUint16(p[12:], uint16(g.VX))
	binary.LittleEndian.PutUint16(p[14:], uint16(g.VY))
	binary.LittleEndian.PutUint16(p[16:], uint16(g.VZ))
	p[gpsPosSatsOff] = g.Sats
	p[gpsPosSatsOff+1] = g.SAcc
	p[gpsPosSatsOff+2] = g.PDOP
	return p
}
