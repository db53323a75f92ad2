package station

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type nmeaSentence struct {
	Type string
	// Fields is the comma-split payload (excluding $ and checksum).
	Fields []string
}

func parseNMEASentence(line string) (nmeaSentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nmeaSentence{}, fmt.Errorf("nmea: missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return nmeaSentence{}, fmt.Errorf("nmea: missing checksum")
	}
	payload := line[1:star]
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return nmeaSentence{}, fmt.Errorf("nmea: short checksum")
	}
	want, err := hex.DecodeString(ck[:2])
	if err != nil {
		return nmeaSentence{}, fmt.Errorf("nmea: bad checksum")
	}
	got := byte(0)
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	if got != want[0] {
		return nmeaSentence{}, fmt.Errorf("nmea: checksum mismatch")
	}

	parts := strings.Split(payload, ",")
	if len(parts[0]) < 3 {
		return nmeaSentence{}, fmt.Errorf("nmea: short type")
	}
	// GPGGA, GNGGA, ... all map to GGA.
	t := parts[0][len(parts[0])-3:]
	return nmeaSentence{Type: strings.ToUpper(t), Fields: parts}, nil
}

// nmeaState tracks the station fix from GGA sentences, which carry the
// altitude a look-angle computation needs. RMC is not used.
type nmeaState struct {
	pos Position
}

func (s *nmeaState) apply(nowUTC time.Time, sent nmeaSentence) bool {
	if sent.Type != "GGA" {
		return false
	}
	return s.applyGGA(nowUTC, sent.Fields)
}

// GGA fields:
//
//	2,3: latitude ddmm.mmmm, N/S
//	4,5: longitude dddmm.mmmm, E/W
//	6:   fix quality (0 = invalid)
//	7:   satellites in use
//	9:   altitude above mean sea level (m)
//	11:  geoid separation (m)
func (s *nmeaState) applyGGA(nowUTC time.Time, f []string) bool {
	if len(f) < 12 {
		return false
	}
	q := strings.TrimSpace(f[6])
	if q == "" || q == "0" {
		return false
	}
	lat, latOK := parseNMEALatLon(f[2], f[3])
	lon, lonOK := parseNMEALatLon(f[4], f[5])
	if !latOK || !lonOK {
		return false
	}
	s.pos.LatDeg = lat
	s.pos.LonDeg = lon
	if alt, ok := parseFloat(f[9]); ok {
		// Ellipsoid height, to match the sonde's GPS altitude.
		sep, _ := parseFloat(f[11])
		s.pos.AltM = alt + sep
	}
	if sats, err := strconv.Atoi(strings.TrimSpace(f[7])); err == nil {
		s.pos.Satellites = sats
	}
	s.pos.Valid = true
	s.pos.LastFixUTC = nowUTC.UTC().Format(time.RFC3339Nano)
	return true
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseNMEALatLon parses ddmm.mmmm (latitude) or dddmm.mmmm (longitude)
// plus the hemisphere letter.
func parseNMEALatLon(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}

	dot := strings.IndexByte(v, '.')
	intPart := v
	if dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, false
	}

	deg, err := strconv.Atoi(intPart[:len(intPart)-2])
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(v[len(intPart)-2:], 64)
	if err != nil {
		return 0, false
	}

	dec := float64(deg) + mins/60
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}
