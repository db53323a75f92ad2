package station

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

func dialGPSD(ctx context.Context, addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: 2 * time.Second}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatch enables JSON reports in SI units.
func gpsdWatch(conn net.Conn) error {
	_, err := conn.Write([]byte("?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n"))
	return err
}

type gpsdTPV struct {
	Class string `json:"class"`
	Mode  int    `json:"mode"`
	Time  string `json:"time"`

	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
	// AltHAE is the ellipsoid height; older gpsd only sends alt (MSL).
	AltHAE *float64 `json:"altHAE"`
	Alt    *float64 `json:"alt"`
}

type gpsdSKY struct {
	Class      string `json:"class"`
	Satellites []struct {
		Used bool `json:"used"`
	} `json:"satellites"`
}

type gpsdState struct {
	pos Position
}

func (s *gpsdState) applyLine(nowUTC time.Time, line string) (bool, error) {
	var base struct {
		Class string `json:"class"`
	}
	if err := json.Unmarshal([]byte(line), &base); err != nil {
		return false, fmt.Errorf("gpsd json parse failed: %v", err)
	}

	switch strings.ToUpper(base.Class) {
	case "TPV":
		var tpv gpsdTPV
		if err := json.Unmarshal([]byte(line), &tpv); err != nil {
			return false, fmt.Errorf("gpsd tpv parse failed: %v", err)
		}
		return s.applyTPV(nowUTC, tpv), nil
	case "SKY":
		var sky gpsdSKY
		if err := json.Unmarshal([]byte(line), &sky); err != nil {
			return false, fmt.Errorf("gpsd sky parse failed: %v", err)
		}
		if len(sky.Satellites) == 0 {
			return false, nil
		}
		used := 0
		for _, sat := range sky.Satellites {
			if sat.Used {
				used++
			}
		}
		s.pos.Satellites = used
		return true, nil
	default:
		// VERSION, DEVICES, WATCH and friends.
		return false, nil
	}
}

func (s *gpsdState) applyTPV(nowUTC time.Time, tpv gpsdTPV) bool {
	if tpv.Mode < 2 || tpv.Lat == nil || tpv.Lon == nil {
		return false
	}
	s.pos.LatDeg = *tpv.Lat
	s.pos.LonDeg = *tpv.Lon
	switch {
	case tpv.AltHAE != nil:
		s.pos.AltM = *tpv.AltHAE
	case tpv.Alt != nil:
		s.pos.AltM = *tpv.Alt
	}

	fix := nowUTC
	if t, err := time.Parse(time.RFC3339Nano, tpv.Time); err == nil {
		fix = t
	}
	s.pos.Valid = true
	s.pos.LastFixUTC = fix.UTC().Format(time.RFC3339Nano)
	return true
}
