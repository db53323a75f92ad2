package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"radiosonde-ng/internal/replay"
	"radiosonde-ng/internal/rs41"
)

type logSummary struct {
	Segments    int
	Frames      int
	Extended    int
	Invalid     int
	CRCErrors   int
	MaxDuration time.Duration
	Serials     map[string]int
}

// summarizeFrameLog decodes every recorded frame. A frame is invalid when
// it is short or no subframe in it passes its CRC.
func summarizeFrameLog(records []replay.Record) (logSummary, error) {
	s := logSummary{Serials: map[string]int{}}
	if len(records) == 0 {
		return s, nil
	}

	var last rs41.SondeData
	dec, err := rs41.NewDecoder(func(d *rs41.SondeData) { last = *d })
	if err != nil {
		return s, err
	}

	origin := time.Duration(0)
	hasFrames := false
	segments := 0

	for _, r := range records {
		if r.Frame == nil {
			segments++
			origin = r.At
			continue
		}
		hasFrames = true

		s.Frames++
		at := r.At - origin
		if at < 0 {
			at = 0
		}
		if at > s.MaxDuration {
			s.MaxDuration = at
		}

		rep := dec.Decode(r.Frame)
		s.CRCErrors += rep.CRCErrors
		if rep.Extended {
			s.Extended++
		}
		if rep.Short || rep.Subframes == 0 {
			s.Invalid++
			continue
		}
		if last.Serial != "" {
			s.Serials[last.Serial]++
		}
	}
	if segments == 0 && hasFrames {
		segments = 1
	}
	s.Segments = segments

	return s, nil
}

func printLogSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	recs, err := replay.ReadFile(path)
	if err != nil {
		return err
	}
	s, err := summarizeFrameLog(recs)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "frames: %d\n", s.Frames)
	fmt.Fprintf(w, "extended_frames: %d\n", s.Extended)
	fmt.Fprintf(w, "invalid_frames: %d\n", s.Invalid)
	fmt.Fprintf(w, "crc_errors: %d\n", s.CRCErrors)
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)

	serials := make([]string, 0, len(s.Serials))
	for k := range s.Serials {
		serials = append(serials, k)
	}
	sort.Strings(serials)
	fmt.Fprintf(w, "serials:\n")
	for _, k := range serials {
		fmt.Fprintf(w, "  %s: %d\n", k, s.Serials[k])
	}
	return nil
}
