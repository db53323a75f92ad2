package main

import (
	"bufio"
	"io"
	"log"
	"os"
	"time"

	"radiosonde-ng/internal/sim"
)

// writeSimulation renders a flight as a framer-ready bitstream. The output
// can be fed back through input.source file or stdin.
func writeSimulation(flightPath, outPath string, frames int, unpacked bool) error {
	f, err := sim.LoadFlight(flightPath)
	if err != nil {
		return err
	}
	g, err := sim.NewGenerator(f)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if outPath != "" && outPath != "-" {
		file, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}
	bw := bufio.NewWriter(out)

	err = g.WriteStream(bw, sim.StreamOptions{
		Frames:   frames,
		Unpacked: unpacked,
		Seed:     time.Now().UnixNano(),
	})
	if err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	log.Printf("simulated serial=%s frames=%d extended=%v unpacked=%v", f.Serial, frames, f.Extended, unpacked)
	return nil
}
