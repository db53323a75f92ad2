package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"radiosonde-ng/internal/config"
	"radiosonde-ng/internal/web"
)

func main() {
	var (
		configPath string
		inputPath  string
		logSummary string
		flightPath string
		simFrames  int
		simOut     string
		simBits    bool
	)
	pflag.StringVarP(&configPath, "config", "c", "./radiosonde.yaml", "Path to YAML config")
	pflag.StringVarP(&inputPath, "input", "i", "", "Override input.path")
	pflag.StringVar(&logSummary, "log-summary", "", "Print a summary of a recorded frame log and exit")
	pflag.StringVar(&flightPath, "simulate", "", "Write a simulated RS41 bitstream for this flight YAML and exit")
	pflag.IntVar(&simFrames, "sim-frames", 120, "Frames to simulate")
	pflag.StringVar(&simOut, "sim-out", "-", "Simulated stream output path (- for stdout)")
	pflag.BoolVar(&simBits, "sim-unpacked", false, "Write one bit per byte instead of packed bytes")
	pflag.Parse()

	if logSummary != "" {
		if err := printLogSummary(os.Stdout, logSummary); err != nil {
			log.Fatalf("log summary failed: %v", err)
		}
		return
	}
	if flightPath != "" {
		if err := writeSimulation(flightPath, simOut, simFrames, simBits); err != nil {
			log.Fatalf("simulation failed: %v", err)
		}
		return
	}

	logs := web.NewLogBuffer(500)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	cfg, err := config.Load(configPath, config.WithInputPath(inputPath))
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(ctx, cfg, runtimeDeps{Logs: logs})
	if err != nil {
		log.Fatalf("runtime init failed: %v", err)
	}
	defer rt.Close()

	log.Printf("radiosonde-ng starting mode=%s input=%s", rt.mode(), rt.inputDesc())
	if err := rt.Run(ctx); err != nil {
		log.Printf("radiosonde-ng stopped: %v", err)
		rt.Close()
		os.Exit(1)
	}
	log.Printf("radiosonde-ng stopping")
}
