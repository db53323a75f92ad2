package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"radiosonde-ng/internal/config"
	"radiosonde-ng/internal/framer"
	"radiosonde-ng/internal/history"
	"radiosonde-ng/internal/input"
	"radiosonde-ng/internal/metrics"
	"radiosonde-ng/internal/mqtt"
	"radiosonde-ng/internal/ptu"
	"radiosonde-ng/internal/replay"
	"radiosonde-ng/internal/rs41"
	"radiosonde-ng/internal/station"
	"radiosonde-ng/internal/stream"
	"radiosonde-ng/internal/udp"
	"radiosonde-ng/internal/web"
)

type runtimeDeps struct {
	Logs    *web.LogBuffer
	Stdin   io.Reader
	Now     func() time.Time
	Sleeper replay.Sleeper
}

// liveRuntime owns the decode pipeline and its sinks:
//
//	input -> framer -> stream -> decoder -> {status, metrics, csv, udp, mqtt}
//
// In replay mode the decoder reads a recorded frame log instead.
type liveRuntime struct {
	cfg  config.Config
	deps runtimeDeps

	status  *web.Status
	feed    *web.Feed
	framer  *framer.Framer
	stream  *stream.Stream
	decoder *rs41.Decoder
	metrics *metrics.Metrics

	csv       *ptu.Writer
	recorder  *replay.Writer
	publisher *mqtt.Publisher
	udp       *udp.Broadcaster
	history   *history.Store
	tcp       *input.TCPClient
	command   *input.Command
	station   *station.Service

	csvFailed  bool
	udpFailed  bool
	recFailed  bool
	histFailed bool

	closeOnce sync.Once
}

func newRuntime(ctx context.Context, cfg config.Config, deps runtimeDeps) (*liveRuntime, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logs == nil {
		deps.Logs = web.NewLogBuffer(500)
	}

	r := &liveRuntime{cfg: cfg, deps: deps, status: web.NewStatus(), feed: web.NewFeed()}
	r.status.SetStatic(r.mode(), r.inputDesc())

	var err error
	r.decoder, err = rs41.NewDecoder(r.handle)
	if err != nil {
		return nil, err
	}
	r.framer, err = framer.New(framer.Config{
		SyncWord:   rs41.SyncWord,
		SyncBits:   rs41.SyncBits,
		FrameLen:   rs41.MaxFrameLen,
		ChunkBytes: cfg.Input.ChunkBytes,
		Normalize:  true,
	}, nil)
	if err != nil {
		return nil, err
	}
	r.stream = stream.New(cfg.Framer.QueueFrames)

	r.metrics, err = metrics.New(metrics.Sources{
		Framer:  r.framer.Snapshot,
		Decoder: r.decoder.Snapshot,
		Queue:   r.stream.Len,
	})
	if err != nil {
		return nil, err
	}

	r.status.SetComponent("framer", func() any { return r.framer.Snapshot() })
	r.status.SetComponent("decoder", func() any { return r.decoder.Snapshot() })
	r.status.SetComponent("host", func() any { return web.ReadHost() })
	r.status.SetComponent("live_feed", func() any { return r.feed.Snapshot() })
	r.status.SetComponent("stream", func() any {
		published, read := r.stream.Counts()
		return map[string]any{"queued": r.stream.Len(), "capacity": r.stream.Cap(), "published": published, "read": read}
	})

	if p := cfg.Output.CSVPath; p != "" {
		r.csv, err = ptu.Create(p)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("csv output: %w", err)
		}
		log.Printf("csv output path=%s", p)
	}

	if dest := cfg.Output.UDPDest; dest != "" {
		r.udp, err = udp.NewBroadcaster(dest)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("udp output: %w", err)
		}
		log.Printf("udp output dest=%s", dest)
	}

	if rc := cfg.Output.Record; rc.Enable {
		r.recorder, err = replay.CreateWriter(rc.Path)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("frame record: %w", err)
		}
		log.Printf("recording frames path=%s", rc.Path)
	}

	if hc := cfg.Output.History; hc.Enable {
		r.history, err = history.Open(history.Config{Path: hc.Path}, log.Default())
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("history: %w", err)
		}
		log.Printf("sonde history path=%s", hc.Path)
	}

	if mc := cfg.MQTT; mc.Enable {
		r.publisher, err = mqtt.Connect(ctx, mqtt.Config{
			Broker:      mc.Broker,
			TopicPrefix: mc.TopicPrefix,
			ClientID:    mc.ClientID,
			Username:    mc.Username,
			Password:    mc.Password,
			QoS:         byte(mc.QoS),
			Retain:      mc.Retain,
		})
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("mqtt: %w", err)
		}
		r.status.SetComponent("mqtt", func() any { return r.publisher.Snapshot() })
		log.Printf("mqtt connected broker=%s prefix=%s", mc.Broker, mc.TopicPrefix)
	}

	if sc := cfg.Station; sc.Enable {
		r.station, err = station.New(station.Config{
			Source:   sc.Source,
			LatDeg:   sc.Lat,
			LonDeg:   sc.Lon,
			AltM:     sc.Alt,
			Device:   sc.Device,
			Baud:     sc.Baud,
			GPSDAddr: sc.GPSDAddr,
		})
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("station: %w", err)
		}
		r.status.SetComponent("station", func() any { return r.station.Position() })
		r.status.SetObserver(func() (float64, float64, float64, bool) {
			p := r.station.Position()
			return p.LatDeg, p.LonDeg, p.AltM, p.Valid
		})
	}

	return r, nil
}

func (r *liveRuntime) mode() string {
	if r.cfg.Output.Replay.Enable {
		return "replay"
	}
	return "live"
}

func (r *liveRuntime) inputDesc() string {
	in := r.cfg.Input
	if r.cfg.Output.Replay.Enable {
		return "replay:" + r.cfg.Output.Replay.Path
	}
	switch in.Source {
	case config.SourceTCP:
		return "tcp:" + in.Addr
	case config.SourceSerial:
		return fmt.Sprintf("serial:%s@%d", in.Path, in.Baud)
	case config.SourceStdin:
		return "stdin"
	case config.SourceCommand:
		return "command:" + in.Command
	default:
		return "file:" + in.Path
	}
}

// handle fans a decoded record out to every sink. It runs on the decoder
// goroutine.
func (r *liveRuntime) handle(d *rs41.SondeData) {
	now := r.deps.Now().UTC()
	r.status.Observe(now, d)
	r.metrics.Observe(now, d)
	r.feed.Publish(now, d)
	if r.publisher != nil && d.HasStatus {
		r.publisher.Publish(now, d)
	}
	if r.udp != nil {
		if err := r.udp.SendRecord(now, d); err != nil && !r.udpFailed {
			r.udpFailed = true
			log.Printf("udp send failed: %v", err)
		}
	}
	if r.history != nil {
		if err := r.history.Record(now, d); err != nil && !r.histFailed {
			r.histFailed = true
			log.Printf("history write failed: %v", err)
		}
	}
	if r.csv != nil && d.HasPosition {
		// PTU sensors are not converted; only the GPS columns carry data.
		if err := r.csv.AddPoint(now.Unix(), 0, 0, 0, 0, d.Alt, d.Speed, d.Heading); err != nil && !r.csvFailed {
			r.csvFailed = true
			log.Printf("csv write failed: %v", err)
		}
	}
}

func (r *liveRuntime) emit(ctx context.Context) framer.EmitFunc {
	return func(frame []byte) error {
		if r.recorder != nil {
			if err := r.recorder.WriteFrame(r.deps.Now(), frame); err != nil && !r.recFailed {
				r.recFailed = true
				log.Printf("frame record failed: %v", err)
			}
		}
		return r.stream.Publish(ctx, frame)
	}
}

// Run blocks until the input is exhausted or ctx is done. The HTTP endpoint,
// when configured, lives for the duration of the call.
func (r *liveRuntime) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if listen := r.cfg.Metrics.Listen; listen != "" {
		routes := []web.Route{{Pattern: "/api/live", Handler: r.feed.Handler()}}
		if r.history != nil {
			routes = append(routes, web.Route{Pattern: "/api/history", Handler: r.history.Handler()})
		}
		h := web.Handler(r.status, r.deps.Logs, r.cfg.Metrics.Path, r.metrics.Handler(), routes...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("http listening addr=%s metrics=%s", listen, r.cfg.Metrics.Path)
			if err := web.Serve(runCtx, listen, h); err != nil && runCtx.Err() == nil {
				log.Printf("http server stopped: %v", err)
			}
		}()
	}

	if r.station != nil {
		if err := r.station.Start(runCtx); err != nil {
			log.Printf("station gps unavailable: %v", err)
		}
		defer r.station.Close()
	}

	var err error
	if r.cfg.Output.Replay.Enable {
		err = r.runReplay(runCtx)
	} else {
		err = r.runLive(runCtx)
	}
	r.feed.Close()
	cancel()
	wg.Wait()
	return err
}

func (r *liveRuntime) runReplay(ctx context.Context) error {
	rc := r.cfg.Output.Replay
	recs, err := replay.ReadFile(rc.Path)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	src, err := replay.NewSource(recs, rc.Speed, rc.Loop, r.deps.Sleeper)
	if err != nil {
		return fmt.Errorf("replay %s: %w", rc.Path, err)
	}
	log.Printf("replay path=%s records=%d speed=%g loop=%v", rc.Path, len(recs), rc.Speed, rc.Loop)
	r.decoder.SetInput(src)
	return r.decoder.Run(ctx)
}

func (r *liveRuntime) runLive(ctx context.Context) error {
	in := r.cfg.Input
	switch in.Source {
	case config.SourceCommand:
		cmd, err := input.NewCommand(input.CommandConfig{
			Command: in.Command,
			Args:    in.Args,
			Env:     in.Env,
			Restart: in.Restart,
			Packed:  in.Packed(),
		})
		if err != nil {
			return err
		}
		r.command = cmd
		r.status.SetComponent("command", func() any { return cmd.Snapshot() })
		if err := cmd.Start(ctx, r.framer.SetInput); err != nil {
			return err
		}
		defer cmd.Close()
	case config.SourceTCP:
		client, err := input.NewTCPClient(input.TCPClientConfig{
			Addr:           in.Addr,
			ReconnectDelay: in.ReconnectDelay,
			DialTimeout:    in.DialTimeout,
			Packed:         in.Packed(),
		})
		if err != nil {
			return err
		}
		r.tcp = client
		r.status.SetComponent("tcp", func() any { return client.Snapshot() })
		if err := client.Start(ctx, r.framer.SetInput); err != nil {
			return err
		}
		defer client.Close()
	default:
		src, err := input.Open(in.Source, in.Path, in.Baud, r.deps.Stdin, in.Packed())
		if err != nil {
			return err
		}
		defer src.Close()
		r.framer.SetInput(src)

		// Unblock a read on a serial line when shutting down.
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-ctx.Done():
				_ = src.Close()
			case <-stop:
			}
		}()
	}
	r.decoder.SetInput(r.stream)

	framerDone := make(chan error, 1)
	go func() {
		err := r.framer.Run(ctx, r.emit(ctx))
		r.stream.Close()
		framerDone <- err
	}()

	derr := r.decoder.Run(ctx)
	r.stream.Close()
	if r.tcp != nil {
		r.tcp.Close()
	}
	if r.command != nil {
		r.command.Close()
	}

	var ferr error
	select {
	case ferr = <-framerDone:
	case <-ctx.Done():
		// A blocking stdin read cannot be interrupted.
	}
	if errors.Is(ferr, stream.ErrClosed) {
		ferr = nil
	}
	if derr != nil {
		return fmt.Errorf("decoder: %w", derr)
	}
	if ferr != nil {
		return fmt.Errorf("framer: %w", ferr)
	}
	if ctx.Err() == nil {
		fs, ds := r.framer.Snapshot(), r.decoder.Snapshot()
		log.Printf("input exhausted bytes=%d frames=%d decoded=%d crc_errors=%d", fs.BytesIn, fs.Frames, ds.Frames, ds.CRCErrors)
	}
	return nil
}

// Close flushes and releases every sink. It is safe to call more than once.
func (r *liveRuntime) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		if r.tcp != nil {
			r.tcp.Close()
		}
		if r.command != nil {
			r.command.Close()
		}
		if r.stream != nil {
			r.stream.Close()
		}
		r.feed.Close()
		if r.publisher != nil {
			r.publisher.Close()
		}
		if r.udp != nil {
			_ = r.udp.Close()
		}
		if r.csv != nil {
			if err := r.csv.Close(); err != nil {
				log.Printf("csv close failed: %v", err)
			}
		}
		if r.recorder != nil {
			if err := r.recorder.Close(); err != nil {
				log.Printf("frame record close failed: %v", err)
			}
		}
		if r.history != nil {
			if err := r.history.Close(); err != nil {
				log.Printf("history close failed: %v", err)
			}
		}
	})
}
