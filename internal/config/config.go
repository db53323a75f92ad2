package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Input   InputConfig   `yaml:"input"`
	Framer  FramerConfig  `yaml:"framer"`
	Output  OutputConfig  `yaml:"output"`
	Metrics MetricsConfig `yaml:"metrics"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Station StationConfig `yaml:"station"`
}

// Input sources.
const (
	SourceFile   = "file"
	SourceStdin  = "stdin"
	SourceSerial = "serial"
	SourceTCP    = "tcp"

	// SourceCommand runs a demodulator and reads its stdout.
	SourceCommand = "command"
)

type InputConfig struct {
	Source string `yaml:"source"`
	Path   string `yaml:"path"`
	Baud   int    `yaml:"baud"`
	Addr   string `yaml:"addr"`

	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`

	// Restart reruns the command when it exits; otherwise its end of
	// output ends the input.
	Restart bool `yaml:"restart"`

	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	ChunkBytes     int           `yaml:"chunk_bytes"`

	// BitPacked is true when every input byte carries 8 bits, MSB first.
	// When false each byte carries one bit in its LSB.
	BitPacked *bool `yaml:"bit_packed"`
}

// Packed reports the effective bit_packed setting.
func (c InputConfig) Packed() bool {
	return c.BitPacked == nil || *c.BitPacked
}

type FramerConfig struct {
	QueueFrames int `yaml:"queue_frames"`
}

type OutputConfig struct {
	CSVPath string        `yaml:"csv_path"`
	UDPDest string        `yaml:"udp_dest"`
	Record  RecordConfig  `yaml:"record"`
	Replay  ReplayConfig  `yaml:"replay"`
	History HistoryConfig `yaml:"history"`
}

// HistoryConfig stores every sonde and its track in a SQLite file.
type HistoryConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type ReplayConfig struct {
	Enable bool    `yaml:"enable"`
	Path   string  `yaml:"path"`
	Speed  float64 `yaml:"speed"`
	Loop   bool    `yaml:"loop"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

type MQTTConfig struct {
	Enable      bool   `yaml:"enable"`
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	QoS         int    `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
}

// StationConfig locates the receiver for look angles. Source is static,
// nmea (serial GPS at device/baud) or gpsd.
type StationConfig struct {
	Enable   bool    `yaml:"enable"`
	Source   string  `yaml:"source"`
	Lat      float64 `yaml:"lat"`
	Lon      float64 `yaml:"lon"`
	Alt      float64 `yaml:"alt"`
	Device   string  `yaml:"device"`
	Baud     int     `yaml:"baud"`
	GPSDAddr string  `yaml:"gpsd_addr"`
}

// Option adjusts a decoded config before defaults and validation run.
type Option func(*Config)

// WithInputPath overrides input.path.
func WithInputPath(path string) Option {
	return func(cfg *Config) {
		if path != "" {
			cfg.Input.Path = path
		}
	}
}

func Load(path string, opts ...Option) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b, opts...)
}

// Parse decodes, defaults and validates a YAML document. An empty document
// yields the defaults.
func Parse(b []byte, opts ...Option) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() error {
	in := &cfg.Input
	if in.Source == "" {
		in.Source = SourceFile
	}
	switch in.Source {
	case SourceFile:
		if in.Path == "" && !cfg.Output.Replay.Enable {
			return fmt.Errorf("input.path is required when input.source is 'file'")
		}
	case SourceStdin:
	case SourceSerial:
		if in.Path == "" {
			return fmt.Errorf("input.path is required when input.source is 'serial'")
		}
		if in.Baud == 0 {
			in.Baud = 115200
		}
		if in.Baud < 0 {
			return fmt.Errorf("input.baud must be > 0")
		}
	case SourceTCP:
		if in.Addr == "" {
			return fmt.Errorf("input.addr is required when input.source is 'tcp'")
		}
	case SourceCommand:
		if in.Command == "" {
			return fmt.Errorf("input.command is required when input.source is 'command'")
		}
	default:
		return fmt.Errorf("input.source must be one of file, stdin, serial, tcp, command (got %q)", in.Source)
	}
	if in.ReconnectDelay <= 0 {
		in.ReconnectDelay = 1 * time.Second
	}
	if in.DialTimeout <= 0 {
		in.DialTimeout = 2 * time.Second
	}
	if in.ChunkBytes == 0 {
		in.ChunkBytes = 4096
	}
	if in.ChunkBytes < 0 {
		return fmt.Errorf("input.chunk_bytes must be > 0")
	}

	if cfg.Framer.QueueFrames == 0 {
		cfg.Framer.QueueFrames = 16
	}
	if cfg.Framer.QueueFrames < 0 {
		return fmt.Errorf("framer.queue_frames must be > 0")
	}

	out := &cfg.Output
	if out.Record.Enable && out.Record.Path == "" {
		return fmt.Errorf("output.record.path is required when output.record.enable is true")
	}
	if out.Replay.Enable {
		if out.Replay.Path == "" {
			return fmt.Errorf("output.replay.path is required when output.replay.enable is true")
		}
		if out.Replay.Speed == 0 {
			out.Replay.Speed = 1
		}
		if out.Replay.Speed < 0 {
			return fmt.Errorf("output.replay.speed must be > 0")
		}
	}
	if out.History.Enable && out.History.Path == "" {
		return fmt.Errorf("output.history.path is required when output.history.enable is true")
	}
	if out.Record.Enable && out.Replay.Enable {
		return fmt.Errorf("output.record and output.replay cannot both be enabled")
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	m := &cfg.MQTT
	if m.TopicPrefix == "" {
		m.TopicPrefix = "radiosonde"
	}
	if m.QoS < 0 || m.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if m.Enable && m.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
	}

	st := &cfg.Station
	if !st.Enable {
		return nil
	}
	if st.Source == "" {
		st.Source = "static"
	}
	switch st.Source {
	case "static":
		if st.Lat < -90 || st.Lat > 90 || st.Lon < -180 || st.Lon > 180 {
			return fmt.Errorf("station.lat/lon out of range")
		}
	case "nmea":
		if st.Device == "" {
			return fmt.Errorf("station.device is required when station.source is 'nmea'")
		}
		if st.Baud == 0 {
			st.Baud = 9600
		}
		if st.Baud < 0 {
			return fmt.Errorf("station.baud must be > 0")
		}
	case "gpsd":
		if st.GPSDAddr == "" {
			st.GPSDAddr = "127.0.0.1:2947"
		}
	default:
		return fmt.Errorf("station.source must be one of static, nmea, gpsd (got %q)", st.Source)
	}
	return nil
}
