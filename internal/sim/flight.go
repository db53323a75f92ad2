package sim

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Flight is a deterministic balloon flight: constant ascent to burst, then
// constant descent to the launch altitude, drifting with a constant wind.
//
// YAML schema:
//
//	serial: "S1234567"
//	launch_lat_deg: 45.46
//	launch_lon_deg: 9.19
//	launch_alt_m: 120
//	ascent_mps: 5
//	burst_alt_m: 30000
//	descent_mps: 15
//	wind_mps: 10
//	wind_from_deg: 270
//	burst_kill: 0s          # 0 disables the timer
//	frequency_khz: 403000
//	extended: false
type Flight struct {
	Serial       string        `yaml:"serial"`
	LaunchLatDeg float64       `yaml:"launch_lat_deg"`
	LaunchLonDeg float64       `yaml:"launch_lon_deg"`
	LaunchAltM   float64       `yaml:"launch_alt_m"`
	AscentMps    float64       `yaml:"ascent_mps"`
	BurstAltM    float64       `yaml:"burst_alt_m"`
	DescentMps   float64       `yaml:"descent_mps"`
	WindMps      float64       `yaml:"wind_mps"`
	WindFromDeg  float64       `yaml:"wind_from_deg"`
	BurstKill    time.Duration `yaml:"burst_kill"`
	FrequencyKHz float64       `yaml:"frequency_khz"`
	Extended     bool          `yaml:"extended"`
}

// LoadFlight reads a flight description and applies defaults.
func LoadFlight(path string) (Flight, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Flight{}, err
	}
	var f Flight
	if err := yaml.Unmarshal(b, &f); err != nil {
		return Flight{}, fmt.Errorf("parse flight %s: %w", path, err)
	}
	if err := f.Normalize(); err != nil {
		return Flight{}, err
	}
	return f, nil
}

// Normalize fills unset fields with defaults and validates the rest.
func (f *Flight) Normalize() error {
	if f.Serial == "" {
		f.Serial = "S0000000"
	}
	if len(f.Serial) > 8 {
		return fmt.Errorf("flight serial must be at most 8 characters")
	}
	if f.AscentMps == 0 {
		f.AscentMps = 5
	}
	if f.DescentMps == 0 {
		f.DescentMps = 15
	}
	if f.BurstAltM == 0 {
		f.BurstAltM = 30000
	}
	if f.FrequencyKHz == 0 {
		f.FrequencyKHz = 403000
	}
	if f.AscentMps < 0 || f.DescentMps < 0 {
		return fmt.Errorf("flight ascent_mps and descent_mps must be > 0")
	}
	if f.BurstAltM <= f.LaunchAltM {
		return fmt.Errorf("flight burst_alt_m must be above launch_alt_m")
	}
	if f.LaunchLatDeg < -89 || f.LaunchLatDeg > 89 {
		return fmt.Errorf("flight launch_lat_deg out of range")
	}
	if f.BurstKill < 0 || f.BurstKill > 0xFFFE*time.Second {
		return fmt.Errorf("flight burst_kill out of range")
	}
	if f.FrequencyKHz < 400000 || f.FrequencyKHz >= 410240 {
		return fmt.Errorf("flight frequency_khz must be in [400000, 410240)")
	}
	return nil
}

// State is the sonde's position (degrees, meters) and local velocity (m/s).
type State struct {
	LatDeg, LonDeg, AltM float64
	East, North, Up      float64
	Landed               bool
}

const earthRadiusM = 6371000.0

// StateAt returns the flight state t after launch.
func (f Flight) StateAt(t time.Duration) State {
	sec := t.Seconds()
	if sec < 0 {
		sec = 0
	}

	climb := f.BurstAltM - f.LaunchAltM
	tBurst := climb / f.AscentMps
	tLand := tBurst + climb/f.DescentMps

	var st State
	switch {
	case sec <= tBurst:
		st.AltM = f.LaunchAltM + f.AscentMps*sec
		st.Up = f.AscentMps
	case sec < tLand:
		st.AltM = f.BurstAltM - f.DescentMps*(sec-tBurst)
		st.Up = -f.DescentMps
	default:
		st.AltM = f.LaunchAltM
		st.Landed = true
		sec = tLand
	}

	// Wind blows toward WindFromDeg+180.
	toRad := (f.WindFromDeg + 180) * math.Pi / 180
	if !st.Landed {
		st.East = f.WindMps * math.Sin(toRad)
		st.North = f.WindMps * math.Cos(toRad)
	}
	east := f.WindMps * math.Sin(toRad) * sec
	north := f.WindMps * math.Cos(toRad) * sec

	latRad := f.LaunchLatDeg * math.Pi / 180
	st.LatDeg = f.LaunchLatDeg + north/earthRadiusM*180/math.Pi
	st.LonDeg = f.LaunchLonDeg + east/(earthRadiusM*math.Cos(latRad))*180/math.Pi
	return st
}
