package rs41

// SondeData is the telemetry decoded from one frame. A new record is built
// for every frame; fields the frame did not carry (or carried in a subframe
// that failed its CRC) keep their zero value.
type SondeData struct {
	Serial     string `json:"serial"`
	Calibrated bool   `json:"calibrated"`
	Seq        int    `json:"seq"`

	// BurstKill is the burst-kill countdown in seconds, -1 when disabled.
	BurstKill int `json:"burst_kill"`

	BatteryVoltage float64 `json:"battery_v,omitempty"`

	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`

	Speed   float64 `json:"speed"`
	Heading float64 `json:"heading"`
	Climb   float64 `json:"climb"`

	Satellites int `json:"sats,omitempty"`

	HasStatus   bool `json:"-"`
	HasPosition bool `json:"-"`
}

// Handler receives the record for each decoded frame. The record is only
// valid for the duration of the call.
type Handler func(data *SondeData)
