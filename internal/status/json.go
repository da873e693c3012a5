package status

import (
	"encoding/json"
	"time"

	"github.com/chewxy/math32"

	"github.com/sweeney/humidistat/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Phase         string        `json:"phase"`
	Ready         bool          `json:"ready"`
	Continuous    bool          `json:"continuous"`
	ElapsedMs     uint32        `json:"elapsed_ms"`
	Reports       int           `json:"reports"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	Requested     ActuatorsJSON `json:"requested"`
	Granted       ActuatorsJSON `json:"granted"`
	Sensors       []SensorJSON  `json:"sensors"`
	Config        ConfigJSON    `json:"config"`
}

// ActuatorsJSON is the JSON representation of an actuator set.
type ActuatorsJSON struct {
	Valve1 bool `json:"valve_1"`
	Valve2 bool `json:"valve_2"`
	Pump   bool `json:"pump"`
}

// SensorJSON is one sensor channel. Missing readings are null.
type SensorJSON struct {
	Channel     int      `json:"channel"`
	Connected   bool     `json:"connected"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Pressure    *float64 `json:"pressure"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Port          string `json:"port"`
	Protocol      string `json:"protocol"`
	DAQPeriodMs   int64  `json:"daq_period_ms"`
	FlashMs       int64  `json:"flash_ms"`
	BurstValve1Ms int64  `json:"burst_valve_1_ms"`
	BurstValve2Ms int64  `json:"burst_valve_2_ms"`
}

func actuatorsJSON(a logic.Actuators) ActuatorsJSON {
	return ActuatorsJSON{Valve1: a.Valve1, Valve2: a.Valve2, Pump: a.Pump}
}

// number maps NaN and infinities to null; encoding/json rejects them.
func number(v float32) *float64 {
	if math32.IsNaN(v) || math32.IsInf(v, 0) {
		return nil
	}
	f := float64(v)
	return &f
}

func buildInner(snap Snapshot) StatusInner {
	sensors := make([]SensorJSON, 0, logic.Channels)
	for ch, r := range snap.Readings {
		sensors = append(sensors, SensorJSON{
			Channel:     ch + 1,
			Connected:   snap.Connected[ch],
			Temperature: number(r.Temperature),
			Humidity:    number(r.Humidity),
			Pressure:    number(r.Pressure),
		})
	}

	return StatusInner{
		Phase:         snap.Phase.String(),
		Ready:         snap.Phase == PhaseIdle || snap.Phase == PhaseFlashing,
		Continuous:    snap.Continuous,
		ElapsedMs:     snap.ElapsedMs,
		Reports:       snap.Reports,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Requested:     actuatorsJSON(snap.Requested),
		Granted:       actuatorsJSON(snap.Granted),
		Sensors:       sensors,
		Config: ConfigJSON{
			Port:          snap.Config.Port,
			Protocol:      snap.Config.Protocol,
			DAQPeriodMs:   snap.Config.DAQPeriodMs,
			FlashMs:       snap.Config.FlashMs,
			BurstValve1Ms: snap.Config.BurstValve1Ms,
			BurstValve2Ms: snap.Config.BurstValve2Ms,
		},
	}
}

// FormatJSON returns the indented JSON status printed by the probe command.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the compact JSON status attached to start-up and
// shutdown log events.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
