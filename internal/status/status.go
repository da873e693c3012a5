// Package status provides the status pixel state machine and point-in-time
// snapshots of the controller for the JSON status output.
package status

import (
	"time"

	"github.com/sweeney/humidistat/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	Port          string
	Protocol      string
	DAQPeriodMs   int64
	FlashMs       int64
	BurstValve1Ms int64
	BurstValve2Ms int64
}

// Snapshot is a point-in-time view of controller state.
// It is a value type, safe to keep after the controller moves on.
type Snapshot struct {
	Phase      Phase
	Requested  logic.Actuators
	Granted    logic.Actuators
	Readings   [logic.Channels]logic.Reading
	Connected  [logic.Channels]bool
	Continuous bool
	ElapsedMs  uint32
	Reports    int
	StartTime  time.Time
	Now        time.Time
	Config     Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}
