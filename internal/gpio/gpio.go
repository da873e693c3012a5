// Package gpio drives the relay and status pixel outputs.
// The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package gpio

import (
	"github.com/sweeney/humidistat/internal/logic"
	"github.com/sweeney/humidistat/internal/status"
)

// Outputs drives the three relay lines and the three status LED lines.
type Outputs interface {
	logic.Relays
	status.Pixel

	// Close switches every output off and releases GPIO resources.
	Close() error
}

// Pins holds the line offsets on one GPIO chip.
type Pins struct {
	Chip     string
	Valve1   int
	Valve2   int
	Pump     int
	LEDRed   int
	LEDGreen int
	LEDBlue  int
}

// Default pin definitions (BCM numbering)
var DefaultPins = Pins{
	Chip:     "gpiochip0",
	Valve1:   17,
	Valve2:   27,
	Pump:     22,
	LEDRed:   5,
	LEDGreen: 6,
	LEDBlue:  13,
}

// relayPin returns the line offset for an actuator.
func (p Pins) relayPin(a logic.Actuator) int {
	switch a {
	case logic.Valve1:
		return p.Valve1
	case logic.Valve2:
		return p.Valve2
	default:
		return p.Pump
	}
}

// colorLevels maps a colour to per-line levels. GPIO lines cannot dim, so
// any non-zero channel lights its LED.
func colorLevels(c status.Color) [3]int {
	level := func(v uint8) int {
		if v > 0 {
			return 1
		}
		return 0
	}
	return [3]int{level(c.R), level(c.G), level(c.B)}
}

func boolLevel(on bool) int {
	if on {
		return 1
	}
	return 0
}
