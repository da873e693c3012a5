// Package logic contains the pure scheduling and protocol logic of the humidistat.
// This package has NO hardware or I/O dependencies (no GPIO, serial, I2C, or time.Sleep).
// Time is always injectable as a Tick.
package logic

import "github.com/chewxy/math32"

// Tick is a monotonic millisecond counter. It wraps around after ~49.7 days,
// so ticks must only ever be compared through Since.
type Tick uint32

// Since returns the number of milliseconds from then to now, modulo 2^32.
func Since(now, then Tick) uint32 {
	return uint32(now - then)
}

// Actuator identifies one relay-driven output.
type Actuator int

const (
	Valve1 Actuator = iota
	Valve2
	Pump
)

// AllActuators lists actuators in report order.
var AllActuators = [...]Actuator{Valve1, Valve2, Pump}

func (a Actuator) String() string {
	switch a {
	case Valve1:
		return "valve_1"
	case Valve2:
		return "valve_2"
	case Pump:
		return "pump"
	default:
		return "unknown"
	}
}

// Actuators holds one boolean per actuator. It is used both for the
// requested (desired) and the granted (physically applied) state.
type Actuators struct {
	Valve1 bool
	Valve2 bool
	Pump   bool
}

// Get returns the value for a.
func (s Actuators) Get(a Actuator) bool {
	switch a {
	case Valve1:
		return s.Valve1
	case Valve2:
		return s.Valve2
	case Pump:
		return s.Pump
	}
	return false
}

// Set assigns v to a.
func (s *Actuators) Set(a Actuator, v bool) {
	switch a {
	case Valve1:
		s.Valve1 = v
	case Valve2:
		s.Valve2 = v
	case Pump:
		s.Pump = v
	}
}

// Reading is one sample of a BME280 channel.
// NaN in any field means no reading is available.
type Reading struct {
	Temperature float32 // ['C]
	Humidity    float32 // [% RH]
	Pressure    float32 // [Pa]
}

// NoReading returns a Reading with every field set to NaN.
func NoReading() Reading {
	nan := math32.NaN()
	return Reading{Temperature: nan, Humidity: nan, Pressure: nan}
}

// Valid reports whether all fields hold a number.
func (r Reading) Valid() bool {
	return !math32.IsNaN(r.Temperature) && !math32.IsNaN(r.Humidity) && !math32.IsNaN(r.Pressure)
}

// Channels is the number of sensor channels.
const Channels = 2
