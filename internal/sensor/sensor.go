// Package sensor connects to and samples the two BME280 environmental sensors.
package sensor

import (
	"time"

	"github.com/sweeney/humidistat/internal/logic"
)

// Gateway is one sensor channel.
type Gateway interface {
	// Connect (re)initialises the sensor and reports whether it answered.
	Connect() bool
	// Read samples the sensor. Fields are NaN when no reading is available.
	Read() logic.Reading
}

// DefaultAddresses are the I2C addresses of channel 1 and channel 2.
var DefaultAddresses = [logic.Channels]uint16{0x76, 0x77}

// Connection retry defaults.
const (
	DefaultRetries    = 3
	DefaultRetryDelay = time.Second
)

// ConnectWithRetry calls g.Connect up to tries times, sleeping delay between
// failed attempts. It blocks for at most (tries-1)*delay.
func ConnectWithRetry(g Gateway, tries int, delay time.Duration, sleep func(time.Duration)) bool {
	if tries < 1 {
		tries = 1
	}
	for attempt := 1; attempt <= tries; attempt++ {
		if g.Connect() {
			return true
		}
		if attempt < tries && sleep != nil {
			sleep(delay)
		}
	}
	return false
}

// ReadAll samples every channel in order.
func ReadAll(gateways [logic.Channels]Gateway) [logic.Channels]logic.Reading {
	var out [logic.Channels]logic.Reading
	for i, g := range gateways {
		if g == nil {
			out[i] = logic.NoReading()
			continue
		}
		out[i] = g.Read()
	}
	return out
}
