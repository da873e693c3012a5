package sensor

import "github.com/sweeney/humidistat/internal/logic"

// Fake is a test double that returns scripted connect results and readings.
type Fake struct {
	// ConnectResults are consumed one per Connect call; the last repeats.
	// Empty means every connect succeeds.
	ConnectResults []bool

	// Readings are consumed one per Read call while connected; the last repeats.
	// Empty means NaN readings.
	Readings []logic.Reading

	// Connects and Reads count calls.
	Connects int
	Reads    int

	connected bool
	connIdx   int
	readIdx   int
}

var _ Gateway = (*Fake)(nil)

// NewFake creates a Fake returning the given readings.
func NewFake(readings ...logic.Reading) *Fake {
	return &Fake{Readings: readings}
}

// Connect returns the next scripted result.
func (f *Fake) Connect() bool {
	f.Connects++
	ok := true
	if len(f.ConnectResults) > 0 {
		ok = f.ConnectResults[f.connIdx]
		if f.connIdx < len(f.ConnectResults)-1 {
			f.connIdx++
		}
	}
	f.connected = ok
	return ok
}

// Read returns the next scripted reading, or NaN when not connected.
func (f *Fake) Read() logic.Reading {
	f.Reads++
	if !f.connected || len(f.Readings) == 0 {
		return logic.NoReading()
	}
	r := f.Readings[f.readIdx]
	if f.readIdx < len(f.Readings)-1 {
		f.readIdx++
	}
	return r
}

// Connected reports whether the last Connect succeeded.
func (f *Fake) Connected() bool {
	return f.connected
}
