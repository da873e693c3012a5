package gpio

import (
	"github.com/sweeney/humidistat/internal/logic"
	"github.com/sweeney/humidistat/internal/status"
)

// Write is one recorded relay write.
type Write struct {
	Actuator logic.Actuator
	On       bool
}

// FakeRelays is a test double that records relay writes.
type FakeRelays struct {
	// Writes contains every successful write in order.
	Writes []Write

	// State is the level last written per actuator.
	State logic.Actuators

	// Errors, if set for an actuator, is returned by Set for it.
	Errors map[logic.Actuator]error

	// Closed tracks if Close was called
	Closed bool
}

var _ logic.Relays = (*FakeRelays)(nil)

// NewFakeRelays creates a FakeRelays with all outputs low.
func NewFakeRelays() *FakeRelays {
	return &FakeRelays{}
}

// Set records the write or returns the scripted error.
func (f *FakeRelays) Set(a logic.Actuator, on bool) error {
	if err := f.Errors[a]; err != nil {
		return err
	}
	f.Writes = append(f.Writes, Write{Actuator: a, On: on})
	f.State.Set(a, on)
	return nil
}

// WritesFor returns the recorded writes for one actuator.
func (f *FakeRelays) WritesFor(a logic.Actuator) []bool {
	var out []bool
	for _, w := range f.Writes {
		if w.Actuator == a {
			out = append(out, w.On)
		}
	}
	return out
}

// Close drives every output low and marks the relays as closed.
func (f *FakeRelays) Close() error {
	f.State = logic.Actuators{}
	f.Closed = true
	return nil
}

// Reset clears recorded writes and errors.
func (f *FakeRelays) Reset() {
	f.Writes = nil
	f.Errors = nil
	f.Closed = false
}

// FakePixel is a test double that records status pixel colours.
type FakePixel struct {
	Colors   []status.Color
	SetError error
}

var _ status.Pixel = (*FakePixel)(nil)

// SetColor records the colour; the colour is recorded even when SetError is set.
func (f *FakePixel) SetColor(c status.Color) error {
	f.Colors = append(f.Colors, c)
	return f.SetError
}

// Last returns the most recent colour, or ColorOff if none was set.
func (f *FakePixel) Last() status.Color {
	if len(f.Colors) == 0 {
		return status.ColorOff
	}
	return f.Colors[len(f.Colors)-1]
}

// FakeOutputs combines FakeRelays and FakePixel into Outputs.
type FakeOutputs struct {
	*FakeRelays
	*FakePixel
}

var _ Outputs = FakeOutputs{}

// NewFakeOutputs creates a FakeOutputs with fresh fakes.
func NewFakeOutputs() FakeOutputs {
	return FakeOutputs{FakeRelays: NewFakeRelays(), FakePixel: &FakePixel{}}
}
