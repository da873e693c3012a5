//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/humidistat/internal/logic"
	"github.com/sweeney/humidistat/internal/status"
)

// RealOutputs drives relays and the status LED on actual hardware using the
// Linux GPIO character device. Relays are active-high.
type RealOutputs struct {
	chip   *gpiocdev.Chip
	relays [len(logic.AllActuators)]*gpiocdev.Line
	led    [3]*gpiocdev.Line
}

var _ Outputs = (*RealOutputs)(nil)

// NewRealOutputs requests all output lines, initially low.
func NewRealOutputs(pins Pins) (*RealOutputs, error) {
	chip, err := gpiocdev.NewChip(pins.Chip, gpiocdev.WithConsumer("humidistat"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", pins.Chip, err)
	}
	o := &RealOutputs{chip: chip}

	for _, act := range logic.AllActuators {
		pin := pins.relayPin(act)
		line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("request %s pin %d: %w", act, pin, err)
		}
		o.relays[act] = line
	}

	for i, pin := range [3]int{pins.LEDRed, pins.LEDGreen, pins.LEDBlue} {
		line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("request led pin %d: %w", pin, err)
		}
		o.led[i] = line
	}

	return o, nil
}

// Set drives one relay line.
func (o *RealOutputs) Set(a logic.Actuator, on bool) error {
	if a < 0 || int(a) >= len(o.relays) || o.relays[a] == nil {
		return fmt.Errorf("no line for %s", a)
	}
	if err := o.relays[a].SetValue(boolLevel(on)); err != nil {
		return fmt.Errorf("write %s pin: %w", a, err)
	}
	return nil
}

// SetColor drives the three LED lines.
func (o *RealOutputs) SetColor(c status.Color) error {
	var errs []error
	for i, v := range colorLevels(c) {
		if o.led[i] == nil {
			continue
		}
		if err := o.led[i].SetValue(v); err != nil {
			errs = append(errs, fmt.Errorf("write led pin: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases GPIO resources.
// Every output is driven low and then reconfigured as an input with pull-down
// (matching Pi boot defaults) so no relay stays energised after exit.
func (o *RealOutputs) Close() error {
	var errs []error

	lines := make([]*gpiocdev.Line, 0, len(o.relays)+len(o.led))
	lines = append(lines, o.relays[:]...)
	lines = append(lines, o.led[:]...)
	for _, line := range lines {
		if line == nil {
			continue
		}
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("clear pin %d: %w", line.Offset(), err))
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", line.Offset(), err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", line.Offset(), err))
		}
	}
	if o.chip != nil {
		if err := o.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	return errors.Join(errs...)
}
