//go:build !linux

package gpio

import (
	"errors"

	"github.com/sweeney/humidistat/internal/logic"
	"github.com/sweeney/humidistat/internal/status"
)

var errUnsupported = errors.New("gpio: not supported")

// RealOutputs is not available on non-Linux platforms.
type RealOutputs struct{}

var _ Outputs = (*RealOutputs)(nil)

// NewRealOutputs returns an error on non-Linux platforms.
func NewRealOutputs(pins Pins) (*RealOutputs, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Set is not implemented on non-Linux platforms.
func (o *RealOutputs) Set(a logic.Actuator, on bool) error {
	return errUnsupported
}

// SetColor is not implemented on non-Linux platforms.
func (o *RealOutputs) SetColor(c status.Color) error {
	return errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (o *RealOutputs) Close() error {
	return nil
}
