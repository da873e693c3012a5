package logic

import (
	"errors"
	"fmt"
)

// Relays performs the physical write for one actuator.
type Relays interface {
	Set(a Actuator, on bool) error
}

// Arbiter grants requested actuator states by issuing the minimal set of
// physical writes. It is the only owner of the granted state.
type Arbiter struct {
	relays Relays
	state  Actuators
}

// NewArbiter creates an arbiter with everything off.
func NewArbiter(relays Relays) *Arbiter {
	return &Arbiter{relays: relays}
}

// State returns the granted state, i.e. the last values written to hardware.
func (a *Arbiter) State() Actuators {
	return a.state
}

// Init writes the current state to every actuator once. Used during bring-up
// to put the relay outputs in a known position.
func (a *Arbiter) Init() error {
	var errs []error
	for _, act := range AllActuators {
		if err := a.relays.Set(act, a.state.Get(act)); err != nil {
			errs = append(errs, fmt.Errorf("init %s: %w", act, err))
		}
	}
	return errors.Join(errs...)
}

// Reconcile writes every actuator whose request differs from the granted
// state. Actuators are handled independently: a failed write leaves that
// actuator's state unchanged so it is retried on the next call, while the
// others still converge. changed is true if at least one write succeeded.
func (a *Arbiter) Reconcile(request Actuators) (changed bool, err error) {
	var errs []error
	for _, act := range AllActuators {
		want := request.Get(act)
		if want == a.state.Get(act) {
			continue
		}
		if werr := a.relays.Set(act, want); werr != nil {
			errs = append(errs, fmt.Errorf("set %s: %w", act, werr))
			continue
		}
		a.state.Set(act, want)
		changed = true
	}
	return changed, errors.Join(errs...)
}
