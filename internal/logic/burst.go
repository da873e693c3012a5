package logic

// BurstTimer switches a group of actuators off a fixed time after it was armed.
// The pump is always part of the group since it is co-activated with any valve.
type BurstTimer struct {
	// Affects marks the actuators released when the timer fires.
	Affects Actuators

	armed    bool
	start    Tick
	duration uint32
}

// NewBurstTimer creates a disarmed timer for the given group.
func NewBurstTimer(affects Actuators) *BurstTimer {
	affects.Pump = true
	return &BurstTimer{Affects: affects}
}

// Arm starts (or restarts) the timer. Re-arming an armed timer replaces
// its start and duration; expirations are never queued.
func (b *BurstTimer) Arm(now Tick, duration uint32) {
	b.armed = true
	b.start = now
	b.duration = duration
}

// Disarm cancels a pending burst without touching any request.
func (b *BurstTimer) Disarm() {
	b.armed = false
}

// Armed reports whether the timer is pending.
func (b *BurstTimer) Armed() bool {
	return b.armed
}

// Deadline returns the start tick and duration of the pending burst.
func (b *BurstTimer) Deadline() (start Tick, duration uint32) {
	return b.start, b.duration
}

// Check fires the timer if it is armed and due. Firing turns the affected
// actuators off in request and disarms the timer. It returns true exactly
// once per arming.
func (b *BurstTimer) Check(now Tick, request *Actuators) bool {
	if !b.armed || Since(now, b.start) < b.duration {
		return false
	}
	b.armed = false
	for _, act := range AllActuators {
		if b.Affects.Get(act) {
			request.Set(act, false)
		}
	}
	return true
}
