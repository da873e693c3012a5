package logic

// MinDAQPeriod is the shortest acquisition period in ms.
// The BME280 must not be read out faster than once per second.
const MinDAQPeriod uint32 = 1000

// Interval fires at a fixed period using strict-interval timekeeping: the
// next deadline is the previous deadline plus the period, never "now" plus
// the period, so late iterations do not shift the phase.
type Interval struct {
	next   Tick
	period uint32
}

// NewInterval creates an interval whose first deadline is start+period.
// Periods below MinDAQPeriod are raised to it.
func NewInterval(start Tick, period uint32) *Interval {
	if period < MinDAQPeriod {
		period = MinDAQPeriod
	}
	return &Interval{next: start, period: period}
}

// Period returns the effective period in ms.
func (i *Interval) Period() uint32 {
	return i.period
}

// Next returns the reference tick of the current cycle. The interval is due
// once now has moved a full period past it.
func (i *Interval) Next() Tick {
	return i.next
}

// Due reports whether a period has elapsed and, if so, advances the
// reference by exactly one period.
func (i *Interval) Due(now Tick) bool {
	if Since(now, i.next) < i.period {
		return false
	}
	i.next += Tick(i.period)
	return true
}
