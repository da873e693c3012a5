// Package controller runs the humidistat scheduler: one Step per loop
// iteration, with command, arbitration, burst, acquisition and indicator
// stages in a fixed order. It owns all actuator, sensor and timer state.
package controller

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sweeney/humidistat/internal/logic"
	"github.com/sweeney/humidistat/internal/sensor"
	"github.com/sweeney/humidistat/internal/status"
)

// Stage is one phase of a loop iteration.
type Stage int

const (
	StageCommand Stage = iota
	StageArbitrate
	StageBurst
	StageDAQ
	StageIndicator
)

// Stages is the order in which Step runs the stages. Later stages depend
// on state mutated by earlier ones in the same iteration.
var Stages = [...]Stage{StageCommand, StageArbitrate, StageBurst, StageDAQ, StageIndicator}

func (s Stage) String() string {
	switch s {
	case StageCommand:
		return "command"
	case StageArbitrate:
		return "arbitrate"
	case StageBurst:
		return "burst"
	case StageDAQ:
		return "daq"
	case StageIndicator:
		return "indicator"
	default:
		return "unknown"
	}
}

// Emitter receives outgoing protocol lines.
type Emitter interface {
	WriteLine(line string) error
}

// Deps are the hardware collaborators.
type Deps struct {
	Relays  logic.Relays
	Pixel   status.Pixel
	Sensors [logic.Channels]sensor.Gateway
	Out     Emitter

	// Sleep is used between sensor connection attempts. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Options tune the scheduler. Durations are in ms.
type Options struct {
	Protocol       logic.Protocol
	Identity       string
	DAQPeriod      uint32
	FlashDuration  uint32
	BurstValve1    uint32
	BurstValve2    uint32
	ConnectRetries int
	RetryDelay     time.Duration

	// Trace, if set, is called before each stage runs.
	Trace func(Stage)
}

// DefaultOptions returns the stock timings: 1 s acquisition, 100 ms flash,
// 500 ms and 1000 ms fixed bursts.
func DefaultOptions() Options {
	return Options{
		Protocol:       logic.ProtocolV2,
		Identity:       logic.DefaultIdentity,
		DAQPeriod:      logic.MinDAQPeriod,
		FlashDuration:  status.DefaultFlashDuration,
		BurstValve1:    500,
		BurstValve2:    1000,
		ConnectRetries: sensor.DefaultRetries,
		RetryDelay:     sensor.DefaultRetryDelay,
	}
}

// Input is what one loop iteration observes.
type Input struct {
	Now     logic.Tick
	Line    string
	HasLine bool
}

// Burst timer slots.
const (
	burstExplicit = iota // v1 "b": all actuators
	burstValve1          // v2 "b1"
	burstValve2          // v2 "b2"
	burstCount
)

var burstNames = [burstCount]string{"explicit", "valve_1", "valve_2"}

// Controller is the explicit context object for one session.
// Not safe for concurrent use; drive it from a single loop.
type Controller struct {
	deps Deps
	opts Options

	arbiter   *logic.Arbiter
	indicator *status.Indicator
	bursts    [burstCount]*logic.BurstTimer
	daq       *logic.Interval

	request    logic.Actuators
	readings   [logic.Channels]logic.Reading
	connected  [logic.Channels]bool
	epoch      logic.Tick
	continuous bool
	reports    int
}

// New creates a controller. Zero-valued options take their defaults.
func New(deps Deps, opts Options) *Controller {
	def := DefaultOptions()
	if opts.Protocol == 0 {
		opts.Protocol = def.Protocol
	}
	if opts.Identity == "" {
		opts.Identity = def.Identity
	}
	if opts.DAQPeriod == 0 {
		opts.DAQPeriod = def.DAQPeriod
	}
	if opts.FlashDuration == 0 {
		opts.FlashDuration = def.FlashDuration
	}
	if opts.BurstValve1 == 0 {
		opts.BurstValve1 = def.BurstValve1
	}
	if opts.BurstValve2 == 0 {
		opts.BurstValve2 = def.BurstValve2
	}
	if opts.ConnectRetries == 0 {
		opts.ConnectRetries = def.ConnectRetries
	}
	if deps.Sleep == nil {
		deps.Sleep = time.Sleep
	}
	if deps.Pixel == nil {
		deps.Pixel = nopPixel{}
	}

	c := &Controller{
		deps:       deps,
		opts:       opts,
		arbiter:    logic.NewArbiter(deps.Relays),
		indicator:  status.NewIndicator(deps.Pixel, opts.FlashDuration),
		daq:        logic.NewInterval(0, opts.DAQPeriod),
		continuous: true,
		readings:   [logic.Channels]logic.Reading{logic.NoReading(), logic.NoReading()},
	}
	c.bursts[burstExplicit] = logic.NewBurstTimer(logic.Actuators{Valve1: true, Valve2: true, Pump: true})
	c.bursts[burstValve1] = logic.NewBurstTimer(logic.Actuators{Valve1: true})
	c.bursts[burstValve2] = logic.NewBurstTimer(logic.Actuators{Valve2: true})
	return c
}

// Setup brings the hardware up: relays to a known (off) state, indicator
// to setting-up, sensors connected with bounded retry, a first reading
// taken, then the indicator goes idle. This is the only place besides the
// reconnect command that blocks.
func (c *Controller) Setup() {
	if err := c.arbiter.Init(); err != nil {
		log.Error().Err(err).Msg("Relay initialisation failed")
	}
	if err := c.indicator.Begin(); err != nil {
		log.Warn().Err(err).Msg("Status pixel write failed")
	}

	c.connectSensors()
	// The first conversion is kept. Change reports sent before the first
	// scheduled acquisition carry it.
	c.readings = sensor.ReadAll(c.deps.Sensors)

	if err := c.indicator.Ready(); err != nil {
		log.Warn().Err(err).Msg("Status pixel write failed")
	}
	log.Info().
		Str("protocol", c.opts.Protocol.String()).
		Uint32("daq_period_ms", c.daq.Period()).
		Bool("sensor_1", c.connected[0]).
		Bool("sensor_2", c.connected[1]).
		Msg("Controller ready")
}

// Start anchors the elapsed-time epoch and the acquisition schedule at now.
func (c *Controller) Start(now logic.Tick) {
	c.epoch = now
	c.daq = logic.NewInterval(now, c.opts.DAQPeriod)
}

// Step runs one loop iteration.
func (c *Controller) Step(in Input) {
	for _, st := range Stages {
		if c.opts.Trace != nil {
			c.opts.Trace(st)
		}
		switch st {
		case StageCommand:
			if in.HasLine {
				c.dispatch(logic.Parse(in.Line, c.opts.Protocol), in.Now)
			}
		case StageArbitrate:
			c.arbitrate(in.Now)
		case StageBurst:
			c.expireBursts(in.Now)
		case StageDAQ:
			if c.daq.Due(in.Now) && c.reporting() {
				c.measureAndReport(in.Now)
			}
		case StageIndicator:
			if _, err := c.indicator.Update(in.Now); err != nil {
				log.Warn().Err(err).Msg("Status pixel write failed")
			}
		}
	}
}

// Shutdown requests every actuator off, applies it and blanks the indicator.
func (c *Controller) Shutdown(now logic.Tick) {
	for _, b := range c.bursts {
		b.Disarm()
	}
	c.request = logic.Actuators{}
	c.arbitrate(now)
	if err := c.indicator.Off(); err != nil {
		log.Warn().Err(err).Msg("Status pixel write failed")
	}
}

// Snapshot returns a point-in-time view of the controller.
// StartTime, Now and Config are left for the caller to fill.
func (c *Controller) Snapshot(now logic.Tick) status.Snapshot {
	return status.Snapshot{
		Phase:      c.indicator.Phase(),
		Requested:  c.request,
		Granted:    c.arbiter.State(),
		Readings:   c.readings,
		Connected:  c.connected,
		Continuous: c.continuous,
		ElapsedMs:  logic.Since(now, c.epoch),
		Reports:    c.reports,
	}
}

// reporting reports whether a due acquisition should run.
func (c *Controller) reporting() bool {
	return c.opts.Protocol == logic.ProtocolV1 || c.continuous
}

func (c *Controller) dispatch(cmd logic.Command, now logic.Tick) {
	log.Debug().Str("verb", cmd.Verb.String()).Msg("Command received")

	switch cmd.Verb {
	case logic.VerbIdentify:
		c.emit(c.opts.Identity)
	case logic.VerbSetAll:
		c.request = cmd.Request
	case logic.VerbBurst:
		c.request = cmd.Request
		c.bursts[burstExplicit].Arm(now, cmd.Duration)
	case logic.VerbBurstValve1:
		c.request.Valve1 = true
		c.request.Pump = true
		c.bursts[burstValve1].Arm(now, c.opts.BurstValve1)
	case logic.VerbBurstValve2:
		c.request.Valve2 = true
		c.request.Pump = true
		c.bursts[burstValve2].Arm(now, c.opts.BurstValve2)
	case logic.VerbValve1:
		c.request.Valve1 = cmd.On
	case logic.VerbValve2:
		c.request.Valve2 = cmd.On
	case logic.VerbPump:
		c.request.Pump = cmd.On
	case logic.VerbReconnect:
		c.connectSensors()
	case logic.VerbToggleContinuous:
		c.continuous = !c.continuous
		log.Info().Bool("continuous", c.continuous).Msg("Continuous reporting toggled")
	case logic.VerbMeasureOnce:
		c.continuous = false
		c.measureAndReport(now)
	}
}

// arbitrate applies the request and reports when the granted state changed.
func (c *Controller) arbitrate(now logic.Tick) {
	before := c.arbiter.State()
	changed, err := c.arbiter.Reconcile(c.request)
	if err != nil {
		log.Error().Err(err).Msg("Relay write failed, retrying next iteration")
	}
	if !changed {
		return
	}
	after := c.arbiter.State()
	for _, act := range logic.AllActuators {
		if before.Get(act) != after.Get(act) {
			log.Info().Str("actuator", act.String()).Bool("on", after.Get(act)).Msg("Actuator switched")
		}
	}
	c.report(now)
}

func (c *Controller) expireBursts(now logic.Tick) {
	fired := false
	for i, b := range c.bursts {
		if b.Check(now, &c.request) {
			log.Debug().Str("burst", burstNames[i]).Msg("Burst expired")
			fired = true
		}
	}
	if fired {
		c.arbitrate(now)
	}
}

func (c *Controller) measureAndReport(now logic.Tick) {
	if err := c.indicator.Flash(now); err != nil {
		log.Warn().Err(err).Msg("Status pixel write failed")
	}
	c.readings = sensor.ReadAll(c.deps.Sensors)
	c.report(now)
}

func (c *Controller) report(now logic.Tick) {
	c.emit(logic.FormatReport(logic.Since(now, c.epoch), c.arbiter.State(), c.readings))
	c.reports++
}

func (c *Controller) connectSensors() {
	for i, g := range c.deps.Sensors {
		ok := g != nil && sensor.ConnectWithRetry(g, c.opts.ConnectRetries, c.opts.RetryDelay, c.deps.Sleep)
		c.connected[i] = ok
		if !ok {
			msg := fmt.Sprintf("Could not find BME280 sensor #%d", i+1)
			log.Warn().Int("channel", i+1).Msg(msg)
			c.emit(msg)
		}
	}
}

type nopPixel struct{}

func (nopPixel) SetColor(status.Color) error { return nil }

// emit never fails; transport errors are logged.
func (c *Controller) emit(line string) {
	if c.deps.Out == nil {
		return
	}
	if err := c.deps.Out.WriteLine(line); err != nil {
		log.Error().Err(err).Msg("Serial write failed")
	}
}
