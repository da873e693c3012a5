package controller

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/humidistat/internal/gpio"
	"github.com/sweeney/humidistat/internal/link"
	"github.com/sweeney/humidistat/internal/logic"
	"github.com/sweeney/humidistat/internal/sensor"
	"github.com/sweeney/humidistat/internal/status"
)

var (
	reading1 = logic.Reading{Temperature: 21.5, Humidity: 45.25, Pressure: 101325}
	reading2 = logic.Reading{Temperature: 22, Humidity: 50, Pressure: 100000}
)

// rig wires a controller to fakes.
type rig struct {
	relays *gpio.FakeRelays
	pixel  *gpio.FakePixel
	s1, s2 *sensor.Fake
	out    *link.Fake
	sleeps []time.Duration
	ctrl   *Controller
}

func newRig(t *testing.T, opts Options) *rig {
	t.Helper()
	r := &rig{
		relays: gpio.NewFakeRelays(),
		pixel:  &gpio.FakePixel{},
		s1:     sensor.NewFake(reading1),
		s2:     sensor.NewFake(reading2),
		out:    link.NewFake(),
	}
	r.ctrl = New(Deps{
		Relays:  r.relays,
		Pixel:   r.pixel,
		Sensors: [logic.Channels]sensor.Gateway{r.s1, r.s2},
		Out:     r.out,
		Sleep:   func(d time.Duration) { r.sleeps = append(r.sleeps, d) },
	}, opts)
	return r
}

// started runs Setup and Start(at), then clears recorded output.
func (r *rig) started(at logic.Tick) *rig {
	r.ctrl.Setup()
	r.ctrl.Start(at)
	r.relays.Writes = nil
	r.out.Written = nil
	r.sleeps = nil
	return r
}

func (r *rig) step(now logic.Tick, line string) {
	r.ctrl.Step(Input{Now: now, Line: line, HasLine: line != ""})
}

func (r *rig) takeLines() []string {
	lines := r.out.Written
	r.out.Written = nil
	return lines
}

func fields(line string) []string {
	return strings.Split(strings.TrimSuffix(line, "\n"), "\t")
}

func v1Options() Options {
	opts := DefaultOptions()
	opts.Protocol = logic.ProtocolV1
	return opts
}

func TestStageOrder(t *testing.T) {
	var trace []Stage
	opts := DefaultOptions()
	opts.Trace = func(s Stage) { trace = append(trace, s) }
	r := newRig(t, opts).started(0)

	r.step(1, "v11")

	want := []Stage{StageCommand, StageArbitrate, StageBurst, StageDAQ, StageIndicator}
	if len(trace) != len(want) {
		t.Fatalf("expected %d stages, got %v", len(want), trace)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Errorf("stage %d: expected %s, got %s", i, want[i], trace[i])
		}
	}
}

func TestStageString(t *testing.T) {
	if StageDAQ.String() != "daq" || Stage(42).String() != "unknown" {
		t.Errorf("unexpected stage names: %s, %s", StageDAQ, Stage(42))
	}
}

func TestSetup(t *testing.T) {
	r := newRig(t, DefaultOptions())
	r.ctrl.Setup()

	if len(r.relays.Writes) != 3 {
		t.Errorf("expected 3 initial relay writes, got %d", len(r.relays.Writes))
	}
	for _, w := range r.relays.Writes {
		if w.On {
			t.Errorf("initial write turned %s on", w.Actuator)
		}
	}
	if len(r.pixel.Colors) != 2 || r.pixel.Colors[0] != status.ColorSettingUp || r.pixel.Colors[1] != status.ColorIdle {
		t.Errorf("expected blue then green, got %+v", r.pixel.Colors)
	}
	if r.s1.Connects != 1 || r.s2.Connects != 1 {
		t.Errorf("expected one connect per sensor, got %d/%d", r.s1.Connects, r.s2.Connects)
	}
	if r.s1.Reads != 1 || r.s2.Reads != 1 {
		t.Errorf("expected one initial read per sensor, got %d/%d", r.s1.Reads, r.s2.Reads)
	}
	if len(r.out.Written) != 0 {
		t.Errorf("setup should be silent when sensors answer, got %q", r.out.Written)
	}
	if len(r.sleeps) != 0 {
		t.Errorf("expected no retry sleeps, got %v", r.sleeps)
	}
}

func TestSetupSensorsMissing(t *testing.T) {
	r := newRig(t, DefaultOptions())
	r.s1.ConnectResults = []bool{false}
	r.s2.ConnectResults = []bool{false}
	r.ctrl.Setup()

	want := []string{"Could not find BME280 sensor #1\n", "Could not find BME280 sensor #2\n"}
	if len(r.out.Written) != 2 || r.out.Written[0] != want[0] || r.out.Written[1] != want[1] {
		t.Errorf("expected diagnostics %q, got %q", want, r.out.Written)
	}
	if r.s1.Connects != 3 || r.s2.Connects != 3 {
		t.Errorf("expected 3 tries per sensor, got %d/%d", r.s1.Connects, r.s2.Connects)
	}
	if len(r.sleeps) != 4 {
		t.Errorf("expected 4 retry sleeps, got %d", len(r.sleeps))
	}
	if r.pixel.Last() != status.ColorIdle {
		t.Errorf("device should still go idle, got %+v", r.pixel.Last())
	}

	r.ctrl.Start(0)
	r.out.Written = nil
	r.step(1000, "")
	lines := r.takeLines()
	if len(lines) != 1 {
		t.Fatalf("expected one DAQ report, got %q", lines)
	}
	f := fields(lines[0])
	for i := 4; i < 10; i++ {
		if f[i] != "nan" {
			t.Errorf("field %d: expected nan, got %q", i, f[i])
		}
	}
}

func TestValve1On(t *testing.T) {
	for _, opts := range []Options{DefaultOptions(), v1Options()} {
		r := newRig(t, opts).started(0)

		r.step(10, "v11")

		if got := r.relays.Writes; len(got) != 1 || got[0] != (gpio.Write{Actuator: logic.Valve1, On: true}) {
			t.Errorf("%s: expected one valve_1 write, got %+v", opts.Protocol, got)
		}
		lines := r.takeLines()
		if len(lines) != 1 {
			t.Fatalf("%s: expected one report, got %q", opts.Protocol, lines)
		}
		want := "10\t1\t0\t0\t45.25\t50.00\t21.50\t22.00\t101325\t100000\n"
		if lines[0] != want {
			t.Errorf("%s: report = %q, want %q", opts.Protocol, lines[0], want)
		}
	}
}

func TestArbitrationIdempotent(t *testing.T) {
	r := newRig(t, DefaultOptions()).started(0)

	r.step(10, "a101")
	r.step(20, "a101")
	r.step(30, "")

	if len(r.relays.Writes) != 2 {
		t.Errorf("expected 2 writes (valve_1, pump), got %+v", r.relays.Writes)
	}
	if lines := r.takeLines(); len(lines) != 1 {
		t.Errorf("expected exactly one change report, got %q", lines)
	}
}

func TestExplicitBurstExample(t *testing.T) {
	r := newRig(t, v1Options()).started(0)

	r.step(100, "b101500")
	if r.relays.State != (logic.Actuators{Valve1: true, Pump: true}) {
		t.Fatalf("expected valve_1 and pump on, got %+v", r.relays.State)
	}
	if lines := r.takeLines(); len(lines) != 1 || fields(lines[0])[1] != "1" || fields(lines[0])[3] != "1" {
		t.Fatalf("expected one report with valve_1 and pump on, got %q", lines)
	}

	r.step(599, "")
	if !r.relays.State.Valve1 {
		t.Fatal("burst expired early")
	}
	if lines := r.takeLines(); len(lines) != 0 {
		t.Errorf("unexpected output before expiry: %q", lines)
	}

	r.step(600, "")
	if r.relays.State != (logic.Actuators{}) {
		t.Fatalf("expected all off after burst, got %+v", r.relays.State)
	}
	lines := r.takeLines()
	if len(lines) != 1 {
		t.Fatalf("expected one reversion report, got %q", lines)
	}
	if f := fields(lines[0]); f[0] != "600" || f[1] != "0" || f[2] != "0" || f[3] != "0" {
		t.Errorf("unexpected reversion report %q", lines[0])
	}
}

func TestExplicitBurstZeroDuration(t *testing.T) {
	// Under v1, "b1" is an explicit burst with duration 0.
	r := newRig(t, v1Options()).started(0)

	r.step(10, "b1")

	got := r.relays.WritesFor(logic.Valve1)
	if len(got) != 2 || !got[0] || got[1] {
		t.Errorf("expected valve_1 on then off in one iteration, got %v", got)
	}
	if lines := r.takeLines(); len(lines) != 2 {
		t.Errorf("expected on and off reports, got %q", lines)
	}
}

func TestBurstAcrossWraparound(t *testing.T) {
	start := logic.Tick(math.MaxUint32 - 200)
	r := newRig(t, DefaultOptions()).started(start)

	armed := logic.Tick(math.MaxUint32 - 100)
	r.step(armed, "b1")
	if !r.relays.State.Valve1 || !r.relays.State.Pump {
		t.Fatalf("expected valve_1 and pump on, got %+v", r.relays.State)
	}

	r.step(armed+499, "") // wraps to 398
	if !r.relays.State.Valve1 {
		t.Fatal("burst fired early across wraparound")
	}
	r.step(armed+500, "") // 399
	if r.relays.State.Valve1 || r.relays.State.Pump {
		t.Errorf("burst did not fire across wraparound, got %+v", r.relays.State)
	}
}

func TestFixedBurstsIndependent(t *testing.T) {
	r := newRig(t, DefaultOptions()).started(0)

	r.step(0, "b1")
	r.step(100, "b2")
	if r.relays.State != (logic.Actuators{Valve1: true, Valve2: true, Pump: true}) {
		t.Fatalf("expected everything on, got %+v", r.relays.State)
	}

	r.step(500, "")
	// valve_1 group expired and released the shared pump.
	if r.relays.State != (logic.Actuators{Valve2: true}) {
		t.Fatalf("after b1 expiry expected only valve_2 on, got %+v", r.relays.State)
	}

	r.step(1099, "")
	if !r.relays.State.Valve2 {
		t.Fatal("b2 expired early")
	}
	r.step(1100, "")
	if r.relays.State != (logic.Actuators{}) {
		t.Errorf("expected all off after b2 expiry, got %+v", r.relays.State)
	}
}

func TestFixedBurstRearm(t *testing.T) {
	r := newRig(t, DefaultOptions()).started(0)

	r.step(0, "b1")
	r.step(400, "b1")
	r.step(500, "")
	if !r.relays.State.Valve1 {
		t.Fatal("re-armed burst fired against the first deadline")
	}
	r.step(900, "")
	if r.relays.State.Valve1 {
		t.Error("re-armed burst did not fire")
	}
}

func TestBurstNotVetoedByCommand(t *testing.T) {
	r := newRig(t, DefaultOptions()).started(0)

	r.step(0, "b1")
	r.step(500, "p1")

	if r.relays.State != (logic.Actuators{}) {
		t.Errorf("overdue burst must still release, got %+v", r.relays.State)
	}
}

func TestBurstVerbsPerProtocol(t *testing.T) {
	r := newRig(t, DefaultOptions()).started(0)
	r.step(10, "b101500")
	if r.relays.State != (logic.Actuators{}) {
		t.Errorf("v2 must ignore the explicit burst, got %+v", r.relays.State)
	}

	r = newRig(t, v1Options()).started(0)
	r.step(10, "b2")
	if len(r.relays.Writes) != 0 {
		t.Errorf("v1 b2 is a zero-length burst of nothing, got %+v", r.relays.Writes)
	}
}

func TestDAQStrictInterval(t *testing.T) {
	r := newRig(t, DefaultOptions()).started(0)

	var elapsed []string
	for _, now := range []logic.Tick{999, 1000, 1500, 2300, 2999, 3000, 4999} {
		r.step(now, "")
		for _, line := range r.takeLines() {
			elapsed = append(elapsed, fields(line)[0])
		}
	}

	want := []string{"1000", "2300", "3000", "4999"}
	if strings.Join(elapsed, ",") != strings.Join(want, ",") {
		t.Errorf("reports at %v, want %v", elapsed, want)
	}
	if r.ctrl.daq.Next() != 4000 {
		t.Errorf("expected deadline 4000, got %d", r.ctrl.daq.Next())
	}
}

func TestDAQFlashesIndicator(t *testing.T) {
	r := newRig(t, DefaultOptions()).started(0)

	r.step(1000, "")
	if r.pixel.Last() != status.ColorFlash {
		t.Fatalf("expected flash on acquisition, got %+v", r.pixel.Last())
	}
	r.step(1099, "")
	if r.pixel.Last() != status.ColorFlash {
		t.Fatal("flash reverted early")
	}
	r.step(1100, "")
	if r.pixel.Last() != status.ColorIdle {
		t.Errorf("expected idle after flash window, got %+v", r.pixel.Last())
	}
}

func TestActuatorChangeDoesNotFlash(t *testing.T) {
	r := newRig(t, DefaultOptions()).started(0)
	r.pixel.Colors = nil

	r.step(10, "p1")
	if len(r.pixel.Colors) != 0 {
		t.Errorf("change reports must not flash, got %+v", r.pixel.Colors)
	}
}

func TestContinuousToggle(t *testing.T) {
	r := newRig(t, DefaultOptions()).started(0)

	r.step(10, "c")
	r.step(1000, "")
	if lines := r.takeLines(); len(lines) != 0 {
		t.Fatalf("expected no report while disabled, got %q", lines)
	}

	r.step(1500, "c")
	r.step(1999, "")
	if lines := r.takeLines(); len(lines) != 0 {
		t.Fatalf("phase slipped: report at 1999 %q", lines)
	}
	r.step(2000, "")
	if lines := r.takeLines(); len(lines) != 1 || fields(lines[0])[0] != "2000" {
		t.Errorf("expected report at 2000, got %q", lines)
	}
}

func TestMeasureOnce(t *testing.T) {
	r := newRig(t, DefaultOptions()).started(0)

	r.step(250, "?")
	lines := r.takeLines()
	if len(lines) != 1 || fields(lines[0])[0] != "250" {
		t.Fatalf("expected immediate report at 250, got %q", lines)
	}
	if r.pixel.Last() != status.ColorFlash {
		t.Error("single-shot measurement should flash")
	}
	if r.ctrl.Snapshot(250).Continuous {
		t.Error("? must disable continuous reporting")
	}

	r.step(1000, "")
	if lines := r.takeLines(); len(lines) != 0 {
		t.Errorf("expected no DAQ report after ?, got %q", lines)
	}
}

func TestV1IgnoresContinuousVerbs(t *testing.T) {
	r := newRig(t, v1Options()).started(0)

	r.step(10, "c")
	r.step(20, "?")
	if lines := r.takeLines(); len(lines) != 0 {
		t.Fatalf("v1 must ignore c and ?, got %q", lines)
	}
	r.step(1000, "")
	if lines := r.takeLines(); len(lines) != 1 {
		t.Errorf("v1 always reports on DAQ, got %q", lines)
	}
}

func TestIdentify(t *testing.T) {
	r := newRig(t, DefaultOptions()).started(0)
	r.step(5, "id?")
	if got := r.out.Output(); got != "Arduino, Humidistat v1\n" {
		t.Errorf("identity = %q", got)
	}

	opts := DefaultOptions()
	opts.Identity = "Pi, Humidistat v2"
	r = newRig(t, opts).started(0)
	r.step(5, "id?")
	if got := r.out.Output(); got != "Pi, Humidistat v2\n" {
		t.Errorf("identity = %q", got)
	}
}

func TestUnknownCommandsInert(t *testing.T) {
	for _, opts := range []Options{DefaultOptions(), v1Options()} {
		r := newRig(t, opts).started(0)
		for i, line := range []string{"xyz", "id", "rr", "v3", "ID?", "0101"} {
			r.step(logic.Tick(10+i), line)
		}
		if len(r.relays.Writes) != 0 {
			t.Errorf("%s: unexpected writes %+v", opts.Protocol, r.relays.Writes)
		}
		if lines := r.takeLines(); len(lines) != 0 {
			t.Errorf("%s: unexpected output %q", opts.Protocol, lines)
		}
		if r.s1.Connects != 1 {
			t.Errorf("%s: unexpected reconnect", opts.Protocol)
		}
	}
}

func TestMalformedParametersDefaultOff(t *testing.T) {
	r := newRig(t, DefaultOptions()).started(0)
	r.step(10, "a111")
	r.step(20, "a1x")

	if r.relays.State != (logic.Actuators{Valve1: true}) {
		t.Errorf("expected valve_1 only, got %+v", r.relays.State)
	}
}

func TestReconnectFailureReportsNaN(t *testing.T) {
	r := newRig(t, DefaultOptions())
	r.s2.ConnectResults = []bool{true, false}
	r.started(0)

	r.step(10, "r")
	lines := r.takeLines()
	if len(lines) != 1 || lines[0] != "Could not find BME280 sensor #2\n" {
		t.Fatalf("expected diagnostic for sensor 2, got %q", lines)
	}
	if len(r.sleeps) != 2 {
		t.Errorf("expected 2 retry sleeps, got %d", len(r.sleeps))
	}

	r.step(1000, "")
	lines = r.takeLines()
	if len(lines) != 1 {
		t.Fatalf("expected one DAQ report, got %q", lines)
	}
	got := fields(lines[0])
	want := []string{"1000", "0", "0", "0", "45.25", "nan", "21.50", "nan", "101325", "nan"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("field %d: got %q, want %q", i, got[i], want[i])
		}
	}

	snap := r.ctrl.Snapshot(1000)
	if !snap.Connected[0] || snap.Connected[1] {
		t.Errorf("unexpected connection state %v", snap.Connected)
	}
}

func TestRelayFailureRetried(t *testing.T) {
	r := newRig(t, DefaultOptions()).started(0)
	r.relays.Errors = map[logic.Actuator]error{logic.Pump: errors.New("stuck")}

	r.step(10, "a101")
	if r.relays.State != (logic.Actuators{Valve1: true}) {
		t.Fatalf("expected valve_1 only, got %+v", r.relays.State)
	}
	if lines := r.takeLines(); len(lines) != 1 || fields(lines[0])[3] != "0" {
		t.Fatalf("report must show the granted state, got %q", lines)
	}

	r.step(20, "")
	if lines := r.takeLines(); len(lines) != 0 {
		t.Fatalf("failed retries must not report, got %q", lines)
	}

	r.relays.Errors = nil
	r.step(30, "")
	if !r.relays.State.Pump {
		t.Fatal("pump write was not retried")
	}
	if lines := r.takeLines(); len(lines) != 1 || fields(lines[0])[3] != "1" {
		t.Errorf("expected report once pump is granted, got %q", lines)
	}
}

func TestEmitFailureDoesNotStop(t *testing.T) {
	r := newRig(t, DefaultOptions()).started(0)
	r.out.WriteError = errors.New("unplugged")

	r.step(10, "v11")
	r.step(1000, "")

	if !r.relays.State.Valve1 {
		t.Error("actuator not switched")
	}
	if snap := r.ctrl.Snapshot(1000); snap.Reports != 2 {
		t.Errorf("expected 2 reports attempted, got %d", snap.Reports)
	}
}

func TestShutdown(t *testing.T) {
	r := newRig(t, DefaultOptions()).started(0)
	r.step(10, "b1")
	r.takeLines()

	r.ctrl.Shutdown(20)
	if r.relays.State != (logic.Actuators{}) {
		t.Errorf("expected all off, got %+v", r.relays.State)
	}
	if lines := r.takeLines(); len(lines) != 1 {
		t.Errorf("expected final report, got %q", lines)
	}
	if r.pixel.Last() != status.ColorOff {
		t.Errorf("expected pixel off, got %+v", r.pixel.Last())
	}
	if r.ctrl.bursts[burstValve1].Armed() {
		t.Error("burst still armed after shutdown")
	}
}

func TestSnapshot(t *testing.T) {
	r := newRig(t, DefaultOptions()).started(100)
	r.step(150, "p1")

	snap := r.ctrl.Snapshot(400)
	if snap.ElapsedMs != 300 {
		t.Errorf("ElapsedMs: got %d, want 300", snap.ElapsedMs)
	}
	if !snap.Requested.Pump || !snap.Granted.Pump {
		t.Errorf("expected pump requested and granted, got %+v", snap)
	}
	if snap.Phase != status.PhaseIdle {
		t.Errorf("Phase: got %s, want idle", snap.Phase)
	}
	if snap.Readings[0] != reading1 || snap.Readings[1] != reading2 {
		t.Errorf("unexpected readings %+v", snap.Readings)
	}
	if !snap.Continuous {
		t.Error("continuous reporting should start enabled")
	}
	if snap.Reports != 1 {
		t.Errorf("Reports: got %d, want 1", snap.Reports)
	}
}

func TestNewDefaults(t *testing.T) {
	c := New(Deps{Relays: gpio.NewFakeRelays()}, Options{DAQPeriod: 10})
	if c.opts.Protocol != logic.ProtocolV2 {
		t.Errorf("expected v2 default, got %s", c.opts.Protocol)
	}
	if c.daq.Period() != logic.MinDAQPeriod {
		t.Errorf("expected DAQ period raised to %d, got %d", logic.MinDAQPeriod, c.daq.Period())
	}
	if c.opts.BurstValve1 != 500 || c.opts.BurstValve2 != 1000 {
		t.Errorf("unexpected burst defaults %d/%d", c.opts.BurstValve1, c.opts.BurstValve2)
	}

	// Nil pixel, sensors and output are tolerated.
	c.Setup()
	c.Start(0)
	c.Step(Input{Now: 1000, Line: "id?", HasLine: true})
	if snap := c.Snapshot(1000); snap.Connected[0] || snap.Readings[0].Valid() {
		t.Errorf("missing sensors should read NaN, got %+v", snap)
	}
}
