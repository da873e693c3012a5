// Command humidistat drives two humidifier valves and a pump from serial
// commands and reports two BME280 sensors over the same link.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/i2c"

	"github.com/sweeney/humidistat/internal/config"
	"github.com/sweeney/humidistat/internal/controller"
	"github.com/sweeney/humidistat/internal/gpio"
	"github.com/sweeney/humidistat/internal/link"
	"github.com/sweeney/humidistat/internal/logging"
	"github.com/sweeney/humidistat/internal/logic"
	"github.com/sweeney/humidistat/internal/sensor"
	"github.com/sweeney/humidistat/internal/status"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configFile   string
	portFlag     string
	protocolFlag string
	logLevelFlag string

	rootCmd = &cobra.Command{
		Use:          "humidistat",
		Short:        "Humidistat controller",
		Long:         "Humidistat controller. Switches two valves and a pump on serial commands and reports two BME280 sensors.",
		SilenceUsage: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the controller",
		RunE:  runDaemon,
	}

	probeCmd = &cobra.Command{
		Use:   "probe",
		Short: "Take one sensor acquisition and print the status JSON",
		RunE:  runProbe,
	}

	portsCmd = &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := link.Ports()
			if err != nil {
				return err
			}
			for _, p := range ports {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "humidistat %s\n", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultPath, "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&portFlag, "port", "", "Serial device (overrides serial.port)")
	rootCmd.PersistentFlags().StringVar(&protocolFlag, "protocol", "", "Command protocol v1 or v2 (overrides protocol)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (overrides logging.level)")
	rootCmd.AddCommand(runCmd, probeCmd, portsCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyOverrides(cfg, portFlag, protocolFlag, logLevelFlag)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config, port, protocol, level string) {
	if port != "" {
		cfg.Serial.Port = port
	}
	if protocol != "" {
		cfg.Protocol = protocol
	}
	if level != "" {
		cfg.Logging.Level = level
	}
}

func initLogging(cfg *config.Config) (io.Closer, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	closer, err := logging.Init(level, cfg.Logging.File)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return closer, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logCloser, err := initLogging(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	port, err := link.Open(cfg.Serial.Port, cfg.Serial.BaudRate, link.DefaultLineBuffer)
	if err != nil {
		return fmt.Errorf("init serial: %w", err)
	}
	defer port.Close()

	hw, err := openHardware(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := hw.Close(); err != nil {
			log.Error().Err(err).Msg("Hardware release failed")
		}
	}()

	ctrl := controller.New(controller.Deps{
		Relays:  hw.outputs,
		Pixel:   hw.outputs,
		Sensors: hw.sensors,
		Out:     port,
	}, controllerOptions(cfg))
	ctrl.Setup()

	start := time.Now()
	clock := millisClock(start)
	ctrl.Start(clock())

	meta := statusMeta{start: start, config: statusConfig(cfg)}
	logStatusEvent(meta.snapshot(ctrl, clock()), "STARTUP", "")
	log.Info().
		Str("port", cfg.Serial.Port).
		Int("baud_rate", cfg.Serial.BaudRate).
		Str("protocol", cfg.ProtocolVersion().String()).
		Dur("loop_interval", cfg.Timing.LoopInterval).
		Msg("Started")

	ticker := time.NewTicker(cfg.Timing.LoopInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(ctrl, port.Lines(), clock, ticker.C, sigCh, meta)
}

// runLoop runs one controller Step per tick, feeding it at most one
// command line. It returns once a signal arrives and everything is off.
func runLoop(ctrl *controller.Controller, lines <-chan string, now func() logic.Tick, tick <-chan time.Time, sig <-chan os.Signal, meta statusMeta) error {
	for {
		select {
		case s := <-sig:
			reason := signalName(s)
			log.Info().Str("signal", reason).Msg("Shutting down")
			t := now()
			ctrl.Shutdown(t)
			logStatusEvent(meta.snapshot(ctrl, t), "SHUTDOWN", reason)
			return nil

		case <-tick:
			in := controller.Input{Now: now()}
			select {
			case line, ok := <-lines:
				if !ok {
					log.Error().Msg("Serial link closed, no further commands")
					lines = nil
					break
				}
				in.Line = line
				in.HasLine = true
			default:
			}
			ctrl.Step(in)
		}
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

// millisClock returns a wrapping millisecond counter anchored at start.
func millisClock(start time.Time) func() logic.Tick {
	return func() logic.Tick {
		return logic.Tick(uint32(time.Since(start).Milliseconds()))
	}
}

// statusMeta carries the fields of a status snapshot the controller does not know.
type statusMeta struct {
	start  time.Time
	config status.Config
}

func (m statusMeta) snapshot(ctrl *controller.Controller, now logic.Tick) status.Snapshot {
	snap := ctrl.Snapshot(now)
	snap.StartTime = m.start
	snap.Now = time.Now()
	snap.Config = m.config
	return snap
}

func logStatusEvent(snap status.Snapshot, event, reason string) {
	log.Info().RawJSON("status", status.FormatStatusEvent(snap, event, reason)).Msg(event)
}

func controllerOptions(cfg *config.Config) controller.Options {
	opts := controller.Options{
		Protocol:       cfg.ProtocolVersion(),
		Identity:       cfg.Identity,
		DAQPeriod:      config.Millis(cfg.Timing.DAQPeriod),
		FlashDuration:  config.Millis(cfg.Timing.FlashDuration),
		BurstValve1:    config.Millis(cfg.Burst.Valve1),
		BurstValve2:    config.Millis(cfg.Burst.Valve2),
		ConnectRetries: cfg.Sensors.ConnectRetries,
		RetryDelay:     cfg.Sensors.RetryDelay,
	}
	if log.Logger.GetLevel() <= zerolog.TraceLevel {
		opts.Trace = func(s controller.Stage) {
			log.Trace().Str("stage", s.String()).Msg("Stage")
		}
	}
	return opts
}

func statusConfig(cfg *config.Config) status.Config {
	return status.Config{
		Port:          cfg.Serial.Port,
		Protocol:      cfg.ProtocolVersion().String(),
		DAQPeriodMs:   cfg.Timing.DAQPeriod.Milliseconds(),
		FlashMs:       cfg.Timing.FlashDuration.Milliseconds(),
		BurstValve1Ms: cfg.Burst.Valve1.Milliseconds(),
		BurstValve2Ms: cfg.Burst.Valve2.Milliseconds(),
	}
}

func pinsFromConfig(g config.GPIOConfig) gpio.Pins {
	return gpio.Pins{
		Chip:     g.Chip,
		Valve1:   g.Valve1,
		Valve2:   g.Valve2,
		Pump:     g.Pump,
		LEDRed:   g.LEDRed,
		LEDGreen: g.LEDGreen,
		LEDBlue:  g.LEDBlue,
	}
}

// hardware owns the GPIO lines and the I2C bus for the daemon's lifetime.
type hardware struct {
	outputs gpio.Outputs
	bus     i2c.BusCloser
	sensors [logic.Channels]sensor.Gateway
}

func openHardware(cfg *config.Config) (*hardware, error) {
	outputs, err := gpio.NewRealOutputs(pinsFromConfig(cfg.GPIO))
	if err != nil {
		return nil, fmt.Errorf("init gpio: %w", err)
	}
	hw := &hardware{outputs: outputs}
	hw.bus, hw.sensors = openSensors(cfg.Sensors)
	return hw, nil
}

// openSensors opens the I2C bus and one gateway per address. A missing bus
// is not fatal: the gateways stay nil and their channels read NaN.
func openSensors(cfg config.SensorsConfig) (i2c.BusCloser, [logic.Channels]sensor.Gateway) {
	var gateways [logic.Channels]sensor.Gateway
	bus, err := sensor.OpenBus(cfg.Bus)
	if err != nil {
		log.Error().Err(err).Msg("I2C bus unavailable, sensors will read NaN")
		return nil, gateways
	}
	for i := range gateways {
		gateways[i] = sensor.NewBME280(bus, cfg.Addresses[i])
	}
	return bus, gateways
}

func (h *hardware) Close() error {
	var errs []error
	for _, g := range h.sensors {
		if dev, ok := g.(*sensor.BME280); ok {
			if err := dev.Halt(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if h.bus != nil {
		if err := h.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close i2c bus: %w", err))
		}
	}
	if err := h.outputs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close gpio: %w", err))
	}
	return errors.Join(errs...)
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logCloser, err := initLogging(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	start := time.Now()
	bus, gateways := openSensors(cfg.Sensors)
	if bus != nil {
		defer bus.Close()
	}

	snap := probe(gateways, cfg.Sensors, time.Sleep)
	snap.StartTime = start
	snap.Now = time.Now()
	snap.Config = statusConfig(cfg)

	fmt.Fprintln(cmd.OutOrStdout(), string(status.FormatJSON(snap)))
	return nil
}

// probe connects each sensor with retry and takes one reading.
func probe(gateways [logic.Channels]sensor.Gateway, cfg config.SensorsConfig, sleep func(time.Duration)) status.Snapshot {
	var snap status.Snapshot
	for i, g := range gateways {
		snap.Connected[i] = g != nil && sensor.ConnectWithRetry(g, cfg.ConnectRetries, cfg.RetryDelay, sleep)
		if !snap.Connected[i] {
			log.Warn().Int("channel", i+1).Msg("Could not find BME280 sensor")
		}
	}
	snap.Readings = sensor.ReadAll(gateways)
	return snap
}
