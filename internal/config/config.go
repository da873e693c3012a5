// Package config loads the humidistat daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/humidistat/internal/logic"
	"github.com/sweeney/humidistat/internal/logging"
)

// DefaultPath is where the daemon looks for its config file.
const DefaultPath = "/etc/humidistat/config.yaml"

// Config represents the daemon configuration.
type Config struct {
	Serial   SerialConfig  `yaml:"serial"`
	Protocol string        `yaml:"protocol"`
	Identity string        `yaml:"identity"`
	Timing   TimingConfig  `yaml:"timing"`
	Burst    BurstConfig   `yaml:"burst"`
	Sensors  SensorsConfig `yaml:"sensors"`
	GPIO     GPIOConfig    `yaml:"gpio"`
	Logging  LoggingConfig `yaml:"logging"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// TimingConfig contains the scheduler periods.
type TimingConfig struct {
	LoopInterval  time.Duration `yaml:"loop_interval"`
	DAQPeriod     time.Duration `yaml:"daq_period"`
	FlashDuration time.Duration `yaml:"flash_duration"`
}

// BurstConfig contains the fixed burst lengths of protocol v2.
type BurstConfig struct {
	Valve1 time.Duration `yaml:"valve_1"`
	Valve2 time.Duration `yaml:"valve_2"`
}

// SensorsConfig contains the BME280 bus settings.
type SensorsConfig struct {
	Bus            string        `yaml:"bus"` // empty selects the first I2C bus
	Addresses      []uint16      `yaml:"addresses"`
	ConnectRetries int           `yaml:"connect_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

// GPIOConfig contains line offsets (BCM numbering) on one chip.
type GPIOConfig struct {
	Chip     string `yaml:"chip"`
	Valve1   int    `yaml:"valve_1"`
	Valve2   int    `yaml:"valve_2"`
	Pump     int    `yaml:"pump"`
	LEDRed   int    `yaml:"led_red"`
	LEDGreen int    `yaml:"led_green"`
	LEDBlue  int    `yaml:"led_blue"`
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"` // empty logs to stderr
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:     "/dev/ttyACM0",
			BaudRate: 9600,
		},
		Protocol: "v2",
		Identity: logic.DefaultIdentity,
		Timing: TimingConfig{
			LoopInterval:  time.Millisecond,
			DAQPeriod:     time.Second,
			FlashDuration: 100 * time.Millisecond,
		},
		Burst: BurstConfig{
			Valve1: 500 * time.Millisecond,
			Valve2: time.Second,
		},
		Sensors: SensorsConfig{
			Addresses:      []uint16{0x76, 0x77},
			ConnectRetries: 3,
			RetryDelay:     time.Second,
		},
		GPIO: GPIOConfig{
			Chip:     "gpiochip0",
			Valve1:   17,
			Valve2:   27,
			Pump:     22,
			LEDRed:   5,
			LEDGreen: 6,
			LEDBlue:  13,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values. The result is validated.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		cfg.ensureDefaults()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}
	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults fills fields that were present but left empty.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Protocol == "" {
		c.Protocol = def.Protocol
	}
	if c.Identity == "" {
		c.Identity = def.Identity
	}

	if c.Timing.LoopInterval == 0 {
		c.Timing.LoopInterval = def.Timing.LoopInterval
	}
	if c.Timing.DAQPeriod == 0 {
		c.Timing.DAQPeriod = def.Timing.DAQPeriod
	}
	if c.Timing.FlashDuration == 0 {
		c.Timing.FlashDuration = def.Timing.FlashDuration
	}

	if c.Burst.Valve1 == 0 {
		c.Burst.Valve1 = def.Burst.Valve1
	}
	if c.Burst.Valve2 == 0 {
		c.Burst.Valve2 = def.Burst.Valve2
	}

	if len(c.Sensors.Addresses) == 0 {
		c.Sensors.Addresses = def.Sensors.Addresses
	}
	if c.Sensors.ConnectRetries == 0 {
		c.Sensors.ConnectRetries = def.Sensors.ConnectRetries
	}
	if c.Sensors.RetryDelay == 0 {
		c.Sensors.RetryDelay = def.Sensors.RetryDelay
	}

	if c.GPIO.Chip == "" {
		c.GPIO.Chip = def.GPIO.Chip
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Serial.Port == "" {
		errs = append(errs, errors.New("serial.port is required"))
	}
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud_rate must be positive, got %d", c.Serial.BaudRate))
	}
	if _, err := logic.ParseProtocol(c.Protocol); err != nil {
		errs = append(errs, fmt.Errorf("protocol: %w", err))
	}

	minDAQ := time.Duration(logic.MinDAQPeriod) * time.Millisecond
	if c.Timing.DAQPeriod < minDAQ {
		errs = append(errs, fmt.Errorf("timing.daq_period %v is below the sensor limit of %v", c.Timing.DAQPeriod, minDAQ))
	}
	if c.Timing.LoopInterval <= 0 || c.Timing.LoopInterval >= c.Timing.DAQPeriod {
		errs = append(errs, fmt.Errorf("timing.loop_interval %v must be positive and below timing.daq_period", c.Timing.LoopInterval))
	}
	errs = appendMillis(errs, "timing.daq_period", c.Timing.DAQPeriod)
	errs = appendMillis(errs, "timing.flash_duration", c.Timing.FlashDuration)
	errs = appendMillis(errs, "burst.valve_1", c.Burst.Valve1)
	errs = appendMillis(errs, "burst.valve_2", c.Burst.Valve2)

	if len(c.Sensors.Addresses) != logic.Channels {
		errs = append(errs, fmt.Errorf("sensors.addresses needs %d entries, got %d", logic.Channels, len(c.Sensors.Addresses)))
	} else if c.Sensors.Addresses[0] == c.Sensors.Addresses[1] {
		errs = append(errs, fmt.Errorf("sensors.addresses: both channels use 0x%02x", c.Sensors.Addresses[0]))
	}
	for _, addr := range c.Sensors.Addresses {
		if addr < 0x03 || addr > 0x77 {
			errs = append(errs, fmt.Errorf("sensors.addresses: 0x%02x is not a 7-bit device address", addr))
		}
	}
	if c.Sensors.ConnectRetries < 1 {
		errs = append(errs, fmt.Errorf("sensors.connect_retries must be at least 1, got %d", c.Sensors.ConnectRetries))
	}
	if c.Sensors.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("sensors.retry_delay must not be negative, got %v", c.Sensors.RetryDelay))
	}

	if err := c.GPIO.validate(); err != nil {
		errs = append(errs, err)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	return errors.Join(errs...)
}

func (g GPIOConfig) validate() error {
	pins := []struct {
		name string
		pin  int
	}{
		{"valve_1", g.Valve1},
		{"valve_2", g.Valve2},
		{"pump", g.Pump},
		{"led_red", g.LEDRed},
		{"led_green", g.LEDGreen},
		{"led_blue", g.LEDBlue},
	}

	var (
		usedPins  = map[int]string{}
		conflicts []string
		negative  []string
	)
	for _, p := range pins {
		if p.pin < 0 {
			negative = append(negative, "gpio."+p.name)
			continue
		}
		if other, exists := usedPins[p.pin]; exists {
			conflicts = append(conflicts, fmt.Sprintf("gpio.%s and gpio.%s both use pin %d", p.name, other, p.pin))
		} else {
			usedPins[p.pin] = p.name
		}
	}

	var errs []error
	if len(negative) > 0 {
		errs = append(errs, errors.New("negative GPIO pins: "+strings.Join(negative, ", ")))
	}
	if len(conflicts) > 0 {
		errs = append(errs, errors.New("conflicting GPIO pins: "+strings.Join(conflicts, ", ")))
	}
	return errors.Join(errs...)
}

func appendMillis(errs []error, name string, d time.Duration) []error {
	if d < 0 || d.Milliseconds() > math.MaxUint32 {
		return append(errs, fmt.Errorf("%s %v is out of range", name, d))
	}
	return errs
}

// ProtocolVersion returns the parsed protocol.
func (c *Config) ProtocolVersion() logic.Protocol {
	p, err := logic.ParseProtocol(c.Protocol)
	if err != nil {
		return logic.ProtocolV2
	}
	return p
}

// Millis converts a duration to the scheduler's millisecond unit.
func Millis(d time.Duration) uint32 {
	ms := d.Milliseconds()
	switch {
	case ms < 0:
		return 0
	case ms > math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(ms)
}
