package sensor

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"

	"github.com/sweeney/humidistat/internal/logic"
)

// environment is the part of *bmxx80.Dev the gateway uses.
type environment interface {
	Sense(e *physic.Env) error
	Halt() error
}

// BME280 is a Gateway for one BME280 on an I2C bus.
type BME280 struct {
	bus  i2c.Bus
	addr uint16
	dev  environment
}

var _ Gateway = (*BME280)(nil)

// NewBME280 creates an unconnected gateway. Call Connect before Read.
func NewBME280(bus i2c.Bus, addr uint16) *BME280 {
	return &BME280{bus: bus, addr: addr}
}

// OpenBus initialises the periph host drivers and opens an I2C bus by name.
// An empty name selects the first bus found.
func OpenBus(name string) (i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initialize periph host: %w", err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", name, err)
	}
	return bus, nil
}

// Connect probes the chip ID and configures the sensor.
func (s *BME280) Connect() bool {
	if s.dev != nil {
		if err := s.dev.Halt(); err != nil {
			log.Debug().Err(err).Str("addr", fmt.Sprintf("0x%02x", s.addr)).Msg("BME280 halt before reconnect failed")
		}
		s.dev = nil
	}
	dev, err := bmxx80.NewI2C(s.bus, s.addr, &bmxx80.DefaultOpts)
	if err != nil {
		log.Debug().Err(err).Str("addr", fmt.Sprintf("0x%02x", s.addr)).Msg("BME280 connect failed")
		return false
	}
	s.dev = dev
	return true
}

// Read performs one forced measurement.
func (s *BME280) Read() logic.Reading {
	if s.dev == nil {
		return logic.NoReading()
	}
	var env physic.Env
	if err := s.dev.Sense(&env); err != nil {
		log.Warn().Err(err).Str("addr", fmt.Sprintf("0x%02x", s.addr)).Msg("BME280 read failed")
		return logic.NoReading()
	}
	return fromEnv(env)
}

// Halt stops the sensor.
func (s *BME280) Halt() error {
	if s.dev == nil {
		return nil
	}
	err := s.dev.Halt()
	s.dev = nil
	return err
}

// fromEnv converts periph units into degC, %RH and Pa.
func fromEnv(env physic.Env) logic.Reading {
	return logic.Reading{
		Temperature: float32(env.Temperature.Celsius()),
		Humidity:    float32(float64(env.Humidity) / float64(physic.PercentRH)),
		Pressure:    float32(float64(env.Pressure) / float64(physic.Pascal)),
	}
}
