package status

import "github.com/sweeney/humidistat/internal/logic"

// Color is an RGB pixel value, 0-255 per channel.
type Color struct {
	R, G, B uint8
}

// Brightness levels of the status pixel.
const (
	Dim    uint8 = 3
	Bright uint8 = 6
)

var (
	ColorOff       = Color{}
	ColorSettingUp = Color{0, 0, Bright}      // blue
	ColorIdle      = Color{0, Dim, 0}         // green
	ColorFlash     = Color{0, Bright, Bright} // turquoise
)

// DefaultFlashDuration is how long the pixel flashes per acquisition, in ms.
const DefaultFlashDuration uint32 = 100

// Pixel draws one RGB status pixel.
type Pixel interface {
	SetColor(c Color) error
}

// Phase is the indicator state.
type Phase int

const (
	PhaseOff Phase = iota
	PhaseSettingUp
	PhaseIdle
	PhaseFlashing
)

func (p Phase) String() string {
	switch p {
	case PhaseOff:
		return "off"
	case PhaseSettingUp:
		return "setting_up"
	case PhaseIdle:
		return "idle"
	case PhaseFlashing:
		return "flashing"
	default:
		return "unknown"
	}
}

// Indicator runs the SettingUp -> Idle <-> Flashing state machine with a
// single auto-reverting flash timer. The phase always advances even if the
// pixel write fails; the error is returned for logging only.
type Indicator struct {
	pixel    Pixel
	duration uint32
	phase    Phase
	start    logic.Tick
}

// NewIndicator creates an indicator in PhaseOff.
func NewIndicator(pixel Pixel, flashDuration uint32) *Indicator {
	return &Indicator{pixel: pixel, duration: flashDuration}
}

// Phase returns the current phase.
func (i *Indicator) Phase() Phase {
	return i.phase
}

// Begin enters PhaseSettingUp.
func (i *Indicator) Begin() error {
	i.phase = PhaseSettingUp
	return i.pixel.SetColor(ColorSettingUp)
}

// Ready leaves PhaseSettingUp for PhaseIdle. It has no effect in any other phase.
func (i *Indicator) Ready() error {
	if i.phase != PhaseSettingUp {
		return nil
	}
	i.phase = PhaseIdle
	return i.pixel.SetColor(ColorIdle)
}

// Flash enters PhaseFlashing and restarts the flash window. Ignored until
// the indicator is Ready.
func (i *Indicator) Flash(now logic.Tick) error {
	if i.phase != PhaseIdle && i.phase != PhaseFlashing {
		return nil
	}
	i.phase = PhaseFlashing
	i.start = now
	return i.pixel.SetColor(ColorFlash)
}

// Update reverts to PhaseIdle once the flash window has elapsed.
// It returns true when it reverted.
func (i *Indicator) Update(now logic.Tick) (bool, error) {
	if i.phase != PhaseFlashing || logic.Since(now, i.start) < i.duration {
		return false, nil
	}
	i.phase = PhaseIdle
	return true, i.pixel.SetColor(ColorIdle)
}

// Off blanks the pixel, e.g. on shutdown.
func (i *Indicator) Off() error {
	i.phase = PhaseOff
	return i.pixel.SetColor(ColorOff)
}
