package logic

import (
	"strconv"
	"strings"

	"github.com/chewxy/math32"
)

// FormatReport renders one report line:
//
//	elapsed valve_1 valve_2 pump humidity_1 humidity_2 temperature_1 temperature_2 pressure_1 pressure_2
//
// separated by tabs and terminated by a newline. Channel order is fixed.
func FormatReport(elapsed uint32, state Actuators, readings [Channels]Reading) string {
	var b strings.Builder
	b.Grow(80)

	b.WriteString(strconv.FormatUint(uint64(elapsed), 10))
	for _, act := range AllActuators {
		b.WriteByte('\t')
		b.WriteString(formatBool(state.Get(act)))
	}
	for ch := 0; ch < Channels; ch++ {
		b.WriteByte('\t')
		b.WriteString(formatFloat(readings[ch].Humidity, 2))
	}
	for ch := 0; ch < Channels; ch++ {
		b.WriteByte('\t')
		b.WriteString(formatFloat(readings[ch].Temperature, 2))
	}
	for ch := 0; ch < Channels; ch++ {
		b.WriteByte('\t')
		b.WriteString(formatFloat(readings[ch].Pressure, 0))
	}
	b.WriteByte('\n')
	return b.String()
}

func formatBool(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func formatFloat(v float32, decimals int) string {
	switch {
	case math32.IsNaN(v):
		return "nan"
	case math32.IsInf(v, 1):
		return "inf"
	case math32.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(float64(v), 'f', decimals, 32)
}
