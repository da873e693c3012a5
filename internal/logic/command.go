package logic

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultIdentity is the reply to "id?". The host software matches on it.
const DefaultIdentity = "Arduino, Humidistat v1"

// Protocol selects one of the two incompatible serial command sets.
type Protocol int

const (
	// ProtocolV1 has the explicit-duration burst verb "b".
	ProtocolV1 Protocol = iota + 1
	// ProtocolV2 has the fixed-duration bursts "b1"/"b2" and the
	// continuous-reporting verbs "c" and "?".
	ProtocolV2
)

func (p Protocol) String() string {
	switch p {
	case ProtocolV1:
		return "v1"
	case ProtocolV2:
		return "v2"
	default:
		return fmt.Sprintf("Protocol(%d)", int(p))
	}
}

// ParseProtocol converts "v1" or "v2" into a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "v1", "1":
		return ProtocolV1, nil
	case "v2", "2":
		return ProtocolV2, nil
	}
	return 0, fmt.Errorf("unknown protocol %q (want v1 or v2)", s)
}

// Verb is a recognised command word.
type Verb int

const (
	VerbNone Verb = iota
	VerbIdentify
	VerbSetAll
	VerbBurst
	VerbBurstValve1
	VerbBurstValve2
	VerbValve1
	VerbValve2
	VerbPump
	VerbReconnect
	VerbToggleContinuous
	VerbMeasureOnce
)

var verbNames = map[Verb]string{
	VerbNone:             "none",
	VerbIdentify:         "id?",
	VerbSetAll:           "a",
	VerbBurst:            "b",
	VerbBurstValve1:      "b1",
	VerbBurstValve2:      "b2",
	VerbValve1:           "v1",
	VerbValve2:           "v2",
	VerbPump:             "p",
	VerbReconnect:        "r",
	VerbToggleContinuous: "c",
	VerbMeasureOnce:      "?",
}

func (v Verb) String() string {
	if name, ok := verbNames[v]; ok {
		return name
	}
	return "unknown"
}

// Command is one parsed input line. Only the fields relevant to Verb are set.
type Command struct {
	Verb Verb
	// Request holds the three booleans of "a" and "b".
	Request Actuators
	// On is the boolean of "v1", "v2" and "p".
	On bool
	// Duration is the burst length in ms of "b".
	Duration uint32
}

// Parse turns one framed line into a Command. It never fails: unknown verbs
// yield VerbNone and malformed parameters default to false or 0.
func Parse(line string, proto Protocol) Command {
	switch {
	case line == "id?":
		return Command{Verb: VerbIdentify}
	case strings.HasPrefix(line, "a"):
		return Command{Verb: VerbSetAll, Request: parseActuators(line)}
	}

	if proto == ProtocolV2 {
		switch line {
		case "b1":
			return Command{Verb: VerbBurstValve1}
		case "b2":
			return Command{Verb: VerbBurstValve2}
		case "c":
			return Command{Verb: VerbToggleContinuous}
		case "?":
			return Command{Verb: VerbMeasureOnce}
		}
	} else if strings.HasPrefix(line, "b") {
		return Command{
			Verb:     VerbBurst,
			Request:  parseActuators(line),
			Duration: parseInt(line, 4),
		}
	}

	switch {
	case strings.HasPrefix(line, "v1"):
		return Command{Verb: VerbValve1, On: parseBool(line, 2)}
	case strings.HasPrefix(line, "v2"):
		return Command{Verb: VerbValve2, On: parseBool(line, 2)}
	case strings.HasPrefix(line, "p"):
		return Command{Verb: VerbPump, On: parseBool(line, 1)}
	case line == "r":
		return Command{Verb: VerbReconnect}
	}
	return Command{Verb: VerbNone}
}

func parseActuators(line string) Actuators {
	return Actuators{
		Valve1: parseBool(line, 1),
		Valve2: parseBool(line, 2),
		Pump:   parseBool(line, 3),
	}
}

// parseBool is true iff a character exists at pos and it is '1'.
func parseBool(line string, pos int) bool {
	return len(line) > pos && line[pos] == '1'
}

// parseInt reads a decimal integer from line[pos:] the way atoi does:
// leading blanks, an optional sign, then digits up to the first non-digit.
// Absent, non-numeric, negative or out-of-range values yield 0.
func parseInt(line string, pos int) uint32 {
	if len(line) <= pos {
		return 0
	}
	s := strings.TrimLeft(line[pos:], " \t")
	if s == "" {
		return 0
	}
	if s[0] == '+' || s[0] == '-' {
		if s[0] == '-' {
			return 0
		}
		s = s[1:]
	}
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.ParseUint(s[:end], 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}
