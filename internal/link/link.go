// Package link carries the line-oriented command and report protocol over
// the serial port.
package link

import (
	"errors"
	"strings"
)

const (
	// DefaultBaudRate is the rate the host software opens the port at.
	DefaultBaudRate = 9600
	// DefaultLineBuffer is the capacity of the incoming command channel.
	DefaultLineBuffer = 16
	// DefaultReplayCapacity is how many outgoing lines are kept while writes fail.
	DefaultReplayCapacity = 64
	// MaxLineLength is the longest input line kept. Longer lines are dropped whole.
	MaxLineLength = 256
)

// ErrClosed is returned when writing to a closed port.
var ErrClosed = errors.New("link: port closed")

// Port is a bidirectional line transport.
type Port interface {
	// Lines delivers framed, non-empty input lines without terminators.
	// The channel is closed when the port stops reading.
	Lines() <-chan string

	// WriteLine sends one line, appending a newline if missing.
	WriteLine(line string) error

	Close() error
}

// terminate ensures the line ends with exactly the newline it was given, or one.
func terminate(line string) string {
	if strings.HasSuffix(line, "\n") {
		return line
	}
	return line + "\n"
}

// frame trims a raw input line. It returns false for lines that carry no command.
func frame(raw string) (string, bool) {
	line := strings.TrimSpace(raw)
	return line, line != ""
}
