package link

import "strings"

// Fake is a test double that records written lines and serves scripted input.
type Fake struct {
	// In feeds Lines(). Tests send on it directly.
	In chan string

	// Written contains every successfully written line, terminator included.
	Written []string

	// WriteError, if set, will be returned by WriteLine
	WriteError error

	// Closed tracks if Close was called
	Closed bool
}

var _ Port = (*Fake)(nil)

// NewFake creates a Fake with a buffered input channel.
func NewFake() *Fake {
	return &Fake{In: make(chan string, DefaultLineBuffer)}
}

// Lines returns the input channel.
func (f *Fake) Lines() <-chan string {
	return f.In
}

// WriteLine records the line.
func (f *Fake) WriteLine(line string) error {
	if f.Closed {
		return ErrClosed
	}
	if f.WriteError != nil {
		return f.WriteError
	}
	f.Written = append(f.Written, terminate(line))
	return nil
}

// Output returns everything written so far.
func (f *Fake) Output() string {
	return strings.Join(f.Written, "")
}

// Close marks the port as closed.
func (f *Fake) Close() error {
	f.Closed = true
	return nil
}

// Reset clears recorded output.
func (f *Fake) Reset() {
	f.Written = nil
	f.WriteError = nil
	f.Closed = false
}
