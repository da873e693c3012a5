package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// readRetryDelay is the pause after a failed read before reading again.
var readRetryDelay = 500 * time.Millisecond

// Serial is a Port on a serial device.
type Serial struct {
	name string

	conn    io.ReadWriteCloser
	lines   chan string
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
	pending *ringBuffer
	closed  bool
}

var _ Port = (*Serial)(nil)

// Open opens the serial device and starts reading lines.
func Open(name string, baudRate, bufSize int) (*Serial, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	conn, err := serial.Open(name, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}
	return newSerial(name, conn, bufSize, DefaultReplayCapacity), nil
}

// Ports lists the serial devices present on the system.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}

func newSerial(name string, conn io.ReadWriteCloser, bufSize, replay int) *Serial {
	if bufSize <= 0 {
		bufSize = DefaultLineBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Serial{
		name:    name,
		conn:    conn,
		lines:   make(chan string, bufSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		pending: newRingBuffer(replay),
	}
	go func() {
		defer close(s.done)
		defer close(s.lines)
		scanLines(s.ctx, s.conn, s.lines)
	}()
	return s
}

// Lines returns the channel of framed input lines.
func (s *Serial) Lines() <-chan string {
	return s.lines
}

// WriteLine replays any lines kept from earlier failed writes, oldest first,
// then writes line. On failure the unwritten lines stay queued for the next call.
func (s *Serial) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	queued := append(s.pending.drainAll(), terminate(line))
	for i, l := range queued {
		if _, err := io.WriteString(s.conn, l); err != nil {
			for _, rest := range queued[i:] {
				s.pending.push(rest)
			}
			return fmt.Errorf("write serial %s: %w", s.name, err)
		}
	}
	return nil
}

// Pending returns the number of lines waiting for replay.
func (s *Serial) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.len()
}

// Close stops the reader and closes the device.
func (s *Serial) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	err := s.conn.Close()
	s.mu.Unlock()

	<-s.done
	if n := s.pending.len(); n > 0 {
		log.Warn().Int("lines", n).Str("port", s.name).Msg("link: discarding unsent lines")
	}
	if err != nil {
		return fmt.Errorf("close serial %s: %w", s.name, err)
	}
	return nil
}

// scanLines frames r into lines and delivers them on out until r ends or ctx
// is cancelled. Lines are dropped when out is full. A line longer than
// MaxLineLength is discarded up to its newline. Other read errors are logged
// and reading resumes after readRetryDelay.
func scanLines(ctx context.Context, r io.Reader, out chan<- string) {
	br := bufio.NewReader(r)
	buf := make([]byte, 0, MaxLineLength)
	discarding := false

	deliver := func() bool {
		line, ok := frame(string(buf))
		buf = buf[:0]
		if !ok {
			return true
		}
		select {
		case out <- line:
		case <-ctx.Done():
			return false
		default:
			log.Warn().Str("line", line).Msg("link: command channel full, dropping line")
		}
		return true
	}
	accept := func(chunk []byte) {
		if discarding {
			return
		}
		if len(buf)+len(chunk) > MaxLineLength+1 {
			log.Warn().Int("limit", MaxLineLength).Msg("link: discarding over-long line")
			buf = buf[:0]
			discarding = true
			return
		}
		buf = append(buf, chunk...)
	}

	for ctx.Err() == nil {
		chunk, err := br.ReadSlice('\n')
		switch {
		case err == nil:
			accept(chunk)
			if discarding {
				discarding = false
				continue
			}
			if !deliver() {
				return
			}
		case errors.Is(err, bufio.ErrBufferFull):
			accept(chunk)
		case errors.Is(err, io.EOF):
			accept(chunk)
			if !discarding && ctx.Err() == nil {
				deliver()
			}
			return
		default:
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("retry_in", readRetryDelay.String()).Msg("link: read failed")
			buf = buf[:0]
			discarding = false
			select {
			case <-ctx.Done():
				return
			case <-time.After(readRetryDelay):
			}
		}
	}
}
