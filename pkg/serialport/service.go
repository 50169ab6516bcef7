package serialport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	pollInterval = 100 * time.Millisecond
	drainTimeout = 2 * time.Second
)

var (
	ErrPortClosed    = errors.New("serialport: port closed")
	ErrUnknownDriver = errors.New("serialport: unknown driver")
)

// Open opens the port described by opts.
func Open(opts Options) (*Port, error) {
	opts = withDefaults(opts)
	var (
		b   backend
		err error
	)
	switch opts.Driver {
	case DriverBugst:
		b, err = openBugst(opts)
	case DriverJacobsa:
		b, err = openJacobsa(opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	logrus.Infof("Opened serial port %s at %d baud (%d%s%d, %s driver)",
		opts.PortName, opts.BaudRate, opts.DataBits, opts.Parity, opts.StopBits, opts.Driver)
	return newPort(opts.PortName, b, opts.BaudRate), nil
}

func newPort(name string, b backend, baudRate int) *Port {
	return &Port{name: name, backend: b, baudRate: baudRate}
}

func withDefaults(opts Options) Options {
	if opts.Driver == "" {
		opts.Driver = DriverBugst
	}
	if opts.BaudRate == 0 {
		opts.BaudRate = 300
	}
	if opts.DataBits == 0 {
		opts.DataBits = 7
	}
	if opts.Parity == "" {
		opts.Parity = "E"
	}
	opts.Parity = strings.ToUpper(opts.Parity)
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	return opts
}

func (p *Port) Name() string { return p.name }

// Read waits up to the configured timeout for input, forever when the
// timeout is 0. It returns (0, nil) when the timeout elapses and
// ErrPortClosed once the port is closed.
func (p *Port) Read(buf []byte) (int, error) {
	p.mu.Lock()
	timeout := p.timeout
	p.mu.Unlock()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if p.closed.Load() {
			return 0, ErrPortClosed
		}
		n, err := p.current().Read(buf)
		if n > 0 {
			return n, nil
		}
		if p.closed.Load() {
			return 0, ErrPortClosed
		}
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, err
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return 0, nil
		}
	}
}

func (p *Port) Write(buf []byte) (int, error) {
	if p.closed.Load() {
		return 0, ErrPortClosed
	}
	return p.current().Write(buf)
}

func (p *Port) current() backend {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backend
}

func (p *Port) BaudRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baudRate
}

func (p *Port) SetBaudRate(baud int) error {
	if p.closed.Load() {
		return ErrPortClosed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.backend.setBaudRate(baud); err != nil {
		return fmt.Errorf("set baud rate %d on %s: %w", baud, p.name, err)
	}
	p.baudRate = baud
	return nil
}

func (p *Port) Timeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeout
}

func (p *Port) SetTimeout(timeout time.Duration) error {
	if timeout < 0 {
		return fmt.Errorf("negative timeout %s", timeout)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = timeout
	return nil
}

// Drain reads and returns input until the line has been silent for one
// poll interval, giving up after drainTimeout.
func (p *Port) Drain() ([]byte, error) {
	var drained []byte
	buf := make([]byte, 256)
	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		if p.closed.Load() {
			return drained, ErrPortClosed
		}
		n, err := p.current().Read(buf)
		drained = append(drained, buf[:n]...)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrDeadlineExceeded) {
			return drained, err
		}
		if n == 0 {
			break
		}
	}
	return drained, nil
}

func (p *Port) Closed() bool {
	return p.closed.Load()
}

func (p *Port) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	err := p.current().Close()
	logrus.Infof("Closed serial port %s", p.name)
	return err
}
