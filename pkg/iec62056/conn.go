package iec62056

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Transport is the serial link a Conn talks over.
//
// Read blocks for at most Timeout (forever when Timeout is 0). A Read that
// returns (0, nil) or an os.ErrDeadlineExceeded error means the timeout
// elapsed. Closing the transport must unblock a pending Read.
type Transport interface {
	io.Reader
	io.Writer
	BaudRate() int
	SetBaudRate(baud int) error
	Timeout() time.Duration
	SetTimeout(timeout time.Duration) error
	// Drain discards and returns whatever input is currently buffered.
	Drain() ([]byte, error)
	Closed() bool
	Close() error
}

// Conn reads one meter over one transport using IEC 62056-21 modes A, B, C or D.
//
// Read and ReadAddresses block the caller. Listen starts a background receiver
// that owns the transport until it is closed; using Read or ReadAddresses on
// a listening Conn is undefined and must be prevented by the caller.
type Conn struct {
	settings Settings
	t        Transport
	log      logrus.FieldLogger

	closeOnce sync.Once
	closed    chan struct{}

	listenMu sync.Mutex
	observer Observer
	done     chan struct{}
}

type Option func(*Conn)

// WithLogger routes the connection's diagnostics to logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Conn) { c.log = logger }
}

func New(t Transport, settings Settings, opts ...Option) *Conn {
	c := &Conn{
		settings: settings,
		t:        t,
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		c.log = discard
	}
	return c
}

func (c *Conn) Settings() Settings { return c.settings }

// Closed reports whether the underlying transport has been closed.
func (c *Conn) Closed() bool {
	return c.t.Closed()
}

// Close closes the transport. A pending read fails with ErrClosed and a
// running mode D receiver stops. The Conn cannot be reopened.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.t.Close()
	})
	return err
}

// Clear discards any input lingering on the transport and returns it.
func (c *Conn) Clear() ([]byte, error) {
	cleared, err := c.t.Drain()
	if err != nil {
		return nil, fmt.Errorf("clear input: %w", err)
	}
	if len(cleared) > 0 {
		c.log.WithField("bytes", fmt.Sprintf("%q", cleared)).Debug("Cleared input stream")
	}
	return cleared, nil
}

// Read requests a data message using mode A, B or C. The returned message
// carries the manufacturer and identification of the meter.
func (c *Conn) Read(ctx context.Context) (*DataMessage, error) {
	if c.t.Closed() {
		return nil, ErrClosed
	}
	initBaudRate := c.settings.BaudRate(ModeA)
	if current := c.t.BaudRate(); current != initBaudRate {
		c.log.Debugf("Changing baud rate from %d to %d", current, initBaudRate)
		if err := c.t.SetBaudRate(initBaudRate); err != nil {
			return nil, fmt.Errorf("set baud rate: %w", err)
		}
	}
	if c.t.Timeout() != c.settings.Timeout() {
		if err := c.t.SetTimeout(c.settings.Timeout()); err != nil {
			return nil, fmt.Errorf("set timeout: %w", err)
		}
	}
	if _, err := c.Clear(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := newByteReader(c.t)
	if err := c.send("identification request", identificationRequest(c.settings)); err != nil {
		return nil, err
	}
	ident, err := readIdentification(r, c.settings.MaxFieldLength())
	if err != nil {
		return nil, fmt.Errorf("read identification message: %w", err)
	}
	c.log.Debugf("Received %s", ident)

	mode := ident.ProtocolMode()
	if mode == ModeC || c.settings.HasAuthentication() {
		baudRate := ident.BaudRate()
		if c.settings.HasAuthentication() {
			baudRate = initBaudRate
		}
		req, err := acknowledgeRequest(baudRate, Normal, c.settings.AcknowledgeMode())
		if err != nil {
			return nil, fmt.Errorf("acknowledge request: %w", err)
		}
		if err := c.send("acknowledge request", req); err != nil {
			return nil, err
		}
		if c.settings.HasHandshake() && c.settings.BaudRateChangeDelay() > 0 {
			c.sleep(ctx, c.settings.BaudRateChangeDelay())
		}
	}
	if mode == ModeB || (mode == ModeC && c.settings.HasHandshake()) {
		c.log.Debugf("Changing baud rate from %d to %d", c.t.BaudRate(), ident.BaudRate())
		if err := c.t.SetBaudRate(ident.BaudRate()); err != nil {
			return nil, fmt.Errorf("set baud rate: %w", err)
		}
	}

	msg, err := readModeABC(r, ident, c.settings.MaxFieldLength())
	if err != nil {
		return nil, fmt.Errorf("read data message: %w", err)
	}
	c.log.Debugf("Received %s", msg)
	return msg, nil
}

// ReadAddresses performs Read and then, in programming mode, requests the
// data sets of each address in order and appends them to the result.
//
// Addresses are only requested when the settings enable authentication;
// otherwise they are ignored and the plain Read result is returned.
func (c *Conn) ReadAddresses(ctx context.Context, addresses []string) (*DataMessage, error) {
	msg, err := c.Read(ctx)
	if err != nil {
		return nil, err
	}
	if !c.settings.HasAuthentication() {
		if len(addresses) > 0 {
			c.log.Debugf("Ignoring %d addresses, authentication is not configured", len(addresses))
		}
		return msg, nil
	}

	r := newByteReader(c.t)
	if err := c.send("authentication request", authenticationRequest(c.settings.Password())); err != nil {
		return nil, err
	}
	b, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read authentication acknowledgement: %w", err)
	}
	if b != ack {
		return nil, framingErrorf("received unexpected byte 0x%02X while waiting for acknowledgement", b)
	}
	if _, err := c.Clear(); err != nil {
		return nil, err
	}

	for _, address := range addresses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.send("data request "+address, dataRequest(address)); err != nil {
			return nil, err
		}
		dataSets, err := readDataBlock(r, c.settings.MaxFieldLength())
		if err != nil {
			return nil, fmt.Errorf("read data sets of %s: %w", address, err)
		}
		msg.dataSets = append(msg.dataSets, dataSets...)
	}
	if err := c.send("break request", breakRequest()); err != nil {
		return nil, err
	}
	c.log.Debugf("Received %s", msg)
	return msg, nil
}

func (c *Conn) send(what string, p []byte) error {
	c.log.Debugf("Sending %s: %q", what, p)
	if _, err := c.t.Write(p); err != nil {
		if c.t.Closed() {
			return ErrClosed
		}
		return fmt.Errorf("send %s: %w", what, err)
	}
	return nil
}

// sleep waits d before the baud rate changes. Cancellation of ctx or closing
// the connection cuts the wait short; the handshake continues regardless.
func (c *Conn) sleep(ctx context.Context, d time.Duration) {
	c.log.Debugf("Sleeping for %s before changing the baud rate", d)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		c.log.WithError(ctx.Err()).Warn("Baud rate change delay interrupted, continuing")
	case <-c.closed:
		c.log.Warn("Baud rate change delay interrupted by close, continuing")
	}
}
