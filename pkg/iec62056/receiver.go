package iec62056

import (
	"fmt"
)

// Observer receives the outcome of every mode D receive attempt.
type Observer interface {
	OnDataMessage(msg *DataMessage)
	OnListenError(err error)
}

// ObserverFuncs adapts two functions to an Observer. Nil functions are skipped.
type ObserverFuncs struct {
	DataMessage func(msg *DataMessage)
	ListenError func(err error)
}

func (o ObserverFuncs) OnDataMessage(msg *DataMessage) {
	if o.DataMessage != nil {
		o.DataMessage(msg)
	}
}

func (o ObserverFuncs) OnListenError(err error) {
	if o.ListenError != nil {
		o.ListenError(err)
	}
}

// Listen switches the transport to the mode D baud rate and starts receiving
// mode D messages in the background. Every decoded message goes to
// observer.OnDataMessage; every failed attempt goes to observer.OnListenError
// and the receiver carries on. Only closing the connection stops it.
//
// One observer can be registered per connection.
func (c *Conn) Listen(observer Observer) error {
	if observer == nil {
		return fmt.Errorf("listen: nil observer")
	}
	c.listenMu.Lock()
	defer c.listenMu.Unlock()
	if c.observer != nil {
		return ErrListenerRegistered
	}
	if c.t.Closed() {
		return ErrClosed
	}
	if err := c.t.SetTimeout(0); err != nil {
		return fmt.Errorf("set timeout: %w", err)
	}
	if baudRate := c.settings.BaudRate(ModeD); c.t.BaudRate() != baudRate {
		c.log.Debugf("Changing baud rate from %d to %d", c.t.BaudRate(), baudRate)
		if err := c.t.SetBaudRate(baudRate); err != nil {
			return fmt.Errorf("set baud rate: %w", err)
		}
	}
	c.observer = observer
	c.done = make(chan struct{})

	c.log.Debug("Starting to listen for mode D messages")
	go c.receive(observer, c.done)
	return nil
}

// Done is closed once the mode D receiver has stopped. It is nil when
// Listen was never called.
func (c *Conn) Done() <-chan struct{} {
	c.listenMu.Lock()
	defer c.listenMu.Unlock()
	return c.done
}

func (c *Conn) receive(observer Observer, done chan struct{}) {
	defer close(done)
	for !c.t.Closed() {
		msg, err := c.receiveOne()
		if err == nil {
			observer.OnDataMessage(msg)
			continue
		}
		if c.t.Closed() {
			break
		}
		observer.OnListenError(err)

		if cleared, drainErr := c.t.Drain(); drainErr == nil && len(cleared) > 0 {
			c.log.WithField("bytes", fmt.Sprintf("%q", cleared)).
				Debug("Cleared input stream because of error")
		}
	}
	c.log.Debug("Stopped listening for mode D messages")
}

// receiveOne decodes one identification message and the mode D body after
// it. The body is read with the configured timeout so that a truncated
// message cannot stall the receiver; the wait for the next message is
// unbounded.
func (c *Conn) receiveOne() (*DataMessage, error) {
	r := newByteReader(c.t)
	r.startCapture()
	ident, err := readIdentification(r, c.settings.MaxFieldLength())
	if err != nil {
		return nil, fmt.Errorf("read identification message: %w", err)
	}

	if timeout := c.settings.Timeout(); timeout > 0 {
		if err := c.t.SetTimeout(timeout); err != nil {
			return nil, fmt.Errorf("set timeout: %w", err)
		}
		defer func() {
			if err := c.t.SetTimeout(0); err != nil && !c.t.Closed() {
				c.log.WithError(err).Warn("Failed to restore mode D timeout")
			}
		}()
	}

	msg, err := readModeD(r, ident, c.settings)
	if err != nil {
		return nil, fmt.Errorf("read mode D message: %w", err)
	}
	c.log.Debugf("Received %s", msg)
	return msg, nil
}
