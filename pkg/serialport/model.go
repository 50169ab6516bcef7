package serialport

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DriverBugst   = "bugst"
	DriverJacobsa = "jacobsa"
)

// Options describe how to open a serial port. IEC 62056-21 optical heads
// use 7 data bits, even parity and one stop bit, which are the defaults.
type Options struct {
	PortName string
	Driver   string
	BaudRate int
	DataBits int
	Parity   string // "N", "E" or "O"
	StopBits int
}

// backend is one serial library behind a Port. Reads must return within
// pollInterval when no data arrives.
type backend interface {
	io.ReadWriteCloser
	setBaudRate(baud int) error
}

// Port is a serial port with a mutable baud rate and read timeout.
// It implements iec62056.Transport.
type Port struct {
	name string

	mu       sync.Mutex
	backend  backend
	baudRate int
	timeout  time.Duration

	closed atomic.Bool
}
