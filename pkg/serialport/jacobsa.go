package serialport

import (
	"fmt"
	"io"
	"sync"

	"github.com/jacobsa/go-serial/serial"
)

// jacobsaBackend reopens the device whenever the baud rate changes, the
// library cannot reconfigure an open port.
type jacobsaBackend struct {
	mu   sync.Mutex
	port io.ReadWriteCloser
	opts serial.OpenOptions
}

func openJacobsa(opts Options) (*jacobsaBackend, error) {
	parity, err := jacobsaParity(opts.Parity)
	if err != nil {
		return nil, err
	}
	openOpts := serial.OpenOptions{
		PortName:        opts.PortName,
		BaudRate:        uint(opts.BaudRate),
		DataBits:        uint(opts.DataBits),
		StopBits:        uint(opts.StopBits),
		ParityMode:      parity,
		MinimumReadSize: 0,
		// in milliseconds, rounded to tenths of a second by the driver
		InterCharacterTimeout: uint(pollInterval.Milliseconds()),
	}
	port, err := serial.Open(openOpts)
	if err != nil {
		return nil, err
	}
	return &jacobsaBackend{port: port, opts: openOpts}, nil
}

func (b *jacobsaBackend) current() io.ReadWriteCloser {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port
}

func (b *jacobsaBackend) Read(p []byte) (int, error)  { return b.current().Read(p) }
func (b *jacobsaBackend) Write(p []byte) (int, error) { return b.current().Write(p) }
func (b *jacobsaBackend) Close() error                { return b.current().Close() }

func (b *jacobsaBackend) setBaudRate(baud int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.port.Close(); err != nil {
		return fmt.Errorf("close for reopen: %w", err)
	}
	opts := b.opts
	opts.BaudRate = uint(baud)
	port, err := serial.Open(opts)
	if err != nil {
		return fmt.Errorf("reopen: %w", err)
	}
	b.port = port
	b.opts = opts
	return nil
}

func jacobsaParity(p string) (serial.ParityMode, error) {
	switch p {
	case "N":
		return serial.PARITY_NONE, nil
	case "O":
		return serial.PARITY_ODD, nil
	case "E":
		return serial.PARITY_EVEN, nil
	}
	return serial.PARITY_NONE, fmt.Errorf("unsupported parity %q", p)
}
