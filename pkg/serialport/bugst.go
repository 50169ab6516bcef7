package serialport

import (
	"fmt"

	"go.bug.st/serial"
)

type bugstBackend struct {
	serial.Port
	mode serial.Mode
}

func openBugst(opts Options) (*bugstBackend, error) {
	parity, err := bugstParity(opts.Parity)
	if err != nil {
		return nil, err
	}
	mode := serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		Parity:   parity,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	port, err := serial.Open(opts.PortName, &mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(pollInterval); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("reset input buffer: %w", err)
	}
	return &bugstBackend{Port: port, mode: mode}, nil
}

func (b *bugstBackend) setBaudRate(baud int) error {
	mode := b.mode
	mode.BaudRate = baud
	if err := b.SetMode(&mode); err != nil {
		return err
	}
	b.mode = mode
	return nil
}

func bugstParity(p string) (serial.Parity, error) {
	switch p {
	case "N":
		return serial.NoParity, nil
	case "O":
		return serial.OddParity, nil
	case "E":
		return serial.EvenParity, nil
	}
	return serial.NoParity, fmt.Errorf("unsupported parity %q", p)
}
