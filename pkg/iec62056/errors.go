package iec62056

import (
	"errors"
	"fmt"
)

var (
	ErrClosed             = errors.New("iec62056: port is closed")
	ErrTimeout            = errors.New("iec62056: timed out waiting for response")
	ErrFraming            = errors.New("iec62056: framing violation")
	ErrConfig             = errors.New("iec62056: invalid settings")
	ErrListenerRegistered = errors.New("iec62056: listener already registered")

	ErrChecksum = fmt.Errorf("%w: checksum mismatch", ErrFraming)
	ErrRejected = fmt.Errorf("%w: request rejected by meter", ErrFraming)
)

func framingErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrFraming}, args...)...)
}
