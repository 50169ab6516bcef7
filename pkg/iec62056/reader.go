package iec62056

import (
	"errors"
	"fmt"
	"os"
)

// byteReader reads the transport one byte at a time so that nothing is held
// in a buffer the transport's Drain cannot see. It supports a single byte of
// push back and optionally records every byte it hands out.
type byteReader struct {
	t       Transport
	buf     [1]byte
	pending int // -1 when nothing was pushed back
	capture []byte
	record  bool
}

func newByteReader(t Transport) *byteReader {
	return &byteReader{t: t, pending: -1}
}

func (r *byteReader) ReadByte() (byte, error) {
	if r.pending >= 0 {
		b := byte(r.pending)
		r.pending = -1
		r.remember(b)
		return b, nil
	}
	n, err := r.t.Read(r.buf[:])
	if n == 1 {
		r.remember(r.buf[0])
		return r.buf[0], nil
	}
	if r.t.Closed() {
		return 0, ErrClosed
	}
	if err == nil || errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return 0, ErrTimeout
	}
	return 0, fmt.Errorf("read from transport: %w", err)
}

// UnreadByte pushes b back; the next ReadByte returns it again.
func (r *byteReader) UnreadByte(b byte) {
	r.pending = int(b)
	if r.record && len(r.capture) > 0 {
		r.capture = r.capture[:len(r.capture)-1]
	}
}

func (r *byteReader) remember(b byte) {
	if r.record {
		r.capture = append(r.capture, b)
	}
}

// startCapture begins recording bytes, discarding anything recorded before.
func (r *byteReader) startCapture() {
	r.capture = r.capture[:0]
	r.record = true
}

func (r *byteReader) stopCapture() []byte {
	r.record = false
	return r.capture
}

// readByteBcc reads one byte and folds it into bcc.
func (r *byteReader) readByteBcc(bcc *Bcc) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	bcc.Update(b)
	return b, nil
}

func (r *byteReader) expect(want byte, what string) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	if b != want {
		return framingErrorf("expected %s, received 0x%02X", what, b)
	}
	return nil
}

func (r *byteReader) expectBcc(bcc *Bcc, want byte, what string) error {
	b, err := r.readByteBcc(bcc)
	if err != nil {
		return err
	}
	if b != want {
		return framingErrorf("expected %s, received 0x%02X", what, b)
	}
	return nil
}
