package serialport

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// chunkBackend hands out one queued chunk per Read and otherwise reports
// silence after a short poll, like a driver with a read timeout.
type chunkBackend struct {
	mu      sync.Mutex
	chunks  [][]byte
	written []byte
	bauds   []int
	failBy  error
	closed  bool
}

func (b *chunkBackend) Read(p []byte) (int, error) {
	b.mu.Lock()
	if len(b.chunks) > 0 {
		n := copy(p, b.chunks[0])
		b.chunks = b.chunks[1:]
		b.mu.Unlock()
		return n, nil
	}
	err := b.failBy
	b.mu.Unlock()
	time.Sleep(time.Millisecond)
	if err != nil {
		return 0, err
	}
	return 0, io.EOF
}

func (b *chunkBackend) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.written = append(b.written, p...)
	return len(p), nil
}

func (b *chunkBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *chunkBackend) setBaudRate(baud int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bauds = append(b.bauds, baud)
	return nil
}

func TestReadReturnsAvailableInput(t *testing.T) {
	b := &chunkBackend{chunks: [][]byte{[]byte("/ISK5")}}
	p := newPort("test", b, 300)
	require.NoError(t, p.SetTimeout(time.Second))

	buf := make([]byte, 16)
	n, err := p.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "/ISK5", string(buf[:n]))
}

func TestReadTimesOutWithoutInput(t *testing.T) {
	p := newPort("test", &chunkBackend{}, 300)
	require.NoError(t, p.SetTimeout(20*time.Millisecond))

	start := time.Now()
	n, err := p.Read(make([]byte, 1))
	require.NoError(t, err)
	require.Zero(t, n)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestReadWithoutTimeoutStopsOnClose(t *testing.T) {
	p := newPort("test", &chunkBackend{}, 300)
	require.NoError(t, p.SetTimeout(0))

	errs := make(chan error, 1)
	go func() {
		_, err := p.Read(make([]byte, 1))
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Close())

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrPortClosed)
	case <-time.After(time.Second):
		t.Fatal("read did not return after close")
	}
	require.True(t, p.Closed())
}

func TestReadPassesDriverErrors(t *testing.T) {
	broken := errors.New("device unplugged")
	p := newPort("test", &chunkBackend{failBy: broken}, 300)
	require.NoError(t, p.SetTimeout(time.Second))

	_, err := p.Read(make([]byte, 1))
	require.ErrorIs(t, err, broken)
}

func TestSetBaudRate(t *testing.T) {
	b := &chunkBackend{}
	p := newPort("test", b, 300)

	require.NoError(t, p.SetBaudRate(9600))
	require.Equal(t, 9600, p.BaudRate())
	require.Equal(t, []int{9600}, b.bauds)

	require.NoError(t, p.Close())
	require.ErrorIs(t, p.SetBaudRate(300), ErrPortClosed)
}

func TestSetTimeoutRejectsNegative(t *testing.T) {
	p := newPort("test", &chunkBackend{}, 300)
	require.Error(t, p.SetTimeout(-time.Second))
	require.NoError(t, p.SetTimeout(time.Second))
	require.Equal(t, time.Second, p.Timeout())
}

func TestDrainCollectsUntilSilence(t *testing.T) {
	b := &chunkBackend{chunks: [][]byte{[]byte("1.8.0(00"), []byte("1234*kWh)\r\n")}}
	p := newPort("test", b, 300)

	drained, err := p.Drain()
	require.NoError(t, err)
	require.Equal(t, "1.8.0(001234*kWh)\r\n", string(drained))

	drained, err = p.Drain()
	require.NoError(t, err)
	require.Empty(t, drained)
}

func TestWriteAfterClose(t *testing.T) {
	b := &chunkBackend{}
	p := newPort("test", b, 300)

	_, err := p.Write([]byte("/?!\r\n"))
	require.NoError(t, err)
	require.Equal(t, "/?!\r\n", string(b.written))

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	require.True(t, b.closed)
	_, err = p.Write([]byte("/?!\r\n"))
	require.ErrorIs(t, err, ErrPortClosed)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Options{PortName: "/dev/null", Driver: "usb"})
	require.ErrorIs(t, err, ErrUnknownDriver)
}

func TestWithDefaults(t *testing.T) {
	opts := withDefaults(Options{PortName: "/dev/ttyUSB0", Parity: "e"})
	require.Equal(t, Options{
		PortName: "/dev/ttyUSB0",
		Driver:   DriverBugst,
		BaudRate: 300,
		DataBits: 7,
		Parity:   "E",
		StopBits: 1,
	}, opts)
}
