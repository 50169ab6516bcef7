package port_reader

import (
	"sync"
	"sync/atomic"

	"github.com/NotCoffee418/iec62056_meter/pkg/iec62056"
	"github.com/NotCoffee418/iec62056_meter/pkg/monitor"
	"github.com/NotCoffee418/iec62056_meter/pkg/types"
	"github.com/sirupsen/logrus"
)

// OpenTransport opens the serial link to the meter.
type OpenTransport func() (iec62056.Transport, error)

// MeterReader owns the serial link and the protocol connection of one
// meter. It reads the meter either by polling or by listening to mode D
// pushes, never both at once.
type MeterReader struct {
	open     OpenTransport
	settings iec62056.Settings
	log      logrus.FieldLogger
	metrics  *monitor.Metrics

	connMu sync.Mutex
	conn   *iec62056.Conn

	// serializes polled reads, the engine does not
	readMu    sync.Mutex
	listening atomic.Bool

	latestReading *types.MeterReading
	readingMutex  sync.RWMutex

	stopOnce   sync.Once
	stopSignal chan struct{}
}
