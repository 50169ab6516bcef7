package port_reader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NotCoffee418/iec62056_meter/pkg/iec62056"
	"github.com/NotCoffee418/iec62056_meter/pkg/monitor"
	"github.com/NotCoffee418/iec62056_meter/pkg/serialport"
	"github.com/NotCoffee418/iec62056_meter/pkg/types"
	"github.com/sirupsen/logrus"
)

// maxConsecutiveErrors is the tolerance of the polling loop before it gives up.
const maxConsecutiveErrors = 10

var (
	ErrListening = errors.New("port_reader: meter is in listening mode")
	ErrStopped   = errors.New("port_reader: reader stopped")
)

// NewMeterReader reads the meter on the serial port described by portOpts.
// metrics may be nil.
func NewMeterReader(
	portOpts serialport.Options,
	settings iec62056.Settings,
	log logrus.FieldLogger,
	metrics *monitor.Metrics,
) *MeterReader {
	return newMeterReader(func() (iec62056.Transport, error) {
		return serialport.Open(portOpts)
	}, settings, log, metrics)
}

func newMeterReader(
	open OpenTransport,
	settings iec62056.Settings,
	log logrus.FieldLogger,
	metrics *monitor.Metrics,
) *MeterReader {
	return &MeterReader{
		open:       open,
		settings:   settings,
		log:        log,
		metrics:    metrics,
		stopSignal: make(chan struct{}),
	}
}

// Start polling the meter every interval until ctx ends or StopReading is called.
// Runs in goroutine. After maxConsecutiveErrors failed readouts in a row the
// last error goes to handleError and polling stops. Either handler may be nil.
func (p *MeterReader) StartReading(
	ctx context.Context,
	interval time.Duration,
	addresses []string,
	handleReading func(reading *types.MeterReading),
	handleError func(error),
) {
	handleReading, handleError = p.orDiscard(handleReading, handleError)
	go func() {
		consecutiveErrors := 0
		var lastError error

		for consecutiveErrors < maxConsecutiveErrors {
			reading, err := p.ReadOnce(ctx, addresses)
			switch {
			case errors.Is(err, ErrStopped) || ctx.Err() != nil || p.stopped():
				p.log.Info("Stop signal received, stopped polling")
				return
			case err != nil:
				consecutiveErrors++
				lastError = err
				p.log.WithError(err).Warnf("Error reading meter (%d/%d)", consecutiveErrors, maxConsecutiveErrors)
				if errors.Is(err, iec62056.ErrClosed) {
					p.disconnect()
				}
			default:
				consecutiveErrors = 0
				handleReading(reading)
			}

			select {
			case <-time.After(interval):
			case <-ctx.Done():
				p.log.Info("Context done, stopped polling")
				return
			case <-p.stopSignal:
				p.log.Info("Stop signal received, stopped polling")
				return
			}
		}

		p.log.WithError(lastError).Errorf("Too many consecutive errors (%d), stopping reader", maxConsecutiveErrors)
		handleError(lastError)
		p.disconnect()
	}()
}

// ReadOnce performs one polled readout. When authentication is configured
// the addresses are requested in programming mode; otherwise the readout is
// filtered down to them. Reads are serialized and refused while listening.
func (p *MeterReader) ReadOnce(ctx context.Context, addresses []string) (*types.MeterReading, error) {
	p.readMu.Lock()
	defer p.readMu.Unlock()
	if p.listening.Load() {
		return nil, ErrListening
	}

	conn, err := p.connect()
	if err != nil {
		return nil, err
	}

	started := time.Now()
	msg, err := conn.ReadAddresses(ctx, addresses)
	if p.metrics != nil {
		p.metrics.ObserveRead(msg, err, time.Since(started))
	}
	if err != nil {
		return nil, fmt.Errorf("read meter: %w", err)
	}

	reading := types.NewMeterReading(msg, time.Now())
	if !p.settings.HasAuthentication() {
		reading = reading.Filter(addresses)
	}
	p.setLatestReading(reading)
	return reading, nil
}

// StartListening receives mode D messages in the background. Every reading,
// filtered to addresses when given, goes to handleReading in arrival order;
// failed receive attempts go to handleError and listening continues.
// Either handler may be nil.
func (p *MeterReader) StartListening(
	addresses []string,
	handleReading func(reading *types.MeterReading),
	handleError func(error),
) error {
	handleReading, handleError = p.orDiscard(handleReading, handleError)
	p.readMu.Lock()
	defer p.readMu.Unlock()
	if !p.listening.CompareAndSwap(false, true) {
		return ErrListening
	}

	conn, err := p.connect()
	if err != nil {
		p.listening.Store(false)
		return err
	}

	err = conn.Listen(iec62056.ObserverFuncs{
		DataMessage: func(msg *iec62056.DataMessage) {
			if p.metrics != nil {
				p.metrics.ObserveMessage(msg)
			}
			reading := types.NewMeterReading(msg, time.Now()).Filter(addresses)
			p.setLatestReading(reading)
			handleReading(reading)
		},
		ListenError: func(err error) {
			if p.metrics != nil {
				p.metrics.ObserveError(err)
			}
			p.log.WithError(err).Warn("Error receiving mode D message")
			handleError(err)
		},
	})
	if err != nil {
		p.listening.Store(false)
		return fmt.Errorf("listen: %w", err)
	}
	p.log.Infof("Listening for mode D messages at %d baud", p.settings.BaudRate(iec62056.ModeD))
	return nil
}

// orDiscard substitutes handlers that only log at debug level for nil ones.
func (p *MeterReader) orDiscard(
	handleReading func(reading *types.MeterReading),
	handleError func(error),
) (func(reading *types.MeterReading), func(error)) {
	if handleReading == nil {
		handleReading = func(reading *types.MeterReading) {
			p.log.Debugf("No reading handler, dropped reading with %d data sets", len(reading.DataSets))
		}
	}
	if handleError == nil {
		handleError = func(err error) {
			p.log.WithError(err).Debug("No error handler, error dropped")
		}
	}
	return handleReading, handleError
}

// Done is closed when the mode D receiver stops, nil when not listening.
func (p *MeterReader) Done() <-chan struct{} {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	if p.conn == nil {
		return nil
	}
	return p.conn.Done()
}

func (p *MeterReader) IsListening() bool {
	return p.listening.Load()
}

// StopReading stops polling or listening and closes the serial link.
func (p *MeterReader) StopReading() {
	p.stopOnce.Do(func() {
		close(p.stopSignal)
	})
	p.disconnect()
}

func (p *MeterReader) GetLatestReading() *types.MeterReading {
	p.readingMutex.RLock()
	defer p.readingMutex.RUnlock()
	return p.latestReading
}

func (p *MeterReader) setLatestReading(reading *types.MeterReading) {
	p.readingMutex.Lock()
	p.latestReading = reading
	p.readingMutex.Unlock()
}

func (p *MeterReader) stopped() bool {
	select {
	case <-p.stopSignal:
		return true
	default:
		return false
	}
}

// connect returns the open connection, opening the transport when needed.
func (p *MeterReader) connect() (*iec62056.Conn, error) {
	if p.stopped() {
		return nil, ErrStopped
	}

	p.connMu.Lock()
	defer p.connMu.Unlock()
	if p.conn != nil && !p.conn.Closed() {
		return p.conn, nil
	}
	t, err := p.open()
	if err != nil {
		return nil, fmt.Errorf("open transport: %w", err)
	}
	p.conn = iec62056.New(t, p.settings, iec62056.WithLogger(p.log))
	return p.conn, nil
}

func (p *MeterReader) disconnect() {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	if p.conn == nil {
		return
	}
	if err := p.conn.Close(); err != nil {
		p.log.WithError(err).Warn("Failed to close connection")
	}
}
