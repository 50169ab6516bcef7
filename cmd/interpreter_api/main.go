// Interpreter API is responsible for reading the meter and broadcasting the readings.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NotCoffee418/iec62056_meter/pkg/config"
	"github.com/NotCoffee418/iec62056_meter/pkg/monitor"
	"github.com/NotCoffee418/iec62056_meter/pkg/pathing"
	"github.com/NotCoffee418/iec62056_meter/pkg/port_reader"
	"github.com/NotCoffee418/iec62056_meter/pkg/publisher"
	"github.com/NotCoffee418/iec62056_meter/pkg/serialport"
	"github.com/NotCoffee418/iec62056_meter/pkg/types"
	"github.com/sirupsen/logrus"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := pathing.EnsureDirs(); err != nil {
		logrus.Fatalf("Failed to create directories: %v", err)
	}
	if err := config.LoadInterpreterAPIConfig(); err != nil {
		logrus.Fatalf("Failed to load interpreter API config: %v", err)
	}
	cfg := config.ActiveInterpreterAPIConfig

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		logrus.Fatalf("Invalid log_level: %v", err)
	}
	logrus.SetLevel(level)

	settings, err := cfg.ProtocolSettings()
	if err != nil {
		logrus.Fatalf("Invalid protocol settings: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := monitor.NewMetrics()
	meterReader := port_reader.NewMeterReader(
		serialport.Options{
			PortName: cfg.SerialDevice,
			Driver:   cfg.SerialDriver,
			BaudRate: cfg.Baudrate,
			DataBits: cfg.DataBits,
			Parity:   cfg.Parity,
			StopBits: cfg.StopBits,
		},
		settings,
		logrus.WithField("device", cfg.SerialDevice),
		metrics,
	)
	defer meterReader.StopReading()

	var redisPublisher *publisher.RedisPublisher
	if cfg.RedisAddr != "" {
		redisPublisher, err = publisher.NewRedisPublisher(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisChannel, logrus.StandardLogger())
		if err != nil {
			logrus.Fatalf("Failed to connect to redis: %v", err)
		}
		defer redisPublisher.Close()
	}

	server := newAPI(meterReader, cfg.Addresses, metrics)
	handleReading := func(reading *types.MeterReading) {
		server.broadcast(reading)
		if redisPublisher != nil {
			if err := redisPublisher.Publish(ctx, reading); err != nil {
				logrus.WithError(err).Warn("Failed to publish reading")
			}
		}
	}

	switch cfg.Mode {
	case config.ModeListen:
		// receive errors are logged and counted by the reader, which keeps listening
		err := meterReader.StartListening(cfg.Addresses, handleReading, nil)
		if err != nil {
			logrus.Fatalf("Failed to listen on %s: %v", cfg.SerialDevice, err)
		}
		go func() {
			<-meterReader.Done()
			if ctx.Err() == nil {
				logrus.Fatal("Mode D receiver stopped unexpectedly")
			}
		}()
	default:
		meterReader.StartReading(ctx, cfg.PollInterval(), cfg.Addresses, handleReading, func(err error) {
			logrus.Fatalf("Error reading meter on %s: %v", cfg.SerialDevice, err)
		})
	}

	listener := fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.ListenPort)
	httpServer := &http.Server{
		Addr:              listener,
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		logrus.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logrus.Infof("Starting IEC 62056-21 Interpreter API on %s (%s mode)", listener, cfg.Mode)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.Fatal(err)
	}
}
