// Responsible for storing the data collected from the meter
// Depends on the interpreter API being online.
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NotCoffee418/iec62056_meter/pkg/aggregator"
	"github.com/NotCoffee418/iec62056_meter/pkg/config"
	"github.com/NotCoffee418/iec62056_meter/pkg/interpreter"
	"github.com/NotCoffee418/iec62056_meter/pkg/meterdb"
	"github.com/NotCoffee418/iec62056_meter/pkg/pathing"
	"github.com/NotCoffee418/iec62056_meter/pkg/types"
	"github.com/sirupsen/logrus"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := pathing.EnsureDirs(); err != nil {
		logrus.Fatalf("Failed to create directories: %v", err)
	}
	if err := config.LoadMeterCollectorConfig(); err != nil {
		logrus.Fatalf("Failed to load meter collector config: %v", err)
	}
	cfg := config.ActiveMeterCollectorConfig

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		logrus.Fatalf("Invalid log_level: %v", err)
	}
	logrus.SetLevel(level)

	db, err := meterdb.GetDB()
	if err != nil {
		logrus.Fatalf("Failed to open meter database: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runAggregation(ctx, db, time.Duration(cfg.AggregateIntervalMinutes)*time.Minute, cfg.RetentionDays)

	// Subscribe to websocket with revive
	interpreter.StartListener(
		ctx,
		interpreter.ListenerURL(cfg.InterpreterAPIHost, cfg.TLSEnabled),
		func(reading *types.MeterReading) { handleMeterReading(db, reading) },
	)
}

// Handle meter reading data
func handleMeterReading(db *sql.DB, reading *types.MeterReading) {
	if len(reading.DataSets) == 0 {
		return
	}
	if _, err := meterdb.InsertReading(db, reading); err != nil {
		logrus.WithError(err).Error("Failed to store meter reading")
		return
	}
	logrus.Debugf("Stored %d data sets from %s", len(reading.DataSets), reading.Timestamp)
}

func runAggregation(ctx context.Context, db *sql.DB, interval time.Duration, retentionDays int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := aggregator.AggregateAndCleanup(db, time.Now(), retentionDays); err != nil {
			logrus.WithError(err).Error("Aggregation failed")
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
