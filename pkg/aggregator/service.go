package aggregator

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/NotCoffee418/iec62056_meter/pkg/meterdb"
	"github.com/sirupsen/logrus"
)

// roundToHourStart returns the Unix timestamp of the start of the hour for the given time
func roundToHourStart(t time.Time) int64 {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC).Unix()
}

// getHourEnd returns the Unix timestamp of the last second of the hour (next hour start - 1)
func getHourEnd(hourStart int64) int64 {
	return time.Unix(hourStart, 0).Add(time.Hour).Unix() - 1
}

// snapshotHourly stores the last value of every address seen within the hour.
// Returns the number of addresses stored.
func snapshotHourly(db *sql.DB, hourStart int64) (int, error) {
	snapshots, err := meterdb.GetLastValuesBetween(db, hourStart, getHourEnd(hourStart))
	if err != nil {
		return 0, err
	}
	for i := range snapshots {
		snapshots[i].HourStart = hourStart
		if err := meterdb.UpsertSnapshotHourly(db, &snapshots[i]); err != nil {
			return 0, err
		}
	}
	return len(snapshots), nil
}

// firstHourToAggregate returns the hour after the newest snapshot, or the
// hour of the oldest data set when nothing was aggregated yet.
func firstHourToAggregate(db *sql.DB) (int64, bool, error) {
	latest, ok, err := meterdb.GetLatestSnapshotHour(db)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return latest + int64(time.Hour/time.Second), true, nil
	}
	oldest, _, ok, err := meterdb.GetDataSetsTimeRange(db)
	if err != nil || !ok {
		return 0, false, err
	}
	return roundToHourStart(time.Unix(oldest, 0)), true, nil
}

// cleanupOldData removes raw data older than retentionDays once it has been aggregated.
func cleanupOldData(db *sql.DB, now time.Time, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := now.UTC().AddDate(0, 0, -retentionDays)
	cutoffTimestamp := cutoff.Unix()

	// Only clean up if we have aggregated data up to the cutoff point
	lastAggregateHour, ok, err := meterdb.GetLatestSnapshotHour(db)
	if err != nil {
		return err
	}
	if !ok || lastAggregateHour < cutoffTimestamp {
		return nil
	}

	deleted, err := meterdb.DeleteReadingsBefore(db, cutoffTimestamp)
	if err != nil {
		return err
	}
	if deleted > 0 {
		logrus.Infof("Cleaned up %d readings older than %s", deleted, cutoff.Format(time.RFC3339))
	}
	return nil
}

// AggregateAndCleanup snapshots every completed hour that was not
// aggregated yet and removes raw data past the retention period.
// This is the main function to call for data aggregation
func AggregateAndCleanup(db *sql.DB, now time.Time, retentionDays int) error {
	currentHour := roundToHourStart(now)

	hourStart, ok, err := firstHourToAggregate(db)
	if err != nil {
		return fmt.Errorf("find hours to aggregate: %w", err)
	}
	// the current hour is still ongoing
	for ; ok && hourStart < currentHour; hourStart += int64(time.Hour / time.Second) {
		stored, err := snapshotHourly(db, hourStart)
		if err != nil {
			return fmt.Errorf("snapshot hour %s: %w", time.Unix(hourStart, 0).UTC().Format(time.RFC3339), err)
		}
		if stored > 0 {
			logrus.Debugf("Stored %d snapshots for hour starting at %s",
				stored, time.Unix(hourStart, 0).UTC().Format(time.RFC3339))
		}
	}

	if err := cleanupOldData(db, now, retentionDays); err != nil {
		return fmt.Errorf("clean up old data: %w", err)
	}

	logrus.Debug("Aggregation and cleanup completed successfully")
	return nil
}
