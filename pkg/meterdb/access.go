package meterdb

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/NotCoffee418/iec62056_meter/pkg/types"
)

// InsertReading stores a reading with all of its data sets and returns its id.
func InsertReading(db *sql.DB, reading *types.MeterReading) (int64, error) {
	at, err := reading.Time()
	if err != nil {
		return 0, fmt.Errorf("reading timestamp: %w", err)
	}
	timestamp := at.Unix()

	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"INSERT INTO readings (timestamp, manufacturer_id, identification, protocol_mode) "+
			"VALUES (?, ?, ?, ?)",
		timestamp,
		reading.ManufacturerID,
		reading.Identification,
		reading.ProtocolMode,
	)
	if err != nil {
		return 0, err
	}
	readingID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(
		"INSERT INTO data_sets (reading_id, timestamp, address, value, unit) " +
			"VALUES (?, ?, ?, ?, ?)",
	)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, ds := range reading.DataSets {
		if _, err := stmt.Exec(readingID, timestamp, ds.Address, ds.Value, ds.Unit); err != nil {
			return 0, err
		}
	}
	return readingID, tx.Commit()
}

// GetDataSets returns the data sets of address stored within [from, to].
func GetDataSets(db *sql.DB, address string, from, to int64) ([]MeterDbDataSet, error) {
	rows, err := db.Query(
		"SELECT reading_id, timestamp, address, value, unit FROM data_sets "+
			"WHERE address = ? AND timestamp >= ? AND timestamp <= ? ORDER BY id",
		address, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dataSets []MeterDbDataSet
	for rows.Next() {
		var ds MeterDbDataSet
		if err := rows.Scan(&ds.ReadingID, &ds.Timestamp, &ds.Address, &ds.Value, &ds.Unit); err != nil {
			return nil, err
		}
		dataSets = append(dataSets, ds)
	}
	return dataSets, rows.Err()
}

// GetDataSetsTimeRange returns the oldest and newest data set timestamps.
// ok is false when no data sets are stored.
func GetDataSetsTimeRange(db *sql.DB) (oldest, newest int64, ok bool, err error) {
	var oldestTS, newestTS sql.NullInt64
	err = db.QueryRow("SELECT MIN(timestamp), MAX(timestamp) FROM data_sets").Scan(&oldestTS, &newestTS)
	if err != nil {
		return 0, 0, false, err
	}
	if !oldestTS.Valid {
		return 0, 0, false, nil
	}
	return oldestTS.Int64, newestTS.Int64, true, nil
}

// GetLastValuesBetween returns, per address, the last stored value within
// [from, to] together with the number of samples of that address.
func GetLastValuesBetween(db *sql.DB, from, to int64) ([]SnapshotDataSetHourly, error) {
	// SQLite takes the bare columns from the row holding MAX(id)
	rows, err := db.Query(`
		SELECT address, value, unit, MAX(id), COUNT(*)
		FROM data_sets
		WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY address
		ORDER BY address
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []SnapshotDataSetHourly
	for rows.Next() {
		var snap SnapshotDataSetHourly
		var lastID int64
		if err := rows.Scan(&snap.Address, &snap.Value, &snap.Unit, &lastID, &snap.SampleCount); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

func UpsertSnapshotHourly(db *sql.DB, snap *SnapshotDataSetHourly) error {
	_, err := db.Exec(
		"INSERT OR REPLACE INTO snapshot_data_sets_hourly "+
			"(hour_start, address, value, unit, sample_count) VALUES (?, ?, ?, ?, ?)",
		snap.HourStart,
		snap.Address,
		snap.Value,
		snap.Unit,
		snap.SampleCount,
	)
	return err
}

func GetSnapshotsHourly(db *sql.DB, address string, from, to int64) ([]SnapshotDataSetHourly, error) {
	rows, err := db.Query(
		"SELECT hour_start, address, value, unit, sample_count FROM snapshot_data_sets_hourly "+
			"WHERE address = ? AND hour_start >= ? AND hour_start <= ? ORDER BY hour_start",
		address, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []SnapshotDataSetHourly
	for rows.Next() {
		var snap SnapshotDataSetHourly
		if err := rows.Scan(&snap.HourStart, &snap.Address, &snap.Value, &snap.Unit, &snap.SampleCount); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// GetLatestSnapshotHour returns the newest aggregated hour, ok is false
// when nothing was aggregated yet.
func GetLatestSnapshotHour(db *sql.DB) (hourStart int64, ok bool, err error) {
	var latest sql.NullInt64
	err = db.QueryRow("SELECT MAX(hour_start) FROM snapshot_data_sets_hourly").Scan(&latest)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !latest.Valid) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return latest.Int64, true, nil
}

// DeleteReadingsBefore removes readings, and their data sets, older than
// timestamp. Snapshots are kept.
func DeleteReadingsBefore(db *sql.DB, timestamp int64) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM data_sets WHERE timestamp < ?", timestamp); err != nil {
		return 0, err
	}
	res, err := tx.Exec("DELETE FROM readings WHERE timestamp < ?", timestamp)
	if err != nil {
		return 0, err
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return deleted, tx.Commit()
}
