package meterdb

type MeterDbReading struct {
	ID             int64  `db:"id"`
	Timestamp      int64  `db:"timestamp"`
	ManufacturerID string `db:"manufacturer_id"`
	Identification string `db:"identification"`
	ProtocolMode   string `db:"protocol_mode"`
}

type MeterDbDataSet struct {
	ReadingID int64  `db:"reading_id"`
	Timestamp int64  `db:"timestamp"`
	Address   string `db:"address"`
	Value     string `db:"value"`
	Unit      string `db:"unit"`
}

// Snapshot models - last value of an address within the hour
type SnapshotDataSetHourly struct {
	HourStart   int64  `db:"hour_start"`
	Address     string `db:"address"`
	Value       string `db:"value"`
	Unit        string `db:"unit"`
	SampleCount int64  `db:"sample_count"`
}
