package aggregator

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/NotCoffee418/iec62056_meter/pkg/meterdb"
	"github.com/NotCoffee418/iec62056_meter/pkg/types"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := meterdb.Open(filepath.Join(t.TempDir(), "meter.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func store(t *testing.T, db *sql.DB, at time.Time, address, value string) {
	t.Helper()
	_, err := meterdb.InsertReading(db, &types.MeterReading{
		Timestamp:    at.UTC().Format(time.RFC3339),
		ProtocolMode: "C",
		DataSets:     []types.DataSetReading{{Address: address, Value: value, Unit: "kWh"}},
	})
	require.NoError(t, err)
}

func TestRoundToHourStart(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 34, 56, 0, time.UTC)
	require.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Unix(), roundToHourStart(at))
	require.Equal(t, roundToHourStart(at)+3599, getHourEnd(roundToHourStart(at)))
}

func TestAggregateCompletedHours(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	store(t, db, base.Add(5*time.Minute), "1.8.0", "100.0")
	store(t, db, base.Add(50*time.Minute), "1.8.0", "100.8")
	// nothing during 11:00
	store(t, db, base.Add(2*time.Hour+10*time.Minute), "1.8.0", "102.0")
	// ongoing hour
	store(t, db, base.Add(3*time.Hour+1*time.Minute), "1.8.0", "103.0")

	now := base.Add(3*time.Hour + 30*time.Minute)
	require.NoError(t, AggregateAndCleanup(db, now, 0))

	snapshots, err := meterdb.GetSnapshotsHourly(db, "1.8.0", 0, now.Unix())
	require.NoError(t, err)
	require.Equal(t, []meterdb.SnapshotDataSetHourly{
		{HourStart: base.Unix(), Address: "1.8.0", Value: "100.8", Unit: "kWh", SampleCount: 2},
		{HourStart: base.Add(2 * time.Hour).Unix(), Address: "1.8.0", Value: "102.0", Unit: "kWh", SampleCount: 1},
	}, snapshots)

	// the next run picks up where the previous one ended
	require.NoError(t, AggregateAndCleanup(db, now.Add(time.Hour), 0))
	snapshots, err = meterdb.GetSnapshotsHourly(db, "1.8.0", 0, now.Add(time.Hour).Unix())
	require.NoError(t, err)
	require.Len(t, snapshots, 3)
	require.Equal(t, "103.0", snapshots[2].Value)
}

func TestAggregateEmptyDatabase(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AggregateAndCleanup(db, time.Now(), 30))
}

func TestCleanupAfterAggregation(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2024, 3, 10, 12, 30, 0, 0, time.UTC)
	store(t, db, now.AddDate(0, 0, -5), "1.8.0", "50.0")
	store(t, db, now.Add(-2*time.Hour), "1.8.0", "90.0")

	require.NoError(t, AggregateAndCleanup(db, now, 3))

	dataSets, err := meterdb.GetDataSets(db, "1.8.0", 0, now.Unix())
	require.NoError(t, err)
	require.Len(t, dataSets, 1)
	require.Equal(t, "90.0", dataSets[0].Value)

	// snapshots survive the cleanup
	snapshots, err := meterdb.GetSnapshotsHourly(db, "1.8.0", 0, now.Unix())
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
}
