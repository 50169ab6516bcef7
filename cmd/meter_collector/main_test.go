package main

import (
	"path/filepath"
	"testing"

	"github.com/NotCoffee418/iec62056_meter/pkg/meterdb"
	"github.com/NotCoffee418/iec62056_meter/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestHandleMeterReading(t *testing.T) {
	db, err := meterdb.Open(filepath.Join(t.TempDir(), "meter.db"))
	require.NoError(t, err)
	defer db.Close()

	handleMeterReading(db, &types.MeterReading{Timestamp: "2024-03-01T12:00:00Z", ProtocolMode: "D"})
	handleMeterReading(db, &types.MeterReading{
		Timestamp:    "2024-03-01T12:00:10Z",
		ProtocolMode: "D",
		DataSets:     []types.DataSetReading{{Address: "1-0:1.8.0", Value: "001234.5", Unit: "kWh"}},
	})

	_, _, ok, err := meterdb.GetDataSetsTimeRange(db)
	require.NoError(t, err)
	require.True(t, ok)
	dataSets, err := meterdb.GetDataSets(db, "1-0:1.8.0", 0, 1<<40)
	require.NoError(t, err)
	require.Len(t, dataSets, 1)
}
