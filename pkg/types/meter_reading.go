package types

import (
	"encoding/json"
	"time"

	"github.com/NotCoffee418/iec62056_meter/pkg/iec62056"
)

// MeterReading is one readout as served by the interpreter API and
// consumed by the collector.
type MeterReading struct {
	Timestamp string `json:"timestamp"`

	ManufacturerID string `json:"manufacturer_id"`
	Identification string `json:"identification"`
	ProtocolMode   string `json:"protocol_mode"`
	BaudRate       int    `json:"baud_rate"`

	DataSets []DataSetReading `json:"data_sets"`
}

type DataSetReading struct {
	Address string `json:"address"`
	Value   string `json:"value"`
	Unit    string `json:"unit"`
}

func NewMeterReading(msg *iec62056.DataMessage, at time.Time) *MeterReading {
	dataSets := msg.DataSets()
	reading := &MeterReading{
		Timestamp:      at.UTC().Format(time.RFC3339),
		ManufacturerID: msg.ManufacturerID(),
		Identification: msg.Identification(),
		ProtocolMode:   msg.ProtocolMode().String(),
		BaudRate:       msg.BaudRate(),
		DataSets:       make([]DataSetReading, len(dataSets)),
	}
	for i, ds := range dataSets {
		reading.DataSets[i] = DataSetReading{Address: ds.Address(), Value: ds.Value(), Unit: ds.Unit()}
	}
	return reading
}

// Filter returns a copy holding only data sets whose address is listed.
// An empty list keeps everything.
func (r *MeterReading) Filter(addresses []string) *MeterReading {
	if len(addresses) == 0 {
		return r
	}
	wanted := make(map[string]bool, len(addresses))
	for _, a := range addresses {
		wanted[a] = true
	}
	filtered := *r
	filtered.DataSets = make([]DataSetReading, 0, len(addresses))
	for _, ds := range r.DataSets {
		if wanted[ds.Address] {
			filtered.DataSets = append(filtered.DataSets, ds)
		}
	}
	return &filtered
}

func (r *MeterReading) Time() (time.Time, error) {
	return time.Parse(time.RFC3339, r.Timestamp)
}

func (r *MeterReading) ToJsonBytes() ([]byte, error) {
	return json.Marshal(r)
}

// MeterReadingFromJsonBytes returns nil when data is not a meter reading.
func MeterReadingFromJsonBytes(data []byte) *MeterReading {
	var reading MeterReading
	if err := json.Unmarshal(data, &reading); err != nil {
		return nil
	}
	if reading.Timestamp == "" {
		return nil
	}
	return &reading
}
