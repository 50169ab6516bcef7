package iec62056

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sigurn/crc16"
)

// DataMessage is the result of a readout: the data sets in the order they
// were received plus information copied from the identification message.
type DataMessage struct {
	manufacturerID string
	identification string
	enhancedID     byte
	protocolMode   ProtocolMode
	baudRate       int
	dataSets       []DataSet
}

func newDataMessage(ident IdentificationMessage, mode ProtocolMode, dataSets []DataSet) *DataMessage {
	return &DataMessage{
		manufacturerID: ident.ManufacturerID(),
		identification: ident.Identification(),
		enhancedID:     ident.EnhancedIdentifier(),
		protocolMode:   mode,
		baudRate:       ident.BaudRate(),
		dataSets:       dataSets,
	}
}

func (m *DataMessage) ManufacturerID() string     { return m.manufacturerID }
func (m *DataMessage) Identification() string     { return m.identification }
func (m *DataMessage) EnhancedIdentifier() byte   { return m.enhancedID }
func (m *DataMessage) ProtocolMode() ProtocolMode { return m.protocolMode }
func (m *DataMessage) BaudRate() int              { return m.baudRate }

// DataSets returns a copy of the data sets.
func (m *DataMessage) DataSets() []DataSet {
	out := make([]DataSet, len(m.dataSets))
	copy(out, m.dataSets)
	return out
}

func (m *DataMessage) String() string {
	parts := make([]string, len(m.dataSets))
	for i, ds := range m.dataSets {
		parts[i] = ds.String()
	}
	return fmt.Sprintf("data message {manufacturer: %s, identification: %q, mode: %s, data sets: [%s]}",
		m.manufacturerID, m.identification, m.protocolMode, strings.Join(parts, " "))
}

func (m *DataMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ManufacturerID string    `json:"manufacturer_id"`
		Identification string    `json:"identification"`
		ProtocolMode   string    `json:"protocol_mode"`
		BaudRate       int       `json:"baud_rate"`
		DataSets       []DataSet `json:"data_sets"`
	}{m.manufacturerID, m.identification, m.protocolMode.String(), m.baudRate, m.dataSets})
}

// readModeABC reads the data message following an identification exchange:
// STX data-sets '!' CR LF ETX BCC. The BCC covers every byte after STX
// through ETX.
func readModeABC(r *byteReader, ident IdentificationMessage, limit int) (*DataMessage, error) {
	if err := r.expect(stx, "data message start STX"); err != nil {
		return nil, err
	}
	dataSets, err := readFramedDataSets(r, limit)
	if err != nil {
		return nil, err
	}
	return newDataMessage(ident, ident.ProtocolMode(), dataSets), nil
}

// readFramedDataSets reads what follows the STX of a data message:
// data-sets '!' CR LF ETX BCC, the BCC covering every byte after STX
// through ETX.
func readFramedDataSets(r *byteReader, limit int) ([]DataSet, error) {
	var bcc Bcc
	var dataSets []DataSet
	for {
		ds, ok, err := readDataSet(r, &bcc, limit)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		dataSets = append(dataSets, ds)
	}
	if err := r.expectBcc(&bcc, cr, "CR after '!'"); err != nil {
		return nil, err
	}
	if err := r.expectBcc(&bcc, lf, "LF after '!'"); err != nil {
		return nil, err
	}
	if err := r.expectBcc(&bcc, etx, "ETX at end of data message"); err != nil {
		return nil, err
	}
	if err := checkBcc(r, bcc); err != nil {
		return nil, err
	}
	return dataSets, nil
}

// readDataBlock reads the answer to a programming mode data request:
// STX data-sets (ETX|EOT) BCC, or STX data-sets '!' CR LF ETX BCC.
// A NAK instead of STX means the meter refused the request.
func readDataBlock(r *byteReader, limit int) ([]DataSet, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch b {
	case stx:
	case nak:
		return nil, ErrRejected
	default:
		return nil, framingErrorf("expected data block start STX, received 0x%02X", b)
	}

	var bcc Bcc
	var dataSets []DataSet
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == etx || b == eot {
			bcc.Update(b)
			break
		}
		r.UnreadByte(b)

		ds, ok, err := readDataSet(r, &bcc, limit)
		if err != nil {
			return nil, err
		}
		if !ok {
			if err := r.expectBcc(&bcc, cr, "CR after '!'"); err != nil {
				return nil, err
			}
			if err := r.expectBcc(&bcc, lf, "LF after '!'"); err != nil {
				return nil, err
			}
			if err := r.expectBcc(&bcc, etx, "ETX at end of data block"); err != nil {
				return nil, err
			}
			break
		}
		dataSets = append(dataSets, ds)
	}
	if err := checkBcc(r, bcc); err != nil {
		return nil, err
	}
	return dataSets, nil
}

func checkBcc(r *byteReader, bcc Bcc) error {
	check, err := r.ReadByte()
	if err != nil {
		return err
	}
	if !bcc.Matches(check) {
		return fmt.Errorf("%w: calculated 0x%02X, received 0x%02X", ErrChecksum, bcc.Value(), check)
	}
	return nil
}

// readModeD reads the body of a mode D message whose identification was
// already consumed. IEC framed messages continue with STX and end like a
// mode C data message, ETX BCC included. DSMR messages carry no STX and end
// with '!' trailer CR LF, where the trailer may hold a CRC16/ARC over every
// byte since the '/' of the identification message.
func readModeD(r *byteReader, ident IdentificationMessage, s Settings) (*DataMessage, error) {
	limit := s.MaxFieldLength()
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if b == stx {
		r.stopCapture()
		dataSets, err := readFramedDataSets(r, limit)
		if err != nil {
			return nil, err
		}
		return newDataMessage(ident, ModeD, dataSets), nil
	}
	r.UnreadByte(b)

	var bcc Bcc
	var dataSets []DataSet
	for {
		ds, ok, err := readDataSet(r, &bcc, limit)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		dataSets = append(dataSets, ds)
	}
	covered := append([]byte(nil), r.stopCapture()...)

	var trailer []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == cr {
			break
		}
		if len(trailer) == limit {
			return nil, framingErrorf("mode D trailer longer than %d bytes", limit)
		}
		trailer = append(trailer, b)
	}
	if err := r.expect(lf, "LF at end of mode D message"); err != nil {
		return nil, err
	}
	if err := verifyModeDTrailer(covered, trailer, s.ModeDChecksum()); err != nil {
		return nil, err
	}
	return newDataMessage(ident, ModeD, dataSets), nil
}

var crcTable = crc16.MakeTable(crc16.CRC16_ARC)

func verifyModeDTrailer(covered, trailer []byte, policy CRCPolicy) error {
	if policy == CRCOff {
		return nil
	}
	if len(trailer) == 0 {
		if policy == CRCRequired {
			return fmt.Errorf("%w: CRC trailer missing", ErrChecksum)
		}
		return nil
	}
	given, err := strconv.ParseUint(string(trailer), 16, 16)
	if err != nil || len(trailer) != 4 {
		return framingErrorf("malformed CRC trailer %q", trailer)
	}
	if calc := crc16.Checksum(covered, crcTable); uint16(given) != calc {
		return fmt.Errorf("%w: calculated CRC %04X, received %04X", ErrChecksum, calc, given)
	}
	return nil
}
