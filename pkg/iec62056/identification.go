package iec62056

import (
	"bytes"
	"fmt"
)

// IdentificationMessage is the meter's answer to an identification request,
// or the header of a mode D message.
//
// Wire format: '/' XXX Z [ '\' W ] identification CR LF
type IdentificationMessage struct {
	manufacturerID     string
	baudRateIdentifier byte
	baudRate           int
	protocolMode       ProtocolMode
	enhancedID         byte
	identification     string
}

func (m IdentificationMessage) ManufacturerID() string     { return m.manufacturerID }
func (m IdentificationMessage) BaudRateIdentifier() byte   { return m.baudRateIdentifier }
func (m IdentificationMessage) BaudRate() int              { return m.baudRate }
func (m IdentificationMessage) ProtocolMode() ProtocolMode { return m.protocolMode }

// EnhancedIdentifier returns W of a leading "\W" sequence, or 0.
func (m IdentificationMessage) EnhancedIdentifier() byte { return m.enhancedID }

// Identification is everything after the baud rate identifier, "\W" included.
func (m IdentificationMessage) Identification() string { return m.identification }

func (m IdentificationMessage) String() string {
	return fmt.Sprintf("identification message {manufacturer: %s, mode: %s, baud rate: %d, identification: %q}",
		m.manufacturerID, m.protocolMode, m.baudRate, m.identification)
}

func readIdentification(r *byteReader, limit int) (IdentificationMessage, error) {
	if err := r.expect('/', "identification message start '/'"); err != nil {
		return IdentificationMessage{}, err
	}
	var manufacturer [3]byte
	for i := range manufacturer {
		b, err := r.ReadByte()
		if err != nil {
			return IdentificationMessage{}, err
		}
		manufacturer[i] = b
	}
	id, err := r.ReadByte()
	if err != nil {
		return IdentificationMessage{}, err
	}
	mode, baud, err := decodeBaudRateIdentifier(id)
	if err != nil {
		return IdentificationMessage{}, err
	}

	var ident []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return IdentificationMessage{}, err
		}
		if b == cr {
			break
		}
		if len(ident) == limit {
			return IdentificationMessage{}, framingErrorf("identification longer than %d bytes", limit)
		}
		ident = append(ident, b)
	}
	if err := r.expect(lf, "LF after identification"); err != nil {
		return IdentificationMessage{}, err
	}

	msg := IdentificationMessage{
		manufacturerID:     string(manufacturer[:]),
		baudRateIdentifier: id,
		baudRate:           baud,
		protocolMode:       mode,
		identification:     string(ident),
	}
	if len(ident) >= 2 && ident[0] == '\\' {
		msg.enhancedID = ident[1]
	}
	return msg, nil
}

// identificationRequest encodes start chars, device address, '!' CR LF.
func identificationRequest(s Settings) []byte {
	var buf bytes.Buffer
	buf.WriteString(s.MsgStartChars())
	buf.WriteString(s.DeviceAddress())
	buf.WriteString("!\r\n")
	return buf.Bytes()
}
