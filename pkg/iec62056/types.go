package iec62056

import "fmt"

// Control characters used on the wire.
const (
	soh byte = 0x01
	stx byte = 0x02
	etx byte = 0x03
	eot byte = 0x04
	ack byte = 0x06
	nak byte = 0x15
	cr  byte = '\r'
	lf  byte = '\n'
)

type ProtocolMode byte

const (
	ModeA ProtocolMode = 'A'
	ModeB ProtocolMode = 'B'
	ModeC ProtocolMode = 'C'
	ModeD ProtocolMode = 'D'
)

func (m ProtocolMode) String() string {
	switch m {
	case ModeA, ModeB, ModeC, ModeD:
		return string(rune(m))
	default:
		return fmt.Sprintf("ProtocolMode(%d)", byte(m))
	}
}

// AcknowledgeMode selects how the meter continues after an acknowledgement.
type AcknowledgeMode byte

const (
	DataReadout AcknowledgeMode = '0'
	Programming AcknowledgeMode = '1'
)

func (m AcknowledgeMode) String() string {
	switch m {
	case DataReadout:
		return "data readout"
	case Programming:
		return "programming"
	default:
		return fmt.Sprintf("AcknowledgeMode(%d)", byte(m))
	}
}

type ProtocolControlCharacter byte

const (
	Normal    ProtocolControlCharacter = '0'
	Secondary ProtocolControlCharacter = '1'
)

// Baud rates of the mode C identifier table, indexed by identifier - '0'.
var modeCBaudRates = []int{300, 600, 1200, 2400, 4800, 9600, 19200}

// Baud rates of the mode B identifier table, indexed by identifier - 'A'.
var modeBBaudRates = []int{600, 1200, 2400, 4800, 9600, 19200}

// Baud rates a mode D meter may push at. DSMR P1 ports use 115200.
var modeDBaudRates = []int{300, 600, 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200}

func isModeDBaudRate(baud int) bool {
	for _, b := range modeDBaudRates {
		if b == baud {
			return true
		}
	}
	return false
}

func isStandardBaudRate(baud int) bool {
	for _, b := range modeCBaudRates {
		if b == baud {
			return true
		}
	}
	return false
}

// baudRateIdentifier returns the mode C identifier character for baud.
func baudRateIdentifier(baud int) (byte, error) {
	for i, b := range modeCBaudRates {
		if b == baud {
			return byte('0' + i), nil
		}
	}
	return 0, fmt.Errorf("no baud rate identifier for %d baud", baud)
}

// decodeBaudRateIdentifier maps the identifier of an identification message
// to the protocol mode and baud rate it announces.
func decodeBaudRateIdentifier(id byte) (ProtocolMode, int, error) {
	switch {
	case id >= '0' && id <= '6':
		return ModeC, modeCBaudRates[id-'0'], nil
	case id >= '7' && id <= '9':
		return 0, 0, framingErrorf("reserved mode C baud rate identifier %q", id)
	case id >= 'A' && id <= 'F':
		return ModeB, modeBBaudRates[id-'A'], nil
	case id >= 'G' && id <= 'I':
		return 0, 0, framingErrorf("reserved mode B baud rate identifier %q", id)
	default:
		return ModeA, 300, nil
	}
}
