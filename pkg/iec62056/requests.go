package iec62056

// acknowledgeRequest encodes ACK V Z Y CR LF.
func acknowledgeRequest(baud int, control ProtocolControlCharacter, mode AcknowledgeMode) ([]byte, error) {
	z, err := baudRateIdentifier(baud)
	if err != nil {
		return nil, err
	}
	return []byte{ack, byte(control), z, byte(mode), cr, lf}, nil
}

// commandMessage encodes SOH command STX data ETX BCC, the BCC covering
// everything after SOH.
func commandMessage(command string, data string) []byte {
	msg := make([]byte, 0, len(command)+len(data)+4)
	msg = append(msg, soh)
	msg = append(msg, command...)
	msg = append(msg, stx)
	msg = append(msg, data...)
	msg = append(msg, etx)
	return append(msg, computeBcc(msg[1:]))
}

// authenticationRequest encodes the P1 password command.
func authenticationRequest(password string) []byte {
	return commandMessage("P1", "("+password+")")
}

// dataRequest encodes the R1 read command for one address.
func dataRequest(address string) []byte {
	return commandMessage("R1", address+"()")
}

// breakRequest encodes the B0 command that ends a programming session.
func breakRequest() []byte {
	msg := []byte{soh, 'B', '0', etx}
	return append(msg, computeBcc(msg[1:]))
}
