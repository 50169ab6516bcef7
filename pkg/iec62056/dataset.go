package iec62056

import (
	"encoding/json"
	"fmt"
)

// DataSet is one record of a data message. Address, value and unit are all
// optional and are the empty string when absent.
//
// Wire format: [CR LF] address '(' value ['*' unit] ')'
type DataSet struct {
	address string
	value   string
	unit    string
}

func NewDataSet(address, value, unit string) DataSet {
	return DataSet{address: address, value: value, unit: unit}
}

// Address is usually an OBIS code (A-B:C.D.E*F) or an older EDIS code (C.D.E).
func (d DataSet) Address() string { return d.address }
func (d DataSet) Value() string   { return d.value }
func (d DataSet) Unit() string    { return d.unit }

func (d DataSet) String() string {
	if d.unit == "" {
		return fmt.Sprintf("%s(%s)", d.address, d.value)
	}
	return fmt.Sprintf("%s(%s*%s)", d.address, d.value, d.unit)
}

func (d DataSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Address string `json:"address"`
		Value   string `json:"value"`
		Unit    string `json:"unit"`
	}{d.address, d.value, d.unit})
}

// readDataSet decodes one data set, folding every byte it reads into bcc.
// ok is false when the record starts with '!', the end of the message.
func readDataSet(r *byteReader, bcc *Bcc, limit int) (ds DataSet, ok bool, err error) {
	b, err := r.readByteBcc(bcc)
	if err != nil {
		return DataSet{}, false, err
	}
	if b == cr {
		if b, err = r.readByteBcc(bcc); err != nil {
			return DataSet{}, false, err
		}
		if b != lf {
			return DataSet{}, false, framingErrorf("expected LF after CR, received 0x%02X", b)
		}
		if b, err = r.readByteBcc(bcc); err != nil {
			return DataSet{}, false, err
		}
	}
	if b == '!' {
		return DataSet{}, false, nil
	}

	buf := make([]byte, 0, limit)
	for b != '(' {
		if b != stx {
			if len(buf) == limit {
				return DataSet{}, false, framingErrorf("expected '(' within %d address bytes", limit)
			}
			buf = append(buf, b)
		}
		if b, err = r.readByteBcc(bcc); err != nil {
			return DataSet{}, false, err
		}
	}
	address := string(buf)

	buf = buf[:0]
	for {
		if b, err = r.readByteBcc(bcc); err != nil {
			return DataSet{}, false, err
		}
		if b == '*' || b == ')' {
			break
		}
		if len(buf) == limit {
			return DataSet{}, false, framingErrorf("expected '*' or ')' within %d value bytes", limit)
		}
		buf = append(buf, b)
	}
	value := string(buf)

	if b == ')' {
		return NewDataSet(address, value, ""), true, nil
	}

	buf = buf[:0]
	for {
		if b, err = r.readByteBcc(bcc); err != nil {
			return DataSet{}, false, err
		}
		if b == ')' {
			break
		}
		if len(buf) == limit {
			return DataSet{}, false, framingErrorf("expected ')' within %d unit bytes", limit)
		}
		buf = append(buf, b)
	}
	return NewDataSet(address, value, string(buf)), true, nil
}
