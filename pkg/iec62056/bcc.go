package iec62056

// Bcc is the block check character: the XOR of every byte of a frame.
// A Bcc lives for exactly one parse call.
type Bcc byte

func (b *Bcc) Update(c byte) {
	*b ^= Bcc(c)
}

func (b *Bcc) UpdateAll(p []byte) {
	for _, c := range p {
		b.Update(c)
	}
}

func (b Bcc) Value() byte {
	return byte(b)
}

// Matches reports whether check equals the accumulated value.
func (b Bcc) Matches(check byte) bool {
	return byte(b) == check
}

// computeBcc returns the block check character over p.
func computeBcc(p []byte) byte {
	var b Bcc
	b.UpdateAll(p)
	return b.Value()
}
