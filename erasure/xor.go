// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package erasure

type xorCode struct {
	dataCount int
}

// NewXOR returns a Code producing a single parity block that is the
// bytewise XOR of all data blocks in the stripe.
func NewXOR(dataCount int) (Code, error) {
	if dataCount < 1 {
		return nil, Error.New("xor needs at least one data block, got %d", dataCount)
	}
	return &xorCode{dataCount: dataCount}, nil
}

func (c *xorCode) DataCount() int   { return c.dataCount }
func (c *xorCode) ParityCount() int { return 1 }

func (c *xorCode) EncodeBulk(data, parity [][]byte) error {
	if err := checkBuffers(data, parity, c.dataCount, 1); err != nil {
		return err
	}
	out := parity[0]
	copy(out, data[0])
	for _, buf := range data[1:] {
		for i, b := range buf {
			out[i] ^= b
		}
	}
	return nil
}
