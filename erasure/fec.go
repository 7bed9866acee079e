// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package erasure

import (
	"sync"

	"storj.io/infectious"
)

type fecCode struct {
	fc          *infectious.FEC
	dataCount   int
	parityCount int
	stripes     sync.Pool
}

// NewFEC returns a Code backed by the systematic Reed-Solomon
// implementation in storj.io/infectious. The parity blocks are the
// non-systematic shares dataCount..dataCount+parityCount-1.
func NewFEC(dataCount, parityCount int) (Code, error) {
	fc, err := infectious.NewFEC(dataCount, dataCount+parityCount)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &fecCode{
		fc:          fc,
		dataCount:   dataCount,
		parityCount: parityCount,
	}, nil
}

func (c *fecCode) DataCount() int   { return c.dataCount }
func (c *fecCode) ParityCount() int { return c.parityCount }

func (c *fecCode) EncodeBulk(data, parity [][]byte) error {
	if err := checkBuffers(data, parity, c.dataCount, c.parityCount); err != nil {
		return err
	}

	// infectious wants one contiguous stripe, so the data buffers are
	// gathered into pooled scratch memory before encoding.
	size := len(data[0])
	stripe, _ := c.stripes.Get().([]byte)
	if cap(stripe) < size*c.dataCount {
		stripe = make([]byte, size*c.dataCount)
	}
	stripe = stripe[:size*c.dataCount]
	defer c.stripes.Put(stripe) //nolint: staticcheck

	for i, buf := range data {
		copy(stripe[i*size:], buf)
	}
	for i, out := range parity {
		if err := c.fc.EncodeSingle(stripe, out, c.dataCount+i); err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}
