// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package erasure

import (
	"github.com/klauspost/reedsolomon"
)

type rsCode struct {
	enc         reedsolomon.Encoder
	dataCount   int
	parityCount int
}

// NewReedSolomon returns a Code backed by
// github.com/klauspost/reedsolomon. Its shard contract maps directly onto
// EncodeBulk: data shards followed by parity shards, encoded in place.
func NewReedSolomon(dataCount, parityCount int) (Code, error) {
	enc, err := reedsolomon.New(dataCount, parityCount)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &rsCode{
		enc:         enc,
		dataCount:   dataCount,
		parityCount: parityCount,
	}, nil
}

func (c *rsCode) DataCount() int   { return c.dataCount }
func (c *rsCode) ParityCount() int { return c.parityCount }

func (c *rsCode) EncodeBulk(data, parity [][]byte) error {
	if err := checkBuffers(data, parity, c.dataCount, c.parityCount); err != nil {
		return err
	}
	shards := make([][]byte, 0, c.dataCount+c.parityCount)
	shards = append(shards, data...)
	shards = append(shards, parity...)
	return Error.Wrap(c.enc.Encode(shards))
}
