// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package raidfs

import (
	"storj.io/raidfs/erasure"
)

// Codec describes one erasure-coding scheme: how many data blocks form a
// stripe, how many parity blocks each stripe produces, where staged parity
// files live, and the kernel that does the math. A Codec is immutable once
// constructed and may be shared read-only across concurrent operations.
type Codec struct {
	// ID names the scheme, e.g. "xor" or "rs".
	ID string

	// StripeLength is the number of data blocks per stripe.
	StripeLength int

	// ParityLength is the number of parity blocks per stripe.
	ParityLength int

	// StagingDir is where parity files are written before being
	// published.
	StagingDir string

	// Code is the bulk-encode kernel.
	Code erasure.Code
}

// Validate checks the descriptor for internal consistency.
func (c *Codec) Validate() error {
	switch {
	case c.StripeLength < 1:
		return Error.New("codec %q: stripe length %d < 1", c.ID, c.StripeLength)
	case c.ParityLength < 1:
		return Error.New("codec %q: parity length %d < 1", c.ID, c.ParityLength)
	case c.StagingDir == "":
		return Error.New("codec %q: missing staging directory", c.ID)
	case c.Code == nil:
		return Error.New("codec %q: missing erasure code", c.ID)
	case c.Code.DataCount() != c.StripeLength:
		return Error.New("codec %q: erasure code expects %d data blocks, codec has %d",
			c.ID, c.Code.DataCount(), c.StripeLength)
	case c.Code.ParityCount() != c.ParityLength:
		return Error.New("codec %q: erasure code produces %d parity blocks, codec has %d",
			c.ID, c.Code.ParityCount(), c.ParityLength)
	}
	return nil
}

// Geometry is the per-file shape of an encode: how many data blocks the
// source has, how many stripes they form, and how big the parity file must
// come out. It is derived fresh for every call and never cached across
// files.
type Geometry struct {
	DataBlocks   int64
	Stripes      int64
	ParityBlocks int64
	ParitySize   int64
}

// Geometry derives the encode shape for a source file.
func (c *Codec) Geometry(srcSize, blockSize int64) Geometry {
	dataBlocks := (srcSize + blockSize - 1) / blockSize
	stripes := (dataBlocks + int64(c.StripeLength) - 1) / int64(c.StripeLength)
	return Geometry{
		DataBlocks:   dataBlocks,
		Stripes:      stripes,
		ParityBlocks: stripes * int64(c.ParityLength),
		ParitySize:   stripes * blockSize * int64(c.ParityLength),
	}
}
