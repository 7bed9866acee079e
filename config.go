// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package raidfs

import (
	"github.com/rs/zerolog"

	"storj.io/common/memory"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultParallelism       = 4
	DefaultChunkSize         = memory.MiB
	DefaultReadAhead         = 1
	DefaultLargeParityBlocks = 20
	DefaultIOBufferSize      = 64 * memory.KiB
)

// Config tunes an Encoder.
type Config struct {
	// Parallelism bounds how many concurrent stream reads one stripe
	// performs.
	Parallelism int

	// ChunkSize is the target read/encode unit. The effective chunk
	// size is adjusted per file so that it evenly divides the block
	// size.
	ChunkSize memory.Size

	// ReadAhead bounds how many chunks the stripe reader may run ahead
	// of the encode loop.
	ReadAhead int

	// LargeParityBlocks is the expected-parity-block count at or above
	// which a replication-1 parity file is staged at replication 2.
	LargeParityBlocks int

	// IOBufferSize is passed through to stream-open calls as a
	// buffering hint.
	IOBufferSize memory.Size

	// Log receives encode and recovery events. Nil discards them.
	Log *zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.Parallelism <= 0 {
		c.Parallelism = DefaultParallelism
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ReadAhead <= 0 {
		c.ReadAhead = DefaultReadAhead
	}
	if c.LargeParityBlocks <= 0 {
		c.LargeParityBlocks = DefaultLargeParityBlocks
	}
	if c.IOBufferSize <= 0 {
		c.IOBufferSize = DefaultIOBufferSize
	}
	return c
}
