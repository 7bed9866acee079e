// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package raidfs

import (
	"context"
	"io"
	"os"

	"github.com/zeebo/errs"

	"storj.io/raidfs/blockfs"
)

// discard accepts parity chunks the caller does not need. It is wired
// through the same sink interface as real destinations, so the encode
// loop never special-cases recovery.
type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// RecoverParityBlock re-derives the single parity block of parityPath
// containing corruptOffset and writes it to dst.
//
// Recovery runs the same stripe encode as EncodeFile with every
// non-target parity output discarded, so the recovered block is
// byte-identical to the original encode. It recomputes parity purely from
// source data and never reads sibling parity blocks; it is only viable
// while the source stripe's data blocks are intact. On failure dst may
// hold a partial block; discarding it is the caller's responsibility.
func (e *Encoder) RecoverParityBlock(ctx context.Context, fs blockfs.FS, srcPath string, srcSize, blockSize int64, parityPath string, corruptOffset int64, dst io.Writer, progress ProgressFn) (err error) {
	defer mon.Task()(&ctx)(&err)
	if progress == nil {
		progress = func() {}
	}

	// Round down to the corrupt block's start, then locate it within its
	// parity stripe.
	corruptOffset = (corruptOffset / blockSize) * blockSize
	blockIdx := corruptOffset / blockSize
	parityIdx := blockIdx % int64(e.codec.ParityLength)
	stripeIdx := blockIdx / int64(e.codec.ParityLength)
	stripeStart := stripeIdx * blockSize * int64(e.codec.StripeLength)

	e.log.Info().
		Str("parity", parityPath).
		Int64("offset", corruptOffset).
		Int64("stripe", stripeIdx).
		Int64("parityIndex", parityIdx).
		Str("source", srcPath).
		Msg("recovering parity block")

	sinks := make([]io.Writer, e.codec.ParityLength)
	for i := range sinks {
		if int64(i) == parityIdx {
			sinks[i] = dst
		} else {
			sinks[i] = discard{}
		}
	}

	inputs, err := e.stripeInputs(ctx, fs, srcPath, stripeStart, srcSize, blockSize)
	if err != nil {
		return err
	}
	return e.encodeStripe(ctx, inputs, blockSize, sinks, progress)
}

// RecoverParityBlockToFile recovers like RecoverParityBlock but writes the
// block to a local file.
func (e *Encoder) RecoverParityBlockToFile(ctx context.Context, fs blockfs.FS, srcPath string, srcSize, blockSize int64, parityPath string, corruptOffset int64, localPath string, progress ProgressFn) (err error) {
	defer mon.Task()(&ctx)(&err)

	f, err := os.Create(localPath)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		err = errs.Combine(err, f.Close())
	}()
	return e.RecoverParityBlock(ctx, fs, srcPath, srcSize, blockSize, parityPath, corruptOffset, f, progress)
}
