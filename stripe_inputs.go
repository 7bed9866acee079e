// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package raidfs

import (
	"context"
	"io"

	"storj.io/raidfs/blockfs"
)

// stripeInputs opens one readable stream per data-block position of the
// stripe starting at stripeStart. Positions past the end of the source
// file get a virtual stream of exactly blockSize zero bytes, which models
// the padding of a file whose length is not a multiple of the stripe
// size. Either all streams are returned or none: an open failure closes
// everything opened so far.
func (e *Encoder) stripeInputs(ctx context.Context, fs blockfs.FS, srcPath string, stripeStart, srcSize, blockSize int64) (_ []io.ReadCloser, err error) {
	inputs := make([]io.ReadCloser, 0, e.codec.StripeLength)
	defer func() {
		if err != nil {
			for _, in := range inputs {
				_ = in.Close()
			}
		}
	}()

	for i := 0; i < e.codec.StripeLength; i++ {
		offset := stripeStart + int64(i)*blockSize
		if offset < srcSize {
			in, err := fs.OpenAt(ctx, srcPath, offset, e.cfg.IOBufferSize.Int())
			if err != nil {
				return nil, Error.Wrap(err)
			}
			inputs = append(inputs, in)
		} else {
			e.log.Debug().Int64("offset", offset).Msg("no source data, using zeros")
			inputs = append(inputs, zeroStream(blockSize))
		}
	}
	return inputs, nil
}

// zeroReader yields a fixed number of zero bytes and then ends.
type zeroReader struct {
	remaining int64
}

func zeroStream(n int64) io.ReadCloser { return &zeroReader{remaining: n} }

func (z *zeroReader) Read(p []byte) (int, error) {
	if z.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > z.remaining {
		p = p[:z.remaining]
	}
	clear(p)
	z.remaining -= int64(len(p))
	return len(p), nil
}

func (z *zeroReader) Close() error { return nil }
