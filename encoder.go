// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package raidfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/rs/zerolog"
	"github.com/zeebo/errs"
	"github.com/zeebo/mwc"

	"storj.io/common/memory"
	"storj.io/common/sync2"
	"storj.io/raidfs/blockfs"
	"storj.io/raidfs/private/readers"
)

// ProgressFn is called periodically during reads, encodes and writes so a
// supervising framework does not treat a long encode as stalled.
type ProgressFn func()

// Encoder generates parity files for source files, and re-derives single
// parity blocks from source data.
//
// An Encoder owns its scratch buffers: it may be reused across calls, but
// must not run two encode or recovery operations concurrently. Use one
// Encoder per in-flight operation; separate Encoders may share a Codec and
// a staging directory, relying on unique staging names for
// collision-freedom.
type Encoder struct {
	log   zerolog.Logger
	cfg   Config
	codec *Codec
	rng   *mwc.T

	chunkSize  int
	parityBufs [][]byte
}

// NewEncoder returns an Encoder for the given codec.
func NewEncoder(codec *Codec, cfg Config) (*Encoder, error) {
	if err := codec.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	log := zerolog.Nop()
	if cfg.Log != nil {
		log = *cfg.Log
	}
	e := &Encoder{
		log:       log,
		cfg:       cfg,
		codec:     codec,
		rng:       mwc.Rand(),
		chunkSize: cfg.ChunkSize.Int(),
	}
	e.allocateBuffers()
	return e, nil
}

func (e *Encoder) allocateBuffers() {
	e.parityBufs = make([][]byte, e.codec.ParityLength)
	for i := range e.parityBufs {
		e.parityBufs[i] = make([]byte, e.chunkSize)
	}
}

// configureBuffers derives the chunk size for a file's block size and
// reallocates the parity scratch buffers when it changes. The chunk size
// must evenly divide the block size: the encode kernel and the recovery
// indexing both assume no chunk ever spans a block boundary.
func (e *Encoder) configureBuffers(blockSize int64) {
	switch {
	case int64(e.chunkSize) > blockSize:
		e.chunkSize = int(blockSize)
		e.allocateBuffers()
	case blockSize%int64(e.chunkSize) != 0:
		size := int(blockSize / 256)
		if size == 0 {
			size = 1024
		}
		if size > memory.MiB.Int() {
			size = memory.MiB.Int()
		}
		e.chunkSize = size
		e.allocateBuffers()
	}
}

// EncodeFile encodes srcPath into a parity file published at parityPath
// with the given replication. The parity file is staged under the codec's
// staging directory and renamed into place only after its size verifies,
// so no partial result is ever visible at parityPath. progress may be nil.
func (e *Encoder) EncodeFile(ctx context.Context, fs blockfs.FS, srcPath, parityPath string, parityRepl int, progress ProgressFn) (err error) {
	defer mon.Task()(&ctx)(&err)
	if progress == nil {
		progress = func() {}
	}

	stat, err := fs.Stat(ctx, srcPath)
	if err != nil {
		return Error.Wrap(err)
	}
	geom := e.codec.Geometry(stat.Length, stat.BlockSize)

	if err := fs.MkdirAll(ctx, e.codec.StagingDir); err != nil {
		return Error.New("create staging dir %q: %w", e.codec.StagingDir, err)
	}
	stagingPath := path.Join(e.codec.StagingDir,
		fmt.Sprintf("%s.%016x", path.Base(parityPath), e.rng.Uint64()))

	// Writing a large parity file at replication 1 is fragile: if a node
	// dies mid-write, before any replica exists, the whole encode is
	// lost. Stage such files at replication 2 and lower it afterwards.
	stagingRepl := parityRepl
	if parityRepl == 1 && geom.ParityBlocks >= int64(e.cfg.LargeParityBlocks) {
		stagingRepl = 2
	}

	out, err := fs.Create(ctx, stagingPath, blockfs.CreateOptions{
		Overwrite:   true,
		BufferSize:  e.cfg.IOBufferSize.Int(),
		Replication: stagingRepl,
		BlockSize:   stat.BlockSize,
	})
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		// The staging path goes away on every exit path. Neither the
		// close nor the delete may mask the error that got us here.
		if out != nil {
			err = errs.Combine(err, out.Close())
		}
		if deleteErr := fs.Delete(ctx, stagingPath, false); err == nil {
			err = Error.Wrap(deleteErr)
		}
	}()

	if err := e.encodeFileToSink(ctx, fs, srcPath, stat.Length, stat.BlockSize, out, progress); err != nil {
		return err
	}
	if closeErr := out.Close(); closeErr != nil {
		return Error.Wrap(closeErr)
	}
	out = nil
	e.log.Info().Str("path", stagingPath).Msg("wrote staging parity file")

	written, err := fs.Stat(ctx, stagingPath)
	if err != nil {
		return Error.Wrap(err)
	}
	if written.Length != geom.ParitySize {
		return Error.New("expected parity size %d does not match actual %d",
			geom.ParitySize, written.Length)
	}

	if exists, err := fs.Exists(ctx, parityPath); err != nil {
		return Error.Wrap(err)
	} else if exists {
		if err := fs.Delete(ctx, parityPath, false); err != nil {
			return Error.Wrap(err)
		}
	}
	if err := fs.MkdirAll(ctx, path.Dir(parityPath)); err != nil {
		return Error.Wrap(err)
	}
	if stagingRepl > parityRepl {
		// Downgrade strictly before the rename: the file must never be
		// visible at its final name with a replication change pending.
		if err := fs.SetReplication(ctx, stagingPath, parityRepl); err != nil {
			return Error.Wrap(err)
		}
	}
	if err := fs.Rename(ctx, stagingPath, parityPath); err != nil {
		return Error.New("rename %q to %q: %w", stagingPath, parityPath, err)
	}

	e.log.Info().
		Str("path", parityPath).
		Int64("size", geom.ParitySize).
		Int64("stripes", geom.Stripes).
		Msg("published parity file")
	return nil
}

// encodeFileToSink encodes every stripe of the source file and streams the
// resulting parity to out. Only one destination stream is open, so the
// first parity output of each stripe goes to out directly while the
// remaining outputs are buffered in local scratch files and appended once
// the stripe completes.
func (e *Encoder) encodeFileToSink(ctx context.Context, fs blockfs.FS, srcPath string, srcSize, blockSize int64, out io.Writer, progress ProgressFn) (err error) {
	defer mon.Task()(&ctx)(&err)

	scratch := make([]*os.File, e.codec.ParityLength-1)
	for i := range scratch {
		f, err := os.CreateTemp("", fmt.Sprintf("parity-*.%d", i))
		if err != nil {
			return Error.Wrap(err)
		}
		scratch[i] = f
		e.log.Debug().Str("path", f.Name()).Msg("created scratch file")
	}
	defer func() {
		for _, f := range scratch {
			err = errs.Combine(err, f.Close(), os.Remove(f.Name()))
		}
	}()

	stripeSize := blockSize * int64(e.codec.StripeLength)
	for stripeStart := int64(0); stripeStart < srcSize; stripeStart += stripeSize {
		progress()
		e.log.Debug().Str("path", srcPath).Int64("offset", stripeStart).Msg("encoding stripe")

		sinks := make([]io.Writer, e.codec.ParityLength)
		sinks[0] = out
		for i, f := range scratch {
			if err := f.Truncate(0); err != nil {
				return Error.Wrap(err)
			}
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return Error.Wrap(err)
			}
			sinks[i+1] = f
		}

		inputs, err := e.stripeInputs(ctx, fs, srcPath, stripeStart, srcSize, blockSize)
		if err != nil {
			return err
		}
		if err := e.encodeStripe(ctx, inputs, blockSize, sinks, progress); err != nil {
			return err
		}

		// Append the buffered parity blocks after the streamed one.
		for _, f := range scratch {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return Error.Wrap(err)
			}
			if _, err := sync2.Copy(ctx, out, io.LimitReader(f, blockSize)); err != nil {
				return Error.Wrap(err)
			}
			progress()
		}
	}
	return nil
}

// encodeStripe reads the stripe's blocks chunk by chunk, encodes each
// aligned chunk, and writes every parity chunk to its sink. Read failures
// abort the stripe; retries belong to the calling policy layer.
func (e *Encoder) encodeStripe(ctx context.Context, inputs []io.ReadCloser, blockSize int64, sinks []io.Writer, progress ProgressFn) (err error) {
	defer mon.Task()(&ctx)(&err)

	e.configureBuffers(blockSize)
	reader := readers.NewStripeReader(inputs, readers.Options{
		ChunkSize:   e.chunkSize,
		BlockSize:   blockSize,
		Parallelism: e.cfg.Parallelism,
		ReadAhead:   e.cfg.ReadAhead,
		Progress:    progress,
	})
	defer func() {
		err = errs.Combine(err, reader.Shutdown())
	}()

	for encoded := int64(0); encoded < blockSize; encoded += int64(e.chunkSize) {
		chunk, err := reader.Next(ctx)
		if err != nil {
			return err
		}
		if chunk.Err != nil {
			return chunk.Err
		}

		if err := e.codec.Code.EncodeBulk(chunk.Data, e.parityBufs); err != nil {
			return Error.Wrap(err)
		}
		progress()

		for i, sink := range sinks {
			if _, err := sink.Write(e.parityBufs[i]); err != nil {
				return Error.New("parity sink %d: %w", i, err)
			}
			progress()
		}
	}
	return nil
}
