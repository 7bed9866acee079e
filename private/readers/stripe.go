// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package readers

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/zeebo/errs"

	"storj.io/common/sync2"
)

// Chunk is one aligned read across every stream of a stripe: one buffer
// per data-block position, each exactly the chunk size. A read failure on
// any stream is carried in Err rather than thrown from the worker; the
// consumer decides whether to abort.
type Chunk struct {
	Data [][]byte
	Err  error
}

// Options configures a StripeReader.
type Options struct {
	// ChunkSize is the read unit. It must evenly divide BlockSize.
	ChunkSize int
	// BlockSize is how many bytes to read from every stream in total.
	BlockSize int64
	// Parallelism bounds how many stream reads run at once.
	Parallelism int
	// ReadAhead bounds how many chunks may be read ahead of the consumer.
	ReadAhead int
	// Progress, when set, is called after each chunk is assembled.
	Progress func()
}

// StripeReader reads fixed-size chunks concurrently from all input streams
// of a stripe and delivers them one aligned chunk at a time, in strictly
// increasing offset order.
//
// The reader owns the streams: Shutdown closes every one of them exactly
// once, whether or not the stream was fully consumed.
type StripeReader struct {
	streams  []io.ReadCloser
	chunks   int
	progress func()

	limiter *sync2.Limiter
	results chan *Chunk
	free    chan [][]byte
	cancel  context.CancelFunc
	runCtx  context.Context
	coreWG  sync.WaitGroup

	eof  []bool
	last *Chunk

	closeOnce sync.Once
	closeErr  error
}

// NewStripeReader starts reading chunks from the given streams. Every
// stream yields opts.BlockSize bytes; streams that end early read as zeros
// for the remainder of the block.
func NewStripeReader(streams []io.ReadCloser, opts Options) *StripeReader {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	if opts.ReadAhead <= 0 {
		opts.ReadAhead = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &StripeReader{
		streams:  streams,
		chunks:   int(opts.BlockSize / int64(opts.ChunkSize)),
		progress: opts.Progress,
		limiter:  sync2.NewLimiter(opts.Parallelism),
		results:  make(chan *Chunk, opts.ReadAhead),
		free:     make(chan [][]byte, opts.ReadAhead+2),
		cancel:   cancel,
		runCtx:   ctx,
		eof:      make([]bool, len(streams)),
	}
	for i := 0; i < cap(r.free); i++ {
		bufs := make([][]byte, len(streams))
		for j := range bufs {
			bufs[j] = make([]byte, opts.ChunkSize)
		}
		r.free <- bufs
	}

	r.coreWG.Add(1)
	go func() {
		defer r.coreWG.Done()
		r.run()
	}()
	return r
}

// run assembles chunks one offset at a time. A chunk is published only
// once every stream has produced its slice for that offset, so the read is
// a barrier across the whole stripe. Production stops at the first failed
// chunk.
func (r *StripeReader) run() {
	defer close(r.results)

	for idx := 0; idx < r.chunks; idx++ {
		var bufs [][]byte
		select {
		case bufs = <-r.free:
		case <-r.runCtx.Done():
			return
		}

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			firstErr error
		)
		for i := range r.streams {
			i := i
			wg.Add(1)
			started := r.limiter.Go(r.runCtx, func() {
				defer wg.Done()
				if err := r.fill(i, bufs[i]); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			})
			if !started {
				wg.Done()
				return
			}
		}
		wg.Wait()

		if r.progress != nil {
			r.progress()
		}

		chunk := &Chunk{Data: bufs, Err: firstErr}
		select {
		case r.results <- chunk:
		case <-r.runCtx.Done():
			return
		}
		if firstErr != nil {
			return
		}
	}
}

// fill reads one chunk from stream i. A stream hitting EOF reads as zeros
// from there on, which is how the trailing short block of a source file
// gets padded to a full block.
func (r *StripeReader) fill(i int, buf []byte) error {
	if r.eof[i] {
		clear(buf)
		return nil
	}
	n, err := io.ReadFull(r.streams[i], buf)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		r.eof[i] = true
		clear(buf[n:])
		return nil
	default:
		return Error.New("stream %d: %w", i, err)
	}
}

// Next blocks until the next aligned chunk is available. The returned
// chunk is valid until the following Next call, when its buffers are
// recycled. A context error while waiting fails the call; it is never
// swallowed.
func (r *StripeReader) Next(ctx context.Context) (_ *Chunk, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ctx.Err(); err != nil {
		return nil, Error.Wrap(err)
	}
	if r.last != nil {
		r.free <- r.last.Data
		r.last = nil
	}
	select {
	case chunk, ok := <-r.results:
		if !ok {
			return nil, Error.New("all chunks already delivered")
		}
		r.last = chunk
		return chunk, nil
	case <-ctx.Done():
		return nil, Error.Wrap(ctx.Err())
	}
}

// Shutdown stops all workers and closes every input stream exactly once.
// It is safe to call after partial consumption or after an error, and safe
// to call more than once.
func (r *StripeReader) Shutdown() error {
	r.cancel()
	r.closeOnce.Do(func() {
		r.coreWG.Wait()
		r.limiter.Wait()

		var group errs.Group
		for _, stream := range r.streams {
			group.Add(stream.Close())
		}
		r.closeErr = Error.Wrap(group.Err())
	})
	return r.closeErr
}
