// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package raidfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/memory"
	"storj.io/common/testcontext"
	"storj.io/common/testrand"
	"storj.io/raidfs/blockfs"
	"storj.io/raidfs/erasure"
)

func xorCodec(t *testing.T, stripeLength int) *Codec {
	code, err := erasure.NewXOR(stripeLength)
	require.NoError(t, err)
	return &Codec{
		ID:           "xor",
		StripeLength: stripeLength,
		ParityLength: 1,
		StagingDir:   "/raid/tmp",
		Code:         code,
	}
}

func rsCodec(t *testing.T, stripeLength, parityLength int) *Codec {
	code, err := erasure.NewReedSolomon(stripeLength, parityLength)
	require.NoError(t, err)
	return &Codec{
		ID:           "rs",
		StripeLength: stripeLength,
		ParityLength: parityLength,
		StagingDir:   "/raid/tmp",
		Code:         code,
	}
}

func writeSource(ctx context.Context, t *testing.T, fs blockfs.FS, path string, data []byte, blockSize int64) {
	w, err := fs.Create(ctx, path, blockfs.CreateOptions{BlockSize: blockSize})
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func readFile(ctx context.Context, t *testing.T, fs blockfs.FS, path string) []byte {
	r, err := fs.OpenAt(ctx, path, 0, 0)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	return data
}

func xorBlocks(blocks ...[]byte) []byte {
	out := make([]byte, len(blocks[0]))
	copy(out, blocks[0])
	for _, b := range blocks[1:] {
		for i := range b {
			out[i] ^= b[i]
		}
	}
	return out
}

func TestConfigureBuffers(t *testing.T) {
	enc, err := NewEncoder(xorCodec(t, 2), Config{})
	require.NoError(t, err)
	require.Equal(t, memory.MiB.Int(), enc.chunkSize)

	// Block smaller than the chunk clamps the chunk to the block.
	enc.configureBuffers(64 * 1024)
	require.Equal(t, 64*1024, enc.chunkSize)
	require.Len(t, enc.parityBufs[0], 64*1024)

	// Same block size again must not reallocate.
	before := enc.parityBufs
	enc.configureBuffers(64 * 1024)
	require.True(t, &before[0][0] == &enc.parityBufs[0][0])

	// A block that the chunk does not divide evenly re-derives the chunk
	// so that it does.
	enc2, err := NewEncoder(xorCodec(t, 2), Config{})
	require.NoError(t, err)
	const oddBlock = 4098 * 256
	enc2.configureBuffers(oddBlock)
	require.Equal(t, 4098, enc2.chunkSize)
	require.Zero(t, oddBlock%enc2.chunkSize)
	require.Len(t, enc2.parityBufs[0], 4098)
}

func TestEncodeFileXOR(t *testing.T) {
	tctx := testcontext.New(t)
	defer tctx.Cleanup()

	fs := blockfs.NewLocal(tctx.Dir("fs"), 0)
	enc, err := NewEncoder(xorCodec(t, 2), Config{})
	require.NoError(t, err)

	// 2500 bytes at block size 1000: three data blocks, two stripes, and
	// a trailing short stripe padded with zeros.
	src := testrand.BytesInt(2500)
	writeSource(tctx, t, fs, "/data/file", src, 1000)

	require.NoError(t, enc.EncodeFile(tctx, fs, "/data/file", "/parity/file", 1, nil))

	parity := readFile(tctx, t, fs, "/parity/file")
	require.Len(t, parity, 2000)

	require.Equal(t, xorBlocks(src[0:1000], src[1000:2000]), parity[0:1000])

	tail := make([]byte, 1000)
	copy(tail, src[2000:2500])
	require.Equal(t, tail, parity[1000:2000])
}

func TestEncodeFileMultiParity(t *testing.T) {
	tctx := testcontext.New(t)
	defer tctx.Cleanup()

	const (
		blockSize    = 1024
		stripeLength = 3
		parityLength = 2
	)

	fs := blockfs.NewLocal(tctx.Dir("fs"), 0)
	codec := rsCodec(t, stripeLength, parityLength)
	enc, err := NewEncoder(codec, Config{})
	require.NoError(t, err)

	src := testrand.BytesInt(7*blockSize + 321)
	writeSource(tctx, t, fs, "/data/file", src, blockSize)

	require.NoError(t, enc.EncodeFile(tctx, fs, "/data/file", "/parity/file", 1, nil))

	geom := codec.Geometry(int64(len(src)), blockSize)
	parity := readFile(tctx, t, fs, "/parity/file")
	require.Equal(t, geom.ParitySize, int64(len(parity)))

	// Every stripe's parity must match the kernel applied to the padded
	// data blocks directly.
	padded := make([]byte, geom.Stripes*stripeLength*blockSize)
	copy(padded, src)
	for stripe := int64(0); stripe < geom.Stripes; stripe++ {
		data := make([][]byte, stripeLength)
		for i := range data {
			start := (stripe*stripeLength + int64(i)) * blockSize
			data[i] = padded[start : start+blockSize]
		}
		expected := make([][]byte, parityLength)
		for i := range expected {
			expected[i] = make([]byte, blockSize)
		}
		require.NoError(t, codec.Code.EncodeBulk(data, expected))

		for i := range expected {
			start := (stripe*parityLength + int64(i)) * blockSize
			require.Equal(t, expected[i], parity[start:start+blockSize],
				"stripe %d parity %d", stripe, i)
		}
	}
}

func TestEncodeReplacesStaleDestination(t *testing.T) {
	tctx := testcontext.New(t)
	defer tctx.Cleanup()

	fs := blockfs.NewLocal(tctx.Dir("fs"), 0)
	enc, err := NewEncoder(xorCodec(t, 2), Config{})
	require.NoError(t, err)

	writeSource(tctx, t, fs, "/parity/file", []byte("stale garbage"), 1000)

	src := testrand.BytesInt(2000)
	writeSource(tctx, t, fs, "/data/file", src, 1000)
	require.NoError(t, enc.EncodeFile(tctx, fs, "/data/file", "/parity/file", 1, nil))

	parity := readFile(tctx, t, fs, "/parity/file")
	require.Equal(t, xorBlocks(src[0:1000], src[1000:2000]), parity)
}

// opRecorder wraps an FS and records the mutation order of the publish
// protocol.
type opRecorder struct {
	blockfs.FS

	mu  sync.Mutex
	ops []string
}

func (r *opRecorder) record(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *opRecorder) Create(ctx context.Context, path string, opts blockfs.CreateOptions) (io.WriteCloser, error) {
	r.record("create")
	return r.FS.Create(ctx, path, opts)
}

func (r *opRecorder) SetReplication(ctx context.Context, path string, factor int) error {
	r.record("setreplication")
	return r.FS.SetReplication(ctx, path, factor)
}

func (r *opRecorder) Rename(ctx context.Context, oldPath, newPath string) error {
	r.record("rename")
	return r.FS.Rename(ctx, oldPath, newPath)
}

func TestStagingReplicationInflation(t *testing.T) {
	tctx := testcontext.New(t)
	defer tctx.Cleanup()

	const blockSize = 1024

	local := blockfs.NewLocal(tctx.Dir("fs"), 0)
	fs := &opRecorder{FS: local}

	codec := xorCodec(t, 1)
	enc, err := NewEncoder(codec, Config{LargeParityBlocks: 20})
	require.NoError(t, err)

	// 20 data blocks at stripe length 1 produce 20 parity blocks, at the
	// large-file threshold, so a replication-1 target stages at 2.
	src := testrand.BytesInt(20 * blockSize)
	writeSource(tctx, t, fs, "/data/big", src, blockSize)
	require.NoError(t, enc.EncodeFile(tctx, fs, "/data/big", "/parity/big", 1, nil))

	require.Equal(t, []string{"create", "create", "setreplication", "rename"}, fs.ops)

	info, err := fs.Stat(tctx, "/parity/big")
	require.NoError(t, err)
	require.Equal(t, 1, info.Replication)

	// A small file stays at the target replication with no downgrade.
	fs.ops = nil
	src = testrand.BytesInt(2 * blockSize)
	writeSource(tctx, t, fs, "/data/small", src, blockSize)
	require.NoError(t, enc.EncodeFile(tctx, fs, "/data/small", "/parity/small", 1, nil))
	require.Equal(t, []string{"create", "create", "rename"}, fs.ops)
}

// flakyFS fails every stream opened after the first healthy opens.
type flakyFS struct {
	blockfs.FS

	healthyOpens int32
	opens        atomic.Int32

	mu      sync.Mutex
	streams []*closeCounter
}

type closeCounter struct {
	io.ReadCloser
	closed atomic.Int32
}

func (c *closeCounter) Close() error {
	c.closed.Add(1)
	return c.ReadCloser.Close()
}

type brokenReader struct{}

func (brokenReader) Read(p []byte) (int, error) { return 0, io.ErrClosedPipe }
func (brokenReader) Close() error               { return nil }

func (f *flakyFS) OpenAt(ctx context.Context, path string, offset int64, bufferSize int) (io.ReadCloser, error) {
	var stream io.ReadCloser
	if f.opens.Add(1) > f.healthyOpens {
		stream = brokenReader{}
	} else {
		real, err := f.FS.OpenAt(ctx, path, offset, bufferSize)
		if err != nil {
			return nil, err
		}
		stream = real
	}
	counter := &closeCounter{ReadCloser: stream}
	f.mu.Lock()
	f.streams = append(f.streams, counter)
	f.mu.Unlock()
	return counter, nil
}

func TestEncodeAtomicityOnReadFailure(t *testing.T) {
	tctx := testcontext.New(t)
	defer tctx.Cleanup()

	const blockSize = 1024

	root := tctx.Dir("fs")
	local := blockfs.NewLocal(root, 0)
	// Two stripes encode cleanly, then the fifth open hits a stream
	// that fails its first read.
	fs := &flakyFS{FS: local, healthyOpens: 4}

	enc, err := NewEncoder(xorCodec(t, 2), Config{})
	require.NoError(t, err)

	src := testrand.BytesInt(8 * blockSize)
	writeSource(tctx, t, local, "/data/file", src, blockSize)

	err = enc.EncodeFile(tctx, fs, "/data/file", "/parity/file", 1, nil)
	require.Error(t, err)

	// The failed encode leaves nothing at the destination and no staging
	// artifacts behind.
	exists, statErr := local.Exists(tctx, "/parity/file")
	require.NoError(t, statErr)
	require.False(t, exists)

	staging, readErr := os.ReadDir(filepath.Join(root, "raid", "tmp"))
	require.NoError(t, readErr)
	require.Empty(t, staging)

	// Every stream handed out was closed exactly once, including the
	// healthy siblings of the failed one.
	for i, stream := range fs.streams {
		require.Equal(t, int32(1), stream.closed.Load(), "stream %d", i)
	}
}

// shortWriteFS silently drops every byte past a limit on created files,
// producing a staging file shorter than the geometry predicts.
type shortWriteFS struct {
	blockfs.FS

	limit int64
}

func (f *shortWriteFS) Create(ctx context.Context, path string, opts blockfs.CreateOptions) (io.WriteCloser, error) {
	w, err := f.FS.Create(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	return &cappedWriter{w: w, remaining: f.limit}, nil
}

type cappedWriter struct {
	w         io.WriteCloser
	remaining int64
}

func (c *cappedWriter) Write(p []byte) (int, error) {
	keep := int64(len(p))
	if keep > c.remaining {
		keep = c.remaining
	}
	if keep > 0 {
		if _, err := c.w.Write(p[:keep]); err != nil {
			return 0, err
		}
		c.remaining -= keep
	}
	return len(p), nil
}

func (c *cappedWriter) Close() error { return c.w.Close() }

func TestEncodeAbortsOnSizeMismatch(t *testing.T) {
	tctx := testcontext.New(t)
	defer tctx.Cleanup()

	const blockSize = 1024

	root := tctx.Dir("fs")
	local := blockfs.NewLocal(root, 0)
	// The staging file loses its last parity block, so the written length
	// cannot match the geometry.
	fs := &shortWriteFS{FS: local, limit: 3 * blockSize}

	enc, err := NewEncoder(xorCodec(t, 2), Config{})
	require.NoError(t, err)

	src := testrand.BytesInt(8 * blockSize)
	writeSource(tctx, t, local, "/data/file", src, blockSize)

	err = enc.EncodeFile(tctx, fs, "/data/file", "/parity/file", 1, nil)
	require.Error(t, err)
	// Four stripes of one parity block each: 4096 expected, 3072 written.
	require.ErrorContains(t, err, "expected parity size 4096 does not match actual 3072")

	exists, statErr := local.Exists(tctx, "/parity/file")
	require.NoError(t, statErr)
	require.False(t, exists)

	staging, readErr := os.ReadDir(filepath.Join(root, "raid", "tmp"))
	require.NoError(t, readErr)
	require.Empty(t, staging)
}

// renameFailFS fails every rename, stranding a fully verified staging file.
type renameFailFS struct {
	blockfs.FS
}

func (f *renameFailFS) Rename(ctx context.Context, oldPath, newPath string) error {
	return io.ErrClosedPipe
}

func TestEncodeRenameFailureCleansStaging(t *testing.T) {
	tctx := testcontext.New(t)
	defer tctx.Cleanup()

	const blockSize = 1024

	root := tctx.Dir("fs")
	local := blockfs.NewLocal(root, 0)
	fs := &renameFailFS{FS: local}

	enc, err := NewEncoder(xorCodec(t, 2), Config{})
	require.NoError(t, err)

	src := testrand.BytesInt(4 * blockSize)
	writeSource(tctx, t, local, "/data/file", src, blockSize)

	err = enc.EncodeFile(tctx, fs, "/data/file", "/parity/file", 1, nil)
	require.ErrorIs(t, err, io.ErrClosedPipe)
	require.ErrorContains(t, err, "/raid/tmp/file.")
	require.ErrorContains(t, err, "/parity/file")

	// The cleanup after the failed rename removes the staging file without
	// masking the rename error, and nothing appears at the destination.
	exists, statErr := local.Exists(tctx, "/parity/file")
	require.NoError(t, statErr)
	require.False(t, exists)

	staging, readErr := os.ReadDir(filepath.Join(root, "raid", "tmp"))
	require.NoError(t, readErr)
	require.Empty(t, staging)
}

func TestStripeInputsCloseOnOpenFailure(t *testing.T) {
	tctx := testcontext.New(t)
	defer tctx.Cleanup()

	const blockSize = 1024

	local := blockfs.NewLocal(tctx.Dir("fs"), 0)
	fs := &failingOpenFS{FS: local, failAfter: 2}

	enc, err := NewEncoder(xorCodec(t, 3), Config{})
	require.NoError(t, err)

	src := testrand.BytesInt(3 * blockSize)
	writeSource(tctx, t, local, "/data/file", src, blockSize)

	_, err = enc.stripeInputs(tctx, fs, "/data/file", 0, int64(len(src)), blockSize)
	require.Error(t, err)

	for i, stream := range fs.streams {
		require.Equal(t, int32(1), stream.closed.Load(), "stream %d", i)
	}
}

// failingOpenFS fails the open call itself once failAfter opens succeeded.
type failingOpenFS struct {
	blockfs.FS

	failAfter int32
	opens     atomic.Int32

	mu      sync.Mutex
	streams []*closeCounter
}

func (f *failingOpenFS) OpenAt(ctx context.Context, path string, offset int64, bufferSize int) (io.ReadCloser, error) {
	if f.opens.Add(1) > f.failAfter {
		return nil, io.ErrClosedPipe
	}
	real, err := f.FS.OpenAt(ctx, path, offset, bufferSize)
	if err != nil {
		return nil, err
	}
	counter := &closeCounter{ReadCloser: real}
	f.mu.Lock()
	f.streams = append(f.streams, counter)
	f.mu.Unlock()
	return counter, nil
}

func TestEncodeProgressSignaled(t *testing.T) {
	tctx := testcontext.New(t)
	defer tctx.Cleanup()

	fs := blockfs.NewLocal(tctx.Dir("fs"), 0)
	enc, err := NewEncoder(xorCodec(t, 2), Config{})
	require.NoError(t, err)

	src := testrand.BytesInt(4000)
	writeSource(tctx, t, fs, "/data/file", src, 1000)

	var ticks atomic.Int32
	require.NoError(t, enc.EncodeFile(tctx, fs, "/data/file", "/parity/file", 1,
		func() { ticks.Add(1) }))
	require.Greater(t, ticks.Load(), int32(0))
}
