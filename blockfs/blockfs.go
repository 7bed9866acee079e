// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package blockfs defines the storage-backend capability consumed by the
// parity pipelines, and a single-node implementation over the local disk.
package blockfs

import (
	"context"
	"io"

	"github.com/zeebo/errs"
)

// Error is the default blockfs errs class.
var Error = errs.Class("blockfs")

// FileInfo describes a stored file.
type FileInfo struct {
	Length      int64
	BlockSize   int64
	Replication int
}

// CreateOptions carries the knobs of an open-for-write call.
type CreateOptions struct {
	// Overwrite allows replacing an existing file.
	Overwrite bool
	// BufferSize is a hint for write buffering.
	BufferSize int
	// Replication is the desired replica count.
	Replication int
	// BlockSize is the block size of the new file. Zero picks the
	// backend default.
	BlockSize int64
}

// FS is the storage capability the parity pipelines run against. The
// backend's own consistency guarantees are assumed: Rename is atomic and
// SetReplication takes effect before returning.
type FS interface {
	// OpenAt opens path for reading at the given offset. bufferSize is
	// a read-buffering hint.
	OpenAt(ctx context.Context, path string, offset int64, bufferSize int) (io.ReadCloser, error)

	// Create opens path for writing.
	Create(ctx context.Context, path string, opts CreateOptions) (io.WriteCloser, error)

	// Exists reports whether path refers to a file or directory.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes path. Deleting a missing path is not an error.
	Delete(ctx context.Context, path string, recursive bool) error

	// MkdirAll creates the directory at path along with any parents.
	MkdirAll(ctx context.Context, path string) error

	// Rename atomically moves oldPath to newPath.
	Rename(ctx context.Context, oldPath, newPath string) error

	// SetReplication changes the replica count of an existing file.
	SetReplication(ctx context.Context, path string, factor int) error

	// Stat returns the length and block geometry of path.
	Stat(ctx context.Context, path string) (FileInfo, error)
}
