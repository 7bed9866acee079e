// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package blockfs

import (
	"bufio"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zeebo/errs"
)

// DefaultBlockSize is the block size Local assumes for files created
// without an explicit one.
const DefaultBlockSize = 64 * 1024 * 1024

// Local implements FS on a local directory. Block size and replication
// are tracked as in-memory metadata: a single node has nothing to
// replicate, but the pipelines still exercise the same calls they would
// make against a cluster backend.
type Local struct {
	root             string
	defaultBlockSize int64

	mu   sync.Mutex
	meta map[string]*fileMeta
}

type fileMeta struct {
	blockSize   int64
	replication int
}

// NewLocal returns a Local rooted at dir. defaultBlockSize of zero falls
// back to DefaultBlockSize.
func NewLocal(dir string, defaultBlockSize int64) *Local {
	if defaultBlockSize <= 0 {
		defaultBlockSize = DefaultBlockSize
	}
	return &Local{
		root:             dir,
		defaultBlockSize: defaultBlockSize,
		meta:             make(map[string]*fileMeta),
	}
}

// resolve maps a slash-separated storage path onto the local disk.
func (l *Local) resolve(p string) (key, fsPath string) {
	key = path.Clean("/" + p)
	return key, filepath.Join(l.root, filepath.FromSlash(key))
}

func (l *Local) lookup(key string) fileMeta {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.meta[key]; ok {
		return *m
	}
	return fileMeta{blockSize: l.defaultBlockSize, replication: 1}
}

// OpenAt implements FS.
func (l *Local) OpenAt(ctx context.Context, p string, offset int64, bufferSize int) (_ io.ReadCloser, err error) {
	_, fsPath := l.resolve(p)
	f, err := os.Open(fsPath)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, Error.Wrap(errs.Combine(err, f.Close()))
	}
	if bufferSize <= 0 {
		return f, nil
	}
	return &bufferedReadCloser{
		Reader: bufio.NewReaderSize(f, bufferSize),
		file:   f,
	}, nil
}

type bufferedReadCloser struct {
	*bufio.Reader
	file *os.File
}

func (r *bufferedReadCloser) Close() error { return r.file.Close() }

// Create implements FS.
func (l *Local) Create(ctx context.Context, p string, opts CreateOptions) (_ io.WriteCloser, err error) {
	key, fsPath := l.resolve(p)

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !opts.Overwrite {
		flags |= os.O_EXCL
	}
	if err := os.MkdirAll(filepath.Dir(fsPath), 0o755); err != nil {
		return nil, Error.Wrap(err)
	}
	f, err := os.OpenFile(fsPath, flags, 0o644)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	blockSize := opts.BlockSize
	if blockSize <= 0 {
		blockSize = l.defaultBlockSize
	}
	replication := opts.Replication
	if replication <= 0 {
		replication = 1
	}
	l.mu.Lock()
	l.meta[key] = &fileMeta{blockSize: blockSize, replication: replication}
	l.mu.Unlock()

	if opts.BufferSize <= 0 {
		return f, nil
	}
	return &bufferedWriteCloser{
		Writer: bufio.NewWriterSize(f, opts.BufferSize),
		file:   f,
	}, nil
}

type bufferedWriteCloser struct {
	*bufio.Writer
	file *os.File
}

func (w *bufferedWriteCloser) Close() error {
	return errs.Combine(w.Flush(), w.file.Close())
}

// Exists implements FS.
func (l *Local) Exists(ctx context.Context, p string) (bool, error) {
	_, fsPath := l.resolve(p)
	_, err := os.Stat(fsPath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, Error.Wrap(err)
}

// Delete implements FS.
func (l *Local) Delete(ctx context.Context, p string, recursive bool) error {
	key, fsPath := l.resolve(p)

	var err error
	if recursive {
		err = os.RemoveAll(fsPath)
	} else {
		err = os.Remove(fsPath)
		if os.IsNotExist(err) {
			err = nil
		}
	}
	if err != nil {
		return Error.Wrap(err)
	}

	l.mu.Lock()
	delete(l.meta, key)
	if recursive {
		for other := range l.meta {
			if strings.HasPrefix(other, key+"/") {
				delete(l.meta, other)
			}
		}
	}
	l.mu.Unlock()
	return nil
}

// MkdirAll implements FS.
func (l *Local) MkdirAll(ctx context.Context, p string) error {
	_, fsPath := l.resolve(p)
	return Error.Wrap(os.MkdirAll(fsPath, 0o755))
}

// Rename implements FS.
func (l *Local) Rename(ctx context.Context, oldPath, newPath string) error {
	oldKey, oldFS := l.resolve(oldPath)
	newKey, newFS := l.resolve(newPath)
	if err := os.Rename(oldFS, newFS); err != nil {
		return Error.Wrap(err)
	}
	l.mu.Lock()
	if m, ok := l.meta[oldKey]; ok {
		delete(l.meta, oldKey)
		l.meta[newKey] = m
	}
	l.mu.Unlock()
	return nil
}

// SetReplication implements FS.
func (l *Local) SetReplication(ctx context.Context, p string, factor int) error {
	key, fsPath := l.resolve(p)
	if _, err := os.Stat(fsPath); err != nil {
		return Error.Wrap(err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.meta[key]; ok {
		m.replication = factor
	} else {
		l.meta[key] = &fileMeta{blockSize: l.defaultBlockSize, replication: factor}
	}
	return nil
}

// Stat implements FS.
func (l *Local) Stat(ctx context.Context, p string) (FileInfo, error) {
	key, fsPath := l.resolve(p)
	fi, err := os.Stat(fsPath)
	if err != nil {
		return FileInfo{}, Error.Wrap(err)
	}
	meta := l.lookup(key)
	return FileInfo{
		Length:      fi.Size(),
		BlockSize:   meta.blockSize,
		Replication: meta.replication,
	}, nil
}
