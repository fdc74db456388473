// Package local implements the on-disk blob store for captured payloads.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultChunkSize is the read size used when streaming blobs back.
const DefaultChunkSize = 1 << 20

// ErrNotFound is returned when no blob exists for a ticket.
var ErrNotFound = errors.New("blob not found")

// Hasher computes the integrity digest of persisted bytes.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the directory holding one file per ticket.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// ChunkSize bounds each read while streaming a blob.
	ChunkSize int `mapstructure:"chunk_size" yaml:"chunk_size"`
}

// BlobStore writes capture payloads to the local filesystem.
type BlobStore struct {
	baseDir   string
	chunkSize int
	hasher    Hasher
}

// New creates a new local filesystem-backed blob store.
func New(cfg Config, hasher Hasher) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &BlobStore{
		baseDir:   cfg.BaseDir,
		chunkSize: chunkSize,
		hasher:    hasher,
	}, nil
}

// Path returns the file path backing ticket.
func (s *BlobStore) Path(ticket string) (string, error) {
	if strings.TrimSpace(ticket) == "" {
		return "", fmt.Errorf("ticket is required")
	}
	if ticket != filepath.Base(ticket) || ticket == "." || ticket == ".." {
		return "", fmt.Errorf("path traversal detected")
	}
	return filepath.Join(s.baseDir, ticket), nil
}

// Persist writes data verbatim to the ticket's file, flushes it to disk, and
// returns the hex digest of data.
func (s *BlobStore) Persist(ctx context.Context, ticket string, data []byte) (string, error) {
	path, err := s.Path(ticket)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("persist canceled: %w", err)
	}

	// #nosec G304 -- path is confined to baseDir by Path.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("open blob: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		closeErr := f.Close()
		return "", fmt.Errorf("write blob: %w", errors.Join(err, closeErr))
	}
	if err := f.Sync(); err != nil {
		closeErr := f.Close()
		return "", fmt.Errorf("sync blob: %w", errors.Join(err, closeErr))
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close blob: %w", err)
	}

	hash, err := s.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("hash blob: %w", err)
	}
	return hash, nil
}

// Open returns a handle for streaming the ticket's blob. It returns
// ErrNotFound when no file exists.
func (s *BlobStore) Open(ticket string) (*Blob, error) {
	path, err := s.Path(ticket)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	// #nosec G304 -- path is confined to baseDir by Path.
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		closeErr := f.Close()
		return nil, fmt.Errorf("stat blob: %w", errors.Join(err, closeErr))
	}
	if info.IsDir() {
		if closeErr := f.Close(); closeErr != nil {
			return nil, fmt.Errorf("close blob: %w", closeErr)
		}
		return nil, ErrNotFound
	}
	return &Blob{file: f, size: info.Size(), chunkSize: s.chunkSize}, nil
}

// Blob is an open blob file.
type Blob struct {
	file      *os.File
	size      int64
	chunkSize int
}

// Size reports the blob size at open time.
func (b *Blob) Size() int64 {
	return b.size
}

// WriteTo copies exactly Size bytes to w one chunk at a time. Bytes appended
// after Open are not sent; a file that shrank is reported as
// io.ErrUnexpectedEOF. Any read or write error is returned so callers can
// abort instead of truncating silently.
func (b *Blob) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, b.chunkSize)
	src := io.LimitReader(b.file, b.size)
	var written int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			m, writeErr := w.Write(buf[:n])
			written += int64(m)
			if writeErr != nil {
				return written, fmt.Errorf("write chunk: %w", writeErr)
			}
			if m != n {
				return written, fmt.Errorf("write chunk: %w", io.ErrShortWrite)
			}
		}
		if readErr == io.EOF {
			if written < b.size {
				return written, fmt.Errorf("read chunk: %w", io.ErrUnexpectedEOF)
			}
			return written, nil
		}
		if readErr != nil {
			return written, fmt.Errorf("read chunk: %w", readErr)
		}
	}
}

// Close releases the underlying file.
func (b *Blob) Close() error {
	if err := b.file.Close(); err != nil {
		return fmt.Errorf("close blob: %w", err)
	}
	return nil
}
