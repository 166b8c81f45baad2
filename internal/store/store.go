// Package store provides abstractions for vault file storage operations.
package store

import (
	"context"
	"io/fs"
	"time"
)

// FileInfo represents file metadata. Path is vault-relative and uses forward slashes.
type FileInfo struct {
	Path    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// WalkFunc is called for every entry visited by Walk.
// Returning fs.SkipDir on a directory skips its contents.
type WalkFunc func(info FileInfo) error

// Store abstracts the binary-capable file operations the sync pipeline needs.
//
//nolint:interfacebloat // Store needs all these methods for complete vault operations
type Store interface {
	// Read operations
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
	Stat(ctx context.Context, path string) (FileInfo, error)
	List(ctx context.Context, dir string) ([]FileInfo, error)
	Walk(ctx context.Context, dir string, fn WalkFunc) error

	// Write operations
	Write(ctx context.Context, path string, content []byte) error
	Delete(ctx context.Context, path string) error
	Mkdir(ctx context.Context, path string) error
}

// Snapshotter records the current vault content as a single commit.
type Snapshotter interface {
	Commit(ctx context.Context, message string) error
}

// ReadFSProvider returns an fs.FS view for read-only consumers.
type ReadFSProvider interface {
	FS() fs.FS
}
