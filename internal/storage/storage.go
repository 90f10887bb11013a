// Package storage writes the output tree. Files are written atomically so
// an interrupted run never leaves a truncated clip behind, and the finished
// manifest can optionally be published to S3.
package storage

import (
	"context"
	"io"
)

// Written describes a file that was committed to storage.
type Written struct {
	// Path is relative to the storage root.
	Path string
	Size int64
	// Fingerprint is the hex SHA-256 of the contents.
	Fingerprint string
}

// Storage is the output tree used by the balancer and assembler.
type Storage interface {
	// Root returns the absolute directory all relative paths resolve against.
	Root() string

	// WriteFile writes rel atomically. fill receives a seekable temporary
	// file; the file is renamed into place only if fill succeeds.
	WriteFile(ctx context.Context, rel string, fill func(io.WriteSeeker) error) (Written, error)

	// Exists reports whether rel is a regular file.
	Exists(ctx context.Context, rel string) (bool, error)

	// Open opens rel for reading. The caller closes the returned reader.
	Open(ctx context.Context, rel string) (io.ReadCloser, error)

	// Remove deletes rel. A missing file is not an error.
	Remove(ctx context.Context, rel string) error

	// SweepPartial removes temporary files left by interrupted writes.
	SweepPartial(ctx context.Context) (int, error)

	// Publish uploads data under key and returns its URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	Publish(ctx context.Context, key string, data io.Reader) (url string, err error)
}
