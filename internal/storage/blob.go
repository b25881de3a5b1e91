package storage

import (
	"io"
)

// BlobStore abstracts one upload directory. The disk implementation is the
// default; a MinIO-backed one can be selected by config for deployments
// that keep attachments off the app host.
type BlobStore interface {
	// Save writes the blob and returns the number of bytes stored.
	Save(name string, r io.Reader) (int64, error)
	Open(name string) (io.ReadCloser, error)
	// Delete removes the blob. Missing blobs are not an error.
	Delete(name string) error
	// Size reports the stored size, false when the blob does not exist.
	Size(name string) (int64, bool)
	// List returns the names of every stored blob.
	List() ([]string, error)
}
