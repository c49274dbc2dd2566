// Package storage holds the content-addressed snapshot store for
// request files. When a file is added to a release request its bytes
// are copied out of the workspace and stored under their sha256; the
// request references the snapshot by hash and uploads read from it,
// never from the live workspace.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"airlock.evalgo.org/request"
)

// BlobStore stores immutable byte blobs keyed by their sha256 hex
// digest. Writing the same content twice is a no-op.
type BlobStore interface {
	// Put stores the reader's bytes and returns their sha256 digest and
	// size. The blob is only visible under its key once fully written.
	Put(ctx context.Context, r io.Reader) (hash string, size int64, err error)

	// Open returns a reader over the blob with the given hash.
	Open(ctx context.Context, hash string) (io.ReadCloser, error)

	// Exists reports whether a blob with the given hash is stored.
	Exists(ctx context.Context, hash string) (bool, error)
}

// FilesystemStore keeps blobs as files named by their hash under a
// single root directory, fanned out by the first two hex characters.
type FilesystemStore struct {
	root string
}

// NewFilesystemStore creates the store rooted at dir, creating it if
// needed.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating snapshot root: %w", err)
	}
	return &FilesystemStore{root: root}, nil
}

func (s *FilesystemStore) path(hash string) string {
	return filepath.Join(s.root, hash[:2], hash)
}

// Put writes the bytes to a temp file while hashing, then renames the
// temp file to its digest. The rename makes the write atomic: a blob
// either exists completely or not at all.
func (s *FilesystemStore) Put(ctx context.Context, r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(s.root, ".incoming-*")
	if err != nil {
		return "", 0, fmt.Errorf("creating snapshot temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, fmt.Errorf("writing snapshot: %w", err)
	}

	hash := hex.EncodeToString(h.Sum(nil))
	dst := s.path(hash)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", 0, fmt.Errorf("creating snapshot dir: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", 0, fmt.Errorf("storing snapshot %s: %w", hash, err)
	}
	return hash, size, nil
}

// Open returns a reader over the stored blob.
func (s *FilesystemStore) Open(ctx context.Context, hash string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, request.NotFoundf("snapshot %s not found", hash)
		}
		return nil, fmt.Errorf("opening snapshot %s: %w", hash, err)
	}
	return f, nil
}

// Exists reports whether the blob is stored.
func (s *FilesystemStore) Exists(ctx context.Context, hash string) (bool, error) {
	_, err := os.Stat(s.path(hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking snapshot %s: %w", hash, err)
}
