// Package blob stores ciphertext payloads and round manifests outside
// the ledgers, addressed by content. The cid committed on-chain is the
// base58-encoded sha256 of the payload, so a fetched blob is always
// verifiable against the event that referenced it.
package blob

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"sync"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when no blob exists for a cid.
var ErrNotFound = errors.New("blob: not found")

// Store is a content-addressed blob store.
type Store interface {
	// Put stores data and returns its cid.
	Put(data []byte) (string, error)
	// Get returns the blob for cid, or ErrNotFound.
	Get(cid string) ([]byte, error)
}

// CID computes the content id of a payload.
func CID(data []byte) string {
	sum := sha256.Sum256(data)
	return base58.Encode(sum[:])
}

// MemoryStore keeps blobs in memory. Used in tests and single-process
// aggregation runs.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: map[string][]byte{}}
}

// Put implements Store.
func (s *MemoryStore) Put(data []byte) (string, error) {
	cid := CID(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[cid]; !ok {
		s.blobs[cid] = append([]byte(nil), data...)
	}
	return cid, nil
}

// Get implements Store.
func (s *MemoryStore) Get(cid string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[cid]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// FileStore keeps blobs as files named by cid under a base directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the base directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(err, "blob: failed to create store directory")
	}
	return &FileStore{dir: dir}, nil
}

// Put implements Store. Writes are atomic via a temp-file rename so a
// crash never leaves a half-written blob behind a valid cid.
func (s *FileStore) Put(data []byte) (string, error) {
	cid := CID(data)
	path := filepath.Join(s.dir, cid)

	if _, err := os.Stat(path); err == nil {
		return cid, nil
	}

	tmp, err := os.CreateTemp(s.dir, "blob-*")
	if err != nil {
		return "", errors.Wrap(err, "blob: failed to create temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", errors.Wrap(err, "blob: write failed")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", errors.Wrap(err, "blob: close failed")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", errors.Wrap(err, "blob: rename failed")
	}
	return cid, nil
}

// Get implements Store. The payload is re-hashed on read; a blob whose
// content no longer matches its cid is treated as missing.
func (s *FileStore) Get(cid string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, cid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "blob: read failed")
	}
	if CID(data) != cid {
		return nil, errors.Wrapf(ErrNotFound, "blob: content hash mismatch for %s", cid)
	}
	return data, nil
}
