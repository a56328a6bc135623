package imagecache

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
)

// BlobStore is the byte-storage capability the image cache runs over.
// Implementations are selected at startup by configuration: a filesystem
// store for server deployments, an in-memory store for edge runtimes and
// tests.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get returns the stored bytes, or found=false when the key is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Has(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) (bool, error)
	// Keys lists every stored key.
	Keys(ctx context.Context) ([]string, error)
}

type filesystemStore struct {
	dir string
}

var _ BlobStore = (*filesystemStore)(nil)

// NewFilesystemStore returns a BlobStore backed by a directory. The
// directory is created if it does not exist.
func NewFilesystemStore(dir string) (BlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating image cache dir %s", dir)
	}
	return &filesystemStore{dir: dir}, nil
}

func (s *filesystemStore) path(key string) string {
	return filepath.Join(s.dir, filepath.Base(key))
}

func (s *filesystemStore) Put(_ context.Context, key string, data []byte) error {
	return os.WriteFile(s.path(key), data, 0o644)
}

func (s *filesystemStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *filesystemStore) Has(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *filesystemStore) Delete(_ context.Context, key string) (bool, error) {
	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *filesystemStore) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			keys = append(keys, entry.Name())
		}
	}
	return keys, nil
}

type memoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

var _ BlobStore = (*memoryStore)(nil)

// NewMemoryStore returns an in-memory BlobStore.
func NewMemoryStore() BlobStore {
	return &memoryStore{blobs: make(map[string][]byte)}
}

func (s *memoryStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.blobs[key] = buf
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, false, nil
	}
	return data, true, nil
}

func (s *memoryStore) Has(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[key]
	return ok, nil
}

func (s *memoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[key]
	delete(s.blobs, key)
	return ok, nil
}

func (s *memoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.blobs))
	for key := range s.blobs {
		keys = append(keys, key)
	}
	return keys, nil
}
