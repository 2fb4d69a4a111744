package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

var _ ObjectStore = (*MemoryStore)(nil)

// MemoryStore keeps objects in process memory. It backs development mode
// when no object store is configured.
type MemoryStore struct {
	bucket string

	mu      sync.RWMutex
	objects map[string]memoryObject
	created bool

	// FailPut, when set, is consulted before every upload; a non-nil result
	// fails that upload.
	FailPut func(reference string) error
}

type memoryObject struct {
	data        []byte
	contentType string
}

// NewMemoryStore creates an empty in-memory bucket
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string]memoryObject),
	}
}

func (m *MemoryStore) EnsureContainer(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = true
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, reference, localPath string) error {
	m.mu.RLock()
	obj, ok := m.objects[reference]
	m.mu.RUnlock()

	if !ok {
		return notFound(reference)
	}

	if err := os.WriteFile(localPath, obj.data, 0o644); err != nil {
		return storeError(err, "failed to write %s", localPath)
	}
	return nil
}

func (m *MemoryStore) Put(ctx context.Context, localPath, reference, contentType string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", storeError(err, "failed to read %s", localPath)
	}
	if contentType == "" {
		contentType = ContentTypeFor(localPath)
	}
	return m.PutBytes(ctx, data, reference, contentType)
}

func (m *MemoryStore) PutBytes(ctx context.Context, data []byte, reference, contentType string) (string, error) {
	if m.FailPut != nil {
		if err := m.FailPut(reference); err != nil {
			return "", storeError(err, "failed to upload %q", reference)
		}
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	m.created = true
	m.objects[reference] = memoryObject{data: buf, contentType: contentType}
	m.mu.Unlock()

	return reference, nil
}

func (m *MemoryStore) Presign(ctx context.Context, reference string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("presign ttl must be positive")
	}
	return fmt.Sprintf("memory://%s/%s?expires=%d", m.bucket, url.PathEscape(reference), int(ttl.Seconds())), nil
}

func (m *MemoryStore) Delete(ctx context.Context, reference string) error {
	m.mu.Lock()
	delete(m.objects, reference)
	m.mu.Unlock()
	return nil
}

// Object returns a copy of a stored object's bytes
func (m *MemoryStore) Object(reference string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[reference]
	if !ok {
		return nil, false
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, true
}

// ContentType returns the content type an object was stored with
func (m *MemoryStore) ContentType(reference string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[reference].contentType
}

// Keys lists stored references in sorted order
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
