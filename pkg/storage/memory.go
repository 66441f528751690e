package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryBlobStore is an in-process BlobStore for tests and dry runs.
type MemoryBlobStore struct {
	mu         sync.RWMutex
	containers map[string]map[string]memoryBlob
	version    int
}

type memoryBlob struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

var _ BlobStore = (*MemoryBlobStore)(nil)

// NewMemoryBlobStore creates an empty store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{containers: make(map[string]map[string]memoryBlob)}
}

// Upload stores a copy of data. Uploading into a missing container fails
// unless opts.CreateContainer is set, matching the service.
func (m *MemoryBlobStore) Upload(_ context.Context, container, blobName string, data []byte, opts UploadOptions) (UploadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	blobs, ok := m.containers[container]
	if !ok {
		if !opts.CreateContainer {
			return UploadResult{}, fmt.Errorf("blob upload failed: container %q does not exist", container)
		}
		blobs = make(map[string]memoryBlob)
		m.containers[container] = blobs
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}
	blobs[blobName] = memoryBlob{
		data:        append([]byte(nil), data...),
		contentType: contentType,
		metadata:    opts.Metadata,
	}
	m.version++

	return UploadResult{
		Container: container,
		BlobName:  blobName,
		URL:       "memory://" + container + "/" + blobName,
		ETag:      fmt.Sprintf("\"0x%X\"", m.version),
	}, nil
}

// Download returns a copy of the blob's content.
func (m *MemoryBlobStore) Download(_ context.Context, container, reference string) ([]byte, error) {
	name := strings.TrimPrefix(reference, "memory://"+container+"/")

	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.containers[container][name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrBlobNotFound, container, name)
	}
	return append([]byte(nil), b.data...), nil
}

// CreateContainer adds an empty container.
func (m *MemoryBlobStore) CreateContainer(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[name]; !ok {
		m.containers[name] = make(map[string]memoryBlob)
	}
}

// ContentType reports the stored content type of a blob.
func (m *MemoryBlobStore) ContentType(container, blobName string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.containers[container][blobName].contentType
}
