// Package storagetest provides in-memory implementations of the storage
// interfaces for handler and client tests. The object store mirrors real
// S3-compatible finalize semantics: parts must be contiguous, ascending,
// and carry the etags handed out at upload time.
package storagetest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/maneesh/cloudchest/internal/models"
	"github.com/maneesh/cloudchest/internal/storage"
)

// FakeObjectStore implements storage.ObjectStore in memory.
type FakeObjectStore struct {
	mu     sync.Mutex
	nextID int
	parts  map[string]map[int][]byte // uploadID -> partNumber -> bytes

	// Objects holds assembled blobs by object key after a successful
	// finalize.
	Objects map[string][]byte

	// Failure injection.
	UploadErr   error
	CompleteErr error
	AbortErr    error

	// Call counters.
	UploadCalls   int
	CompleteCalls int
	AbortCalls    int
}

func NewFakeObjectStore() *FakeObjectStore {
	return &FakeObjectStore{
		parts:   make(map[string]map[int][]byte),
		Objects: make(map[string][]byte),
	}
}

// ETagFor returns the etag the fake assigns to a part body.
func ETagFor(data []byte) string {
	return fmt.Sprintf("etag-%x-%x", len(data), checksum(data))
}

func checksum(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum = sum*31 + uint32(b)
	}
	return sum
}

func (f *FakeObjectStore) CreateMultipartUpload(ctx context.Context, objectKey, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	uploadID := fmt.Sprintf("mpu-%d", f.nextID)
	f.parts[uploadID] = make(map[int][]byte)
	return uploadID, nil
}

func (f *FakeObjectStore) UploadPart(ctx context.Context, objectKey, uploadID string, partNumber int, data io.Reader, size int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UploadCalls++
	if f.UploadErr != nil {
		return "", f.UploadErr
	}
	parts, ok := f.parts[uploadID]
	if !ok {
		return "", storage.ErrUploadNotFound
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	parts[partNumber] = buf
	return ETagFor(buf), nil
}

func (f *FakeObjectStore) CompleteMultipartUpload(ctx context.Context, objectKey, uploadID string, parts []models.PartETag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CompleteCalls++
	if f.CompleteErr != nil {
		return f.CompleteErr
	}
	stored, ok := f.parts[uploadID]
	if !ok {
		return storage.ErrUploadNotFound
	}
	if !sort.SliceIsSorted(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber }) {
		return storage.ErrInvalidParts
	}
	var assembled []byte
	for i, p := range parts {
		if p.PartNumber != i+1 {
			return storage.ErrInvalidParts
		}
		data, ok := stored[p.PartNumber]
		if !ok || ETagFor(data) != p.ETag {
			return storage.ErrInvalidParts
		}
		assembled = append(assembled, data...)
	}
	f.Objects[objectKey] = assembled
	delete(f.parts, uploadID)
	return nil
}

func (f *FakeObjectStore) AbortMultipartUpload(ctx context.Context, objectKey, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AbortCalls++
	if f.AbortErr != nil {
		return f.AbortErr
	}
	if _, ok := f.parts[uploadID]; !ok {
		return storage.ErrUploadNotFound
	}
	delete(f.parts, uploadID)
	return nil
}

func (f *FakeObjectStore) PresignedDownloadURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	return "https://objects.test/" + objectKey, nil
}

// HasUpload reports whether a multipart write is still in progress.
func (f *FakeObjectStore) HasUpload(uploadID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.parts[uploadID]
	return ok
}

// FakeSessionStore implements storage.SessionStore in memory; TTLs are
// recorded but never enforced.
type FakeSessionStore struct {
	mu       sync.Mutex
	Sessions map[string]models.UploadSession
}

func NewFakeSessionStore() *FakeSessionStore {
	return &FakeSessionStore{Sessions: make(map[string]models.UploadSession)}
}

func (f *FakeSessionStore) PutSession(ctx context.Context, session *models.UploadSession, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sessions[session.SessionID] = *session
	return nil
}

func (f *FakeSessionStore) GetSession(ctx context.Context, sessionID string) (*models.UploadSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Sessions[sessionID]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	return &s, nil
}

func (f *FakeSessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Sessions, sessionID)
	return nil
}

// Len returns the number of live sessions.
func (f *FakeSessionStore) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sessions)
}

// FakeMetadataStore implements storage.MetadataStore in memory. Duplicate
// inserts for the same file ID fail, as a primary key would.
type FakeMetadataStore struct {
	mu      sync.Mutex
	Records map[string]models.FileRecord
}

func NewFakeMetadataStore() *FakeMetadataStore {
	return &FakeMetadataStore{Records: make(map[string]models.FileRecord)}
}

func (f *FakeMetadataStore) CreateFileRecord(ctx context.Context, record *models.FileRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Records[record.FileID]; ok {
		return fmt.Errorf("duplicate file record: %s", record.FileID)
	}
	f.Records[record.FileID] = *record
	return nil
}

func (f *FakeMetadataStore) GetFileRecord(ctx context.Context, fileID string) (*models.FileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.Records[fileID]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", fileID)
	}
	return &r, nil
}

// Len returns the number of durable records.
func (f *FakeMetadataStore) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Records)
}
