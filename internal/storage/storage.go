package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/maneesh/cloudchest/internal/models"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("cloudchest-storage")

// Sentinel errors the handlers translate into the HTTP error taxonomy.
var (
	// ErrUploadNotFound means the object store has no multipart write for
	// the given upload ID: it expired, was aborted, or was already
	// finalized. For the caller this means the whole upload must restart.
	ErrUploadNotFound = errors.New("multipart upload not found")

	// ErrSessionNotFound means the session descriptor is absent from the
	// ephemeral store. After a successful completion this is the expected
	// steady state, not a fault.
	ErrSessionNotFound = errors.New("upload session not found")

	// ErrInvalidParts means the object store rejected the part list at
	// finalize time (gap, duplicate, or digest mismatch).
	ErrInvalidParts = errors.New("invalid part list")
)

// ObjectStore is the multipart-capable blob store. Implementations must
// serialize per-write state themselves; callers only guarantee a complete,
// ascending part list at finalize time.
type ObjectStore interface {
	// CreateMultipartUpload begins a multipart write and returns the
	// store-assigned upload ID.
	CreateMultipartUpload(ctx context.Context, objectKey, contentType string) (string, error)

	// UploadPart appends one numbered part to an in-progress write and
	// returns the content digest (etag) the store assigned to it.
	// Returns ErrUploadNotFound if the write no longer exists.
	UploadPart(ctx context.Context, objectKey, uploadID string, partNumber int, data io.Reader, size int64) (string, error)

	// CompleteMultipartUpload finalizes the write into a single durable
	// object. Parts must be sorted ascending by part number. Returns
	// ErrInvalidParts if the store rejects the list.
	CompleteMultipartUpload(ctx context.Context, objectKey, uploadID string, parts []models.PartETag) error

	// AbortMultipartUpload abandons an in-progress write.
	AbortMultipartUpload(ctx context.Context, objectKey, uploadID string) error

	// PresignedDownloadURL returns a temporary GET URL for an assembled
	// object.
	PresignedDownloadURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// SessionStore holds ephemeral upload-session descriptors with per-key
// expiry. A descriptor is written once at initiation and read/deleted once
// at completion or abort; chunk ingestion never touches it.
type SessionStore interface {
	// PutSession stores the descriptor under the session's ID with the
	// given time-to-live.
	PutSession(ctx context.Context, session *models.UploadSession, ttl time.Duration) error

	// GetSession returns ErrSessionNotFound when the key is absent or
	// expired.
	GetSession(ctx context.Context, sessionID string) (*models.UploadSession, error)

	// DeleteSession is idempotent; deleting an absent key is not an error.
	DeleteSession(ctx context.Context, sessionID string) error
}

// MetadataStore holds permanent file records created after assembly.
type MetadataStore interface {
	// CreateFileRecord inserts the durable row for an assembled file.
	CreateFileRecord(ctx context.Context, record *models.FileRecord) error

	// GetFileRecord fetches a file record by ID.
	GetFileRecord(ctx context.Context, fileID string) (*models.FileRecord, error)
}
