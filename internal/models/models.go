package models

import "time"

// UploadSession is the ephemeral descriptor linking a multipart write to the
// file's declared metadata. It is written once at initiation and read once at
// completion; chunk uploads never touch it. The session store key is
// "upload:<SessionID>" with a fixed TTL.
type UploadSession struct {
	SessionID   string    `json:"session_id"`
	FileID      string    `json:"file_id"`
	FileName    string    `json:"file_name"`
	FileSize    int64     `json:"file_size"`
	ContentType string    `json:"content_type"`
	TotalChunks int       `json:"total_chunks"`
	CreatedAt   time.Time `json:"created_at"`
}

// PartETag pairs a part number with the content digest the object store
// assigned to that part. The client accumulates these and supplies the full
// set back at completion; the server keeps no per-part state. The client's
// list is a performance optimization, not a security control: the object
// store itself rejects gaps, duplicates and bad digests at finalize time.
type PartETag struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

// FileRecord is the durable metadata row created once per assembled file.
// Both the chunked and the single-request upload paths produce this shape, so
// listing and download code is agnostic to which path produced the object.
type FileRecord struct {
	FileID      string    `json:"fileId"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	Type        string    `json:"type"`
	UploadDate  time.Time `json:"uploadDate"`
	DownloadURL string    `json:"downloadUrl"`
}

// InitUploadRequest starts a chunked upload session.
type InitUploadRequest struct {
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	FileType    string `json:"fileType"`
	TotalChunks int    `json:"totalChunks"`
}

// InitUploadResponse returns the identifiers the client must carry through
// every subsequent call.
type InitUploadResponse struct {
	Success  bool   `json:"success"`
	UploadID string `json:"uploadId"`
	FileID   string `json:"fileId"`
}

// ChunkUploadResponse acknowledges one ingested part.
type ChunkUploadResponse struct {
	Success    bool   `json:"success"`
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

// CompleteUploadRequest finalizes the multipart write. Parts must cover every
// declared chunk; the server sorts them ascending before finalizing.
type CompleteUploadRequest struct {
	UploadID string     `json:"uploadId"`
	FileID   string     `json:"fileId"`
	Parts    []PartETag `json:"parts"`
}

// AbortUploadRequest cancels an in-progress session.
type AbortUploadRequest struct {
	UploadID string `json:"uploadId"`
	FileID   string `json:"fileId"`
}

// AbortUploadResponse is always a success from the caller's point of view;
// cleanup is best-effort.
type AbortUploadResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorResponse is the machine-readable payload for every non-2xx answer.
// MaxSize/ActualSize are set only for size-limit rejections.
type ErrorResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	MaxSize    int64  `json:"maxSize,omitempty"`
	ActualSize int64  `json:"actualSize,omitempty"`
}

// Error codes carried in ErrorResponse.Code so clients can branch without
// matching message strings.
const (
	ErrCodeValidation     = "validation_failed"
	ErrCodeSizeExceeded   = "size_exceeded"
	ErrCodeSessionExpired = "session_expired"
	ErrCodeInvalidParts   = "invalid_parts"
	ErrCodeStorage        = "storage_error"
)
