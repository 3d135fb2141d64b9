package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/maneesh/cloudchest/internal/models"
	"github.com/maneesh/cloudchest/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("cloudchest-handlers")

const (
	// maxObjectSize is the object store's hard multipart ceiling (5 GiB).
	maxObjectSize = int64(5) << 30

	// Part numbers accepted by the object store's multipart API.
	minPartNumber = 1
	maxPartNumber = 10000

	// maxChunkFormMemory bounds in-memory buffering of the multipart form;
	// the chunk body itself spills to a temp file above this.
	maxChunkFormMemory = int64(32) << 20

	downloadURLExpiry = 24 * time.Hour
)

// UploadHandler holds the collaborators for the chunked-upload protocol. All
// four endpoints are stateless: coordination happens entirely through the
// object store and the session store.
type UploadHandler struct {
	objects    storage.ObjectStore
	sessions   storage.SessionStore
	metadata   storage.MetadataStore
	maxBytes   int64
	sessionTTL time.Duration
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(
	objects storage.ObjectStore,
	sessions storage.SessionStore,
	metadata storage.MetadataStore,
	maxBytes int64,
	sessionTTL time.Duration,
) *UploadHandler {
	return &UploadHandler{
		objects:    objects,
		sessions:   sessions,
		metadata:   metadata,
		maxBytes:   maxBytes,
		sessionTTL: sessionTTL,
	}
}

// objectKey derives the object-store key for a file. Every endpoint derives
// it the same way so the chunk path needs no session lookup.
func objectKey(fileID string) string {
	return fmt.Sprintf("files/%s", fileID)
}

// InitUpload handles POST /upload/init
func (uh *UploadHandler) InitUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := tracer.Start(ctx, "init_upload",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	var req models.InitUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.ErrorResponse{
			Error: "invalid JSON body",
			Code:  models.ErrCodeValidation,
		})
		return
	}

	if req.FileName == "" || req.FileSize <= 0 || req.TotalChunks <= 0 {
		writeError(w, http.StatusBadRequest, models.ErrorResponse{
			Error: "fileName, fileSize and totalChunks are required",
			Code:  models.ErrCodeValidation,
		})
		return
	}

	span.SetAttributes(
		attribute.String("file_name", req.FileName),
		attribute.Int64("file_size", req.FileSize),
		attribute.Int("total_chunks", req.TotalChunks),
	)

	// The 5 GiB ceiling is the object store's own multipart limit; the
	// configured maximum is the per-deployment policy cap.
	limit := maxObjectSize
	if uh.maxBytes > 0 && uh.maxBytes < limit {
		limit = uh.maxBytes
	}
	if req.FileSize > limit {
		writeError(w, http.StatusBadRequest, models.ErrorResponse{
			Error:      fmt.Sprintf("file size %d exceeds maximum of %d bytes", req.FileSize, limit),
			Code:       models.ErrCodeSizeExceeded,
			MaxSize:    limit,
			ActualSize: req.FileSize,
		})
		return
	}

	fileID := uuid.New().String()
	span.SetAttributes(attribute.String("file_id", fileID))

	uploadID, err := uh.objects.CreateMultipartUpload(ctx, objectKey(fileID), req.FileType)
	if err != nil {
		span.RecordError(err)
		writeError(w, http.StatusInternalServerError, models.ErrorResponse{
			Error: "failed to initiate upload",
			Code:  models.ErrCodeStorage,
		})
		return
	}

	session := &models.UploadSession{
		SessionID:   uploadID,
		FileID:      fileID,
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		ContentType: req.FileType,
		TotalChunks: req.TotalChunks,
		CreatedAt:   time.Now(),
	}

	if err := uh.sessions.PutSession(ctx, session, uh.sessionTTL); err != nil {
		span.RecordError(err)
		// The orphaned multipart write ages out via the store's own
		// retention; don't leave a session the client can't use.
		if abortErr := uh.objects.AbortMultipartUpload(ctx, objectKey(fileID), uploadID); abortErr != nil {
			log.Printf("Warning: failed to abort multipart upload after session write failure: %v", abortErr)
		}
		writeError(w, http.StatusInternalServerError, models.ErrorResponse{
			Error: "failed to store upload session",
			Code:  models.ErrCodeStorage,
		})
		return
	}

	log.Printf("Upload session initiated: %s (file: %s, %d chunks)", uploadID, req.FileName, req.TotalChunks)

	writeJSON(w, http.StatusOK, models.InitUploadResponse{
		Success:  true,
		UploadID: uploadID,
		FileID:   fileID,
	})
}

// UploadChunk handles POST /upload/chunk. This is a stateless pass-through
// to the object store: no session lookup, no per-chunk bookkeeping. That
// keeps per-chunk server cost constant regardless of chunk count; the client
// records the returned etags and supplies them all at completion.
func (uh *UploadHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := tracer.Start(ctx, "upload_chunk",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	if err := r.ParseMultipartForm(maxChunkFormMemory); err != nil {
		writeError(w, http.StatusBadRequest, models.ErrorResponse{
			Error: "invalid multipart form",
			Code:  models.ErrCodeValidation,
		})
		return
	}

	uploadID := r.FormValue("uploadId")
	fileID := r.FormValue("fileId")
	partStr := r.FormValue("partNumber")
	if uploadID == "" || fileID == "" || partStr == "" {
		writeError(w, http.StatusBadRequest, models.ErrorResponse{
			Error: "uploadId, fileId and partNumber are required",
			Code:  models.ErrCodeValidation,
		})
		return
	}

	partNumber, err := strconv.Atoi(partStr)
	if err != nil || partNumber < minPartNumber || partNumber > maxPartNumber {
		writeError(w, http.StatusBadRequest, models.ErrorResponse{
			Error: fmt.Sprintf("partNumber must be an integer in [%d, %d]", minPartNumber, maxPartNumber),
			Code:  models.ErrCodeValidation,
		})
		return
	}

	span.SetAttributes(
		attribute.String("upload_id", uploadID),
		attribute.String("file_id", fileID),
		attribute.Int("part_number", partNumber),
	)

	chunk, header, err := r.FormFile("chunk")
	if err != nil {
		writeError(w, http.StatusBadRequest, models.ErrorResponse{
			Error: "missing 'chunk' file field",
			Code:  models.ErrCodeValidation,
		})
		return
	}
	defer chunk.Close()

	span.SetAttributes(attribute.Int64("chunk_size", header.Size))

	etag, err := uh.objects.UploadPart(ctx, objectKey(fileID), uploadID, partNumber, chunk, header.Size)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, storage.ErrUploadNotFound) {
			// The multipart write is gone: the session expired or was
			// already finalized/aborted. The whole upload must restart.
			writeError(w, http.StatusNotFound, models.ErrorResponse{
				Error: "upload session expired or no longer exists",
				Code:  models.ErrCodeSessionExpired,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, models.ErrorResponse{
			Error: "failed to store chunk",
			Code:  models.ErrCodeStorage,
		})
		return
	}

	log.Printf("Chunk %d stored for upload %s (%d bytes)", partNumber, uploadID, header.Size)

	writeJSON(w, http.StatusOK, models.ChunkUploadResponse{
		Success:    true,
		PartNumber: partNumber,
		ETag:       etag,
	})
}

// CompleteUpload handles POST /upload/complete. Validation that needs only
// the session descriptor happens before any object-store call; the store's
// own finalize semantics are the final arbiter of part correctness.
func (uh *UploadHandler) CompleteUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := tracer.Start(ctx, "complete_upload",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	var req models.CompleteUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.ErrorResponse{
			Error: "invalid JSON body",
			Code:  models.ErrCodeValidation,
		})
		return
	}

	if req.UploadID == "" || req.FileID == "" {
		writeError(w, http.StatusBadRequest, models.ErrorResponse{
			Error: "uploadId and fileId are required",
			Code:  models.ErrCodeValidation,
		})
		return
	}

	span.SetAttributes(
		attribute.String("upload_id", req.UploadID),
		attribute.String("file_id", req.FileID),
		attribute.Int("part_count", len(req.Parts)),
	)

	session, err := uh.sessions.GetSession(ctx, req.UploadID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			// Expected steady state after a duplicate completion call:
			// the first success deleted the key.
			writeError(w, http.StatusNotFound, models.ErrorResponse{
				Error: "upload session not found or expired",
				Code:  models.ErrCodeSessionExpired,
			})
			return
		}
		span.RecordError(err)
		writeError(w, http.StatusInternalServerError, models.ErrorResponse{
			Error: "failed to read upload session",
			Code:  models.ErrCodeStorage,
		})
		return
	}

	if session.FileID != req.FileID {
		writeError(w, http.StatusBadRequest, models.ErrorResponse{
			Error: "fileId does not match upload session",
			Code:  models.ErrCodeValidation,
		})
		return
	}

	if len(req.Parts) != session.TotalChunks {
		writeError(w, http.StatusBadRequest, models.ErrorResponse{
			Error: fmt.Sprintf("part count mismatch: got %d, expected %d", len(req.Parts), session.TotalChunks),
			Code:  models.ErrCodeInvalidParts,
		})
		return
	}

	parts := make([]models.PartETag, len(req.Parts))
	copy(parts, req.Parts)
	sort.Slice(parts, func(i, j int) bool {
		return parts[i].PartNumber < parts[j].PartNumber
	})

	if err := uh.objects.CompleteMultipartUpload(ctx, objectKey(req.FileID), req.UploadID, parts); err != nil {
		span.RecordError(err)
		if errors.Is(err, storage.ErrUploadNotFound) {
			writeError(w, http.StatusNotFound, models.ErrorResponse{
				Error: "upload session expired or no longer exists",
				Code:  models.ErrCodeSessionExpired,
			})
			return
		}
		if errors.Is(err, storage.ErrInvalidParts) {
			writeError(w, http.StatusBadRequest, models.ErrorResponse{
				Error: err.Error(),
				Code:  models.ErrCodeInvalidParts,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, models.ErrorResponse{
			Error: "failed to assemble file",
			Code:  models.ErrCodeStorage,
		})
		return
	}

	downloadURL, err := uh.objects.PresignedDownloadURL(ctx, objectKey(req.FileID), downloadURLExpiry)
	if err != nil {
		// The object is durable at this point; a missing URL is
		// recoverable by the download path.
		log.Printf("Warning: failed to presign download URL for %s: %v", req.FileID, err)
	}

	record := &models.FileRecord{
		FileID:      session.FileID,
		Name:        session.FileName,
		Size:        session.FileSize,
		Type:        session.ContentType,
		UploadDate:  time.Now(),
		DownloadURL: downloadURL,
	}

	if err := uh.metadata.CreateFileRecord(ctx, record); err != nil {
		span.RecordError(err)
		writeError(w, http.StatusInternalServerError, models.ErrorResponse{
			Error: "failed to persist file metadata",
			Code:  models.ErrCodeStorage,
		})
		return
	}

	if err := uh.sessions.DeleteSession(ctx, req.UploadID); err != nil {
		// The TTL will reap the key; completion already succeeded.
		log.Printf("Warning: failed to delete session %s: %v", req.UploadID, err)
	}

	log.Printf("Upload completed: %s (file: %s, %d bytes)", req.UploadID, session.FileName, session.FileSize)

	writeJSON(w, http.StatusOK, record)
}

// AbortUpload handles POST /upload/abort. Best-effort: the primary job is
// freeing the session key, not guaranteeing object-store teardown, so
// backend failures are logged and never surfaced to the caller.
func (uh *UploadHandler) AbortUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := tracer.Start(ctx, "abort_upload",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	var req models.AbortUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.ErrorResponse{
			Error: "invalid JSON body",
			Code:  models.ErrCodeValidation,
		})
		return
	}

	if req.UploadID == "" || req.FileID == "" {
		writeError(w, http.StatusBadRequest, models.ErrorResponse{
			Error: "uploadId and fileId are required",
			Code:  models.ErrCodeValidation,
		})
		return
	}

	span.SetAttributes(
		attribute.String("upload_id", req.UploadID),
		attribute.String("file_id", req.FileID),
	)

	if err := uh.objects.AbortMultipartUpload(ctx, objectKey(req.FileID), req.UploadID); err != nil {
		// Already completed, already aborted, or aged past retention.
		log.Printf("Warning: abort of multipart upload %s failed: %v", req.UploadID, err)
	}

	if err := uh.sessions.DeleteSession(ctx, req.UploadID); err != nil {
		log.Printf("Warning: failed to delete session %s: %v", req.UploadID, err)
	}

	log.Printf("Upload aborted: %s", req.UploadID)

	writeJSON(w, http.StatusOK, models.AbortUploadResponse{
		Success: true,
		Message: "upload aborted",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Warning: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, resp models.ErrorResponse) {
	resp.Success = false
	writeJSON(w, status, resp)
}
