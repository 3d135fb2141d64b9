package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/maneesh/cloudchest/internal/chunker"
	"github.com/maneesh/cloudchest/internal/models"
	"golang.org/x/sync/errgroup"
)

const (
	// maxConcurrentFiles bounds how many files upload at once. Parts within
	// a single file are always strictly sequential.
	maxConcurrentFiles = 3

	// abortTimeout bounds the best-effort abort call issued after a
	// cancellation; the canceled upload context cannot carry it.
	abortTimeout = 10 * time.Second
)

// APIError is a non-2xx answer from the upload service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upload service returned %d (%s): %s", e.Status, e.Code, e.Message)
}

// IsSessionExpired reports whether an error means the server-side session is
// gone and the whole upload must restart.
func IsSessionExpired(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == models.ErrCodeSessionExpired
}

// ProgressFunc is called after each successfully uploaded part.
type ProgressFunc func(fileName string, uploadedParts, totalParts int)

// Uploader drives the chunked-upload protocol for local files: slice,
// initiate, upload parts in ascending order one at a time, complete. Up to
// three files upload concurrently; each file's parts are sequential.
type Uploader struct {
	baseURL    string
	token      string
	httpClient *http.Client
	chunker    *chunker.Chunker
	retry      RetryPolicy
	state      StateStore
	progress   ProgressFunc
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithToken sets the bearer credential sent with every request.
func WithToken(token string) Option {
	return func(u *Uploader) { u.token = token }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(u *Uploader) { u.httpClient = c }
}

// WithPartSize overrides the default 50 MiB part size.
func WithPartSize(size int64) Option {
	return func(u *Uploader) { u.chunker = chunker.NewChunker(size) }
}

// WithRetryPolicy replaces the default NoRetry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(u *Uploader) { u.retry = p }
}

// WithStateStore enables local persistence of upload progress.
func WithStateStore(s StateStore) Option {
	return func(u *Uploader) { u.state = s }
}

// WithProgress sets a per-part progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(u *Uploader) { u.progress = fn }
}

// NewUploader creates an uploader for the service at baseURL
func NewUploader(baseURL string, opts ...Option) *Uploader {
	u := &Uploader{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		chunker:    chunker.NewChunker(chunker.DefaultPartSize),
		retry:      NoRetry{},
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// UploadResult is the per-file outcome of UploadAll.
type UploadResult struct {
	Path   string
	Record *models.FileRecord
	Err    error
}

// UploadAll uploads the given files, at most maxConcurrentFiles at a time.
// Files fail independently; one file's terminal error does not cancel the
// others.
func (u *Uploader) UploadAll(ctx context.Context, paths []string) []UploadResult {
	results := make([]UploadResult, len(paths))

	var g errgroup.Group
	g.SetLimit(maxConcurrentFiles)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			record, err := u.UploadFile(ctx, path)
			results[i] = UploadResult{Path: path, Record: record, Err: err}
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// UploadFile uploads one file through the chunked protocol and returns the
// durable file record. Any part failure (after the retry policy is
// exhausted) is terminal for the file; if the failure was a cancellation,
// a best-effort abort is issued so the server can free the session early.
func (u *Uploader) UploadFile(ctx context.Context, path string) (*models.FileRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.Size() <= 0 {
		return nil, fmt.Errorf("refusing to chunk-upload empty file %s", path)
	}

	totalChunks := u.chunker.PartCount(info.Size())
	fileName := filepath.Base(path)

	initResp, err := u.initUpload(ctx, models.InitUploadRequest{
		FileName:    fileName,
		FileSize:    info.Size(),
		FileType:    "application/octet-stream",
		TotalChunks: totalChunks,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initiate upload: %w", err)
	}

	state := &UploadState{
		UploadID: initResp.UploadID,
		FileID:   initResp.FileID,
		FileName: fileName,
		FileSize: info.Size(),
	}

	return u.uploadParts(ctx, file, state, totalChunks, 1)
}

// ResumeUpload continues an interrupted upload from locally persisted state.
// The file must still match the size recorded at initiation, and every
// already-acknowledged part must still hash to the value recorded when it
// was uploaded; the upload then continues with the next part number.
func (u *Uploader) ResumeUpload(ctx context.Context, path, uploadID string) (*models.FileRecord, error) {
	if u.state == nil {
		return nil, fmt.Errorf("no state store configured")
	}

	state, err := u.state.Load(uploadID)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.Size() != state.FileSize {
		return nil, fmt.Errorf("file size changed since upload started: have %d, recorded %d", info.Size(), state.FileSize)
	}

	if len(state.PartHashes) != len(state.UploadedParts) {
		return nil, fmt.Errorf("corrupt upload state for %s: %d parts but %d hashes", uploadID, len(state.UploadedParts), len(state.PartHashes))
	}

	totalChunks := u.chunker.PartCount(state.FileSize)
	nextPart := len(state.UploadedParts) + 1

	// Re-read the already-acknowledged parts and check them against the
	// hashes recorded when they were uploaded. A silent local edit would
	// otherwise assemble a file that matches neither version.
	for i := 0; i < len(state.UploadedParts); i++ {
		data, err := u.chunker.NextPart(file)
		if err != nil {
			return nil, fmt.Errorf("failed to re-read part %d for verification: %w", i+1, err)
		}
		if !chunker.VerifyHash(data, state.PartHashes[i]) {
			return nil, fmt.Errorf("file content changed since upload started: part %d hash mismatch", i+1)
		}
	}

	log.Printf("Resuming upload %s at part %d/%d", uploadID, nextPart, totalChunks)

	return u.uploadParts(ctx, file, state, totalChunks, nextPart)
}

// Abort cancels an in-progress upload server-side and drops local state.
func (u *Uploader) Abort(ctx context.Context, uploadID, fileID string) error {
	var resp models.AbortUploadResponse
	err := u.postJSON(ctx, "/upload/abort", models.AbortUploadRequest{
		UploadID: uploadID,
		FileID:   fileID,
	}, &resp)
	if err != nil {
		return fmt.Errorf("failed to abort upload: %w", err)
	}
	u.dropState(uploadID)
	return nil
}

// uploadParts drives the sequential part loop from startPart through
// totalChunks, then completes the upload.
func (u *Uploader) uploadParts(ctx context.Context, file io.Reader, state *UploadState, totalChunks, startPart int) (*models.FileRecord, error) {
	for partNumber := startPart; partNumber <= totalChunks; partNumber++ {
		data, err := u.chunker.NextPart(file)
		if err == io.EOF {
			return nil, fmt.Errorf("file exhausted at part %d of %d", partNumber, totalChunks)
		} else if err != nil {
			return nil, err
		}

		var etag string
		err = u.retry.Do(ctx, func() error {
			var partErr error
			etag, partErr = u.uploadPart(ctx, state.UploadID, state.FileID, partNumber, data)
			return partErr
		})
		if err != nil {
			if ctx.Err() != nil {
				u.abortAfterCancel(state.UploadID, state.FileID)
				return nil, fmt.Errorf("upload canceled at part %d: %w", partNumber, ctx.Err())
			}
			// Not canceled, just failed: leave the session to expire
			// via its TTL unless the caller aborts explicitly.
			return nil, fmt.Errorf("failed to upload part %d: %w", partNumber, err)
		}

		state.UploadedParts = append(state.UploadedParts, models.PartETag{
			PartNumber: partNumber,
			ETag:       etag,
		})
		state.PartHashes = append(state.PartHashes, chunker.ComputeHash(data))
		state.LastUpdate = time.Now()
		u.saveState(state)

		if u.progress != nil {
			u.progress(state.FileName, len(state.UploadedParts), totalChunks)
		}
	}

	record, err := u.completeUpload(ctx, state)
	if err != nil {
		if ctx.Err() != nil {
			u.abortAfterCancel(state.UploadID, state.FileID)
		}
		return nil, fmt.Errorf("failed to complete upload: %w", err)
	}

	u.dropState(state.UploadID)
	return record, nil
}

func (u *Uploader) initUpload(ctx context.Context, req models.InitUploadRequest) (*models.InitUploadResponse, error) {
	var resp models.InitUploadResponse
	if err := u.postJSON(ctx, "/upload/init", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (u *Uploader) uploadPart(ctx context.Context, uploadID, fileID string, partNumber int, data []byte) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	if err := form.WriteField("uploadId", uploadID); err != nil {
		return "", err
	}
	if err := form.WriteField("fileId", fileID); err != nil {
		return "", err
	}
	if err := form.WriteField("partNumber", strconv.Itoa(partNumber)); err != nil {
		return "", err
	}
	part, err := form.CreateFormFile("chunk", fmt.Sprintf("part-%d", partNumber))
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/upload/chunk", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	u.setAuth(req)

	httpResp, err := u.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return "", decodeAPIError(httpResp)
	}

	var resp models.ChunkUploadResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", fmt.Errorf("failed to decode chunk response: %w", err)
	}
	return resp.ETag, nil
}

func (u *Uploader) completeUpload(ctx context.Context, state *UploadState) (*models.FileRecord, error) {
	var record models.FileRecord
	err := u.postJSON(ctx, "/upload/complete", models.CompleteUploadRequest{
		UploadID: state.UploadID,
		FileID:   state.FileID,
		Parts:    state.UploadedParts,
	}, &record)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// abortAfterCancel issues the post-cancellation abort on a fresh context;
// the canceled one cannot carry it. Failure is non-fatal: the server-side
// TTL is the cleanup safety net.
func (u *Uploader) abortAfterCancel(uploadID, fileID string) {
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()
	if err := u.Abort(ctx, uploadID, fileID); err != nil {
		log.Printf("Warning: abort after cancellation failed for %s: %v", uploadID, err)
	}
}

func (u *Uploader) postJSON(ctx context.Context, path string, reqBody, out interface{}) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	u.setAuth(req)

	httpResp, err := u.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return decodeAPIError(httpResp)
	}

	if out != nil {
		if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (u *Uploader) setAuth(req *http.Request) {
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}
}

func (u *Uploader) saveState(state *UploadState) {
	if u.state == nil {
		return
	}
	if err := u.state.Save(state); err != nil {
		log.Printf("Warning: failed to persist upload state for %s: %v", state.UploadID, err)
	}
}

func (u *Uploader) dropState(uploadID string) {
	if u.state == nil {
		return
	}
	if err := u.state.Delete(uploadID); err != nil {
		log.Printf("Warning: failed to delete upload state for %s: %v", uploadID, err)
	}
}

func decodeAPIError(resp *http.Response) error {
	var apiErr models.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
		return &APIError{Status: resp.StatusCode, Message: resp.Status}
	}
	return &APIError{Status: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Error}
}
