package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maneesh/cloudchest/internal/models"
)

// ErrStateNotFound is returned when no persisted state exists for an upload.
var ErrStateNotFound = errors.New("no persisted upload state")

// UploadState is the locally persisted record of an in-progress upload,
// written after every successful part. It serves two purposes: crash
// forensics, and resumption via Uploader.ResumeUpload.
type UploadState struct {
	UploadID      string            `json:"upload_id"`
	FileID        string            `json:"file_id"`
	FileName      string            `json:"file_name"`
	FileSize      int64             `json:"file_size"`
	UploadedParts []models.PartETag `json:"uploaded_parts"`
	// PartHashes holds one SHA-256 per uploaded part, in part order.
	// Resumption re-reads the local bytes and verifies them against these
	// before skipping a part.
	PartHashes []string  `json:"part_hashes"`
	LastUpdate time.Time `json:"last_update"`
}

// StateStore persists upload progress across process restarts.
type StateStore interface {
	Save(state *UploadState) error
	Load(uploadID string) (*UploadState, error)
	Delete(uploadID string) error
}

// FileStateStore keeps one JSON file per upload under a directory, keyed
// "upload:<uploadId>" like the server's session store.
type FileStateStore struct {
	dir string
}

// NewFileStateStore creates the directory if needed
func NewFileStateStore(dir string) (*FileStateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStateStore{dir: dir}, nil
}

// statePath maps an upload ID to its state file. Upload IDs come from the
// object store and may contain path-hostile characters.
func (fs *FileStateStore) statePath(uploadID string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, uploadID)
	return filepath.Join(fs.dir, fmt.Sprintf("upload:%s.json", sanitized))
}

// Save atomically replaces the state file for the upload
func (fs *FileStateStore) Save(state *UploadState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal upload state: %w", err)
	}

	path := fs.statePath(state.UploadID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write upload state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace upload state: %w", err)
	}
	return nil
}

// Load reads persisted state, returning ErrStateNotFound when absent
func (fs *FileStateStore) Load(uploadID string) (*UploadState, error) {
	data, err := os.ReadFile(fs.statePath(uploadID))
	if os.IsNotExist(err) {
		return nil, ErrStateNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to read upload state: %w", err)
	}

	var state UploadState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal upload state: %w", err)
	}
	return &state, nil
}

// Delete removes persisted state; absence is not an error
func (fs *FileStateStore) Delete(uploadID string) error {
	err := os.Remove(fs.statePath(uploadID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete upload state: %w", err)
	}
	return nil
}
