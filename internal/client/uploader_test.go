package client_test

import (
	"bytes"
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/maneesh/cloudchest/internal/client"
	"github.com/maneesh/cloudchest/internal/handlers"
	"github.com/maneesh/cloudchest/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPartSize = 64 * 1024

type serverEnv struct {
	srv      *httptest.Server
	objects  *storagetest.FakeObjectStore
	sessions *storagetest.FakeSessionStore
	metadata *storagetest.FakeMetadataStore
}

// newServerEnv runs the real upload handlers over fake stores. wrap, when
// non-nil, is inserted in front of the router for failure injection.
func newServerEnv(t *testing.T, wrap func(http.Handler) http.Handler) *serverEnv {
	t.Helper()

	objects := storagetest.NewFakeObjectStore()
	sessions := storagetest.NewFakeSessionStore()
	metadata := storagetest.NewFakeMetadataStore()
	handler := handlers.NewUploadHandler(objects, sessions, metadata, 0, 24*time.Hour)

	router := mux.NewRouter()
	router.HandleFunc("/upload/init", handler.InitUpload).Methods("POST")
	router.HandleFunc("/upload/chunk", handler.UploadChunk).Methods("POST")
	router.HandleFunc("/upload/complete", handler.CompleteUpload).Methods("POST")
	router.HandleFunc("/upload/abort", handler.AbortUpload).Methods("POST")

	var h http.Handler = router
	if wrap != nil {
		h = wrap(router)
	}

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return &serverEnv{srv: srv, objects: objects, sessions: sessions, metadata: metadata}
}

func writeTempFile(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	rng := rand.New(rand.NewSource(42))
	_, err := rng.Read(data)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, data
}

func newTestUploader(t *testing.T, env *serverEnv, opts ...client.Option) *client.Uploader {
	t.Helper()
	state, err := client.NewFileStateStore(t.TempDir())
	require.NoError(t, err)

	base := []client.Option{
		client.WithPartSize(testPartSize),
		client.WithStateStore(state),
	}
	return client.NewUploader(env.srv.URL, append(base, opts...)...)
}

func TestUploadFileRoundTrip(t *testing.T) {
	env := newServerEnv(t, nil)

	// 2.5 parts worth of data: two full parts plus a remainder.
	path, data := writeTempFile(t, testPartSize*2+testPartSize/2)

	var progressCalls []int
	u := newTestUploader(t, env, client.WithProgress(func(name string, done, total int) {
		assert.Equal(t, "payload.bin", name)
		assert.Equal(t, 3, total)
		progressCalls = append(progressCalls, done)
	}))

	record, err := u.UploadFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "payload.bin", record.Name)
	assert.Equal(t, int64(len(data)), record.Size)
	assert.NotEmpty(t, record.DownloadURL)
	assert.Equal(t, []int{1, 2, 3}, progressCalls)

	// Assembled bytes are identical to the source file.
	assert.Equal(t, data, env.objects.Objects["files/"+record.FileID])

	// Session key is gone and the durable record exists.
	assert.Zero(t, env.sessions.Len())
	assert.Equal(t, 1, env.metadata.Len())
}

func TestUploadFileRejectsEmptyFile(t *testing.T) {
	env := newServerEnv(t, nil)
	path := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	u := newTestUploader(t, env)
	_, err := u.UploadFile(context.Background(), path)
	require.Error(t, err)
}

func TestUploadFilePartFailureIsTerminalThenResumable(t *testing.T) {
	var failChunks atomic.Bool
	var chunkCalls atomic.Int32

	env := newServerEnv(t, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/upload/chunk" {
				if n := chunkCalls.Add(1); n >= 2 && failChunks.Load() {
					http.Error(w, `{"success":false,"error":"injected","code":"storage_error"}`, http.StatusInternalServerError)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	})

	path, data := writeTempFile(t, testPartSize*3)

	stateDir := t.TempDir()
	state, err := client.NewFileStateStore(stateDir)
	require.NoError(t, err)
	u := client.NewUploader(env.srv.URL,
		client.WithPartSize(testPartSize),
		client.WithStateStore(state),
	)

	// First attempt: part 2 fails, no retry, terminal error for the file.
	failChunks.Store(true)
	_, err = u.UploadFile(context.Background(), path)
	require.Error(t, err)

	// The session is left to expire via TTL; no abort was issued.
	require.Equal(t, 1, env.sessions.Len())
	assert.Zero(t, env.objects.AbortCalls)
	assert.Zero(t, env.metadata.Len())

	var uploadID string
	for id := range env.sessions.Sessions {
		uploadID = id
	}

	// Persisted state recorded exactly the one acknowledged part, with
	// its content hash for verification on resume.
	persisted, err := state.Load(uploadID)
	require.NoError(t, err)
	assert.Len(t, persisted.UploadedParts, 1)
	assert.Len(t, persisted.PartHashes, 1)
	assert.Equal(t, int64(len(data)), persisted.FileSize)

	// Second attempt resumes from part 2 and completes.
	failChunks.Store(false)
	record, err := u.ResumeUpload(context.Background(), path, uploadID)
	require.NoError(t, err)

	assert.Equal(t, data, env.objects.Objects["files/"+record.FileID],
		"resumed upload must still assemble byte-identical content")
	assert.Zero(t, env.sessions.Len())

	// State is dropped after success.
	_, err = state.Load(uploadID)
	assert.ErrorIs(t, err, client.ErrStateNotFound)
}

func TestResumeUploadDetectsLocalEdits(t *testing.T) {
	var failChunks atomic.Bool
	var chunkCalls atomic.Int32

	env := newServerEnv(t, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/upload/chunk" {
				if n := chunkCalls.Add(1); n >= 2 && failChunks.Load() {
					http.Error(w, `{"success":false,"error":"injected","code":"storage_error"}`, http.StatusInternalServerError)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	})

	path, data := writeTempFile(t, testPartSize*3)

	state, err := client.NewFileStateStore(t.TempDir())
	require.NoError(t, err)
	u := client.NewUploader(env.srv.URL,
		client.WithPartSize(testPartSize),
		client.WithStateStore(state),
	)

	// Part 1 lands, part 2 fails; the upload is left resumable.
	failChunks.Store(true)
	_, err = u.UploadFile(context.Background(), path)
	require.Error(t, err)

	var uploadID string
	for id := range env.sessions.Sessions {
		uploadID = id
	}

	// Flip a byte inside the already-uploaded first part. The size is
	// unchanged, so only the recorded part hash can catch this.
	data[testPartSize/2] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	failChunks.Store(false)
	_, err = u.ResumeUpload(context.Background(), path, uploadID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "part 1 hash mismatch")

	// Nothing was sent or finalized against the stale session.
	assert.Zero(t, env.metadata.Len())
	assert.True(t, env.objects.HasUpload(uploadID), "multipart upload left intact for the caller to abort or retry")
}

func TestUploadFileRetriesWithPolicy(t *testing.T) {
	var chunkCalls atomic.Int32

	env := newServerEnv(t, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/upload/chunk" {
				// First two attempts fail with a server error.
				if chunkCalls.Add(1) <= 2 {
					http.Error(w, `{"success":false,"error":"injected","code":"storage_error"}`, http.StatusInternalServerError)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	})

	path, data := writeTempFile(t, testPartSize)

	u := newTestUploader(t, env, client.WithRetryPolicy(client.ExponentialRetry{
		InitialInterval: time.Millisecond,
		MaxRetries:      4,
	}))

	record, err := u.UploadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, data, env.objects.Objects["files/"+record.FileID])
	assert.Equal(t, int32(3), chunkCalls.Load(), "two failures then one success")
}

func TestCancellationIssuesAbort(t *testing.T) {
	env := newServerEnv(t, nil)
	path, _ := writeTempFile(t, testPartSize*3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stateDir := t.TempDir()
	state, err := client.NewFileStateStore(stateDir)
	require.NoError(t, err)
	u := client.NewUploader(env.srv.URL,
		client.WithPartSize(testPartSize),
		client.WithStateStore(state),
		client.WithProgress(func(name string, done, total int) {
			if done == 1 {
				cancel()
			}
		}),
	)

	_, err = u.UploadFile(ctx, path)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// Cancellation triggers a best-effort abort: the multipart write is
	// abandoned and the session key freed, with no durable record.
	assert.Equal(t, 1, env.objects.AbortCalls)
	assert.Zero(t, env.sessions.Len())
	assert.Zero(t, env.metadata.Len())
}

func TestUploadAllBoundsConcurrency(t *testing.T) {
	var current, peak atomic.Int32

	env := newServerEnv(t, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := current.Add(1)
			for {
				p := peak.Load()
				if c <= p || peak.CompareAndSwap(p, c) {
					break
				}
			}
			// Hold the request briefly so overlap is observable.
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			next.ServeHTTP(w, r)
		})
	})

	var paths []string
	dir := t.TempDir()
	for i := 0; i < 6; i++ {
		data := bytes.Repeat([]byte{byte(i + 1)}, testPartSize/4)
		path := filepath.Join(dir, string(rune('a'+i))+".bin")
		require.NoError(t, os.WriteFile(path, data, 0o644))
		paths = append(paths, path)
	}

	u := newTestUploader(t, env)
	results := u.UploadAll(context.Background(), paths)

	require.Len(t, results, 6)
	for _, res := range results {
		require.NoError(t, res.Err, res.Path)
		require.NotNil(t, res.Record)
	}
	assert.Equal(t, 6, env.metadata.Len())
	assert.LessOrEqual(t, peak.Load(), int32(3),
		"at most 3 files in flight, each with sequential parts")
}

func TestUploadAllFilesFailIndependently(t *testing.T) {
	env := newServerEnv(t, nil)

	good, _ := writeTempFile(t, testPartSize)
	missing := filepath.Join(t.TempDir(), "does-not-exist.bin")

	u := newTestUploader(t, env)
	results := u.UploadAll(context.Background(), []string{good, missing})

	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.Equal(t, 1, env.metadata.Len())
}
