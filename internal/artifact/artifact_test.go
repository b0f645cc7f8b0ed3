package artifact

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/beyanname/internal/config"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "artifacts/owner-1/job-1.pdf", Key("owner-1", "job-1"))
	assert.Equal(t, "artifacts/a%2Fb/..%2Fx.pdf", Key("a/b", "../x"))
}

func TestNew_Backends(t *testing.T) {
	s, err := New(context.Background(), config.ArtifactsConfig{Backend: config.ArtifactsNone})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = New(context.Background(), config.ArtifactsConfig{Backend: config.ArtifactsFile, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = New(context.Background(), config.ArtifactsConfig{Backend: "ftp"})
	assert.Error(t, err)
}

func TestFileStore_PutOpen(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	key := Key("owner-1", "job-1")
	require.NoError(t, s.Put(ctx, key, []byte("%PDF-1.7 first")))
	require.NoError(t, s.Put(ctx, key, []byte("%PDF-1.7 second")))

	rc, err := s.Open(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 second", string(data))

	u, err := s.PresignURL(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, u)

	entries, err := os.ReadDir(filepath.Join(s.root, "artifacts", "owner-1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestFileStore_Missing(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Open(ctx, Key("o", "missing"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.PresignURL(ctx, Key("o", "missing"), time.Minute)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_RejectsEscapingKey(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	err = s.Put(context.Background(), "../outside.pdf", []byte("x"))
	assert.ErrorContains(t, err, "escapes store root")
}

// fakeS3 is a minimal path-style S3 endpoint holding objects in memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[path] = body
		f.types[path] = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		body, ok := f.objects[path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			}
			return
		}
		w.Header().Set("Content-Type", ContentType)
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(body)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestS3Store(t *testing.T) (*S3Store, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := NewS3Store(context.Background(), S3Config{
		Bucket:          "reports",
		Region:          "eu-central-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)
	return s, fake
}

func TestS3Store_PutOpen(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestS3Store(t)
	key := Key("owner-1", "job-1")

	require.NoError(t, s.Put(ctx, key, []byte("%PDF-1.7 report")))
	assert.Equal(t, []byte("%PDF-1.7 report"), fake.objects["reports/"+key])
	assert.Equal(t, ContentType, fake.types["reports/"+key])

	rc, err := s.Open(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 report", string(data))
}

func TestS3Store_PresignURL(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestS3Store(t)
	key := Key("owner-1", "job-1")
	require.NoError(t, s.Put(ctx, key, []byte("%PDF")))

	u, err := s.PresignURL(ctx, key, 15*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, u, "/reports/artifacts/owner-1/job-1.pdf")
	assert.Contains(t, u, "X-Amz-Signature=")
	assert.Contains(t, u, "X-Amz-Expires=900")
}

func TestS3Store_Missing(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestS3Store(t)

	_, err := s.Open(ctx, Key("o", "missing"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.PresignURL(ctx, Key("o", "missing"), time.Minute)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Config{})
	assert.Error(t, err)
}
