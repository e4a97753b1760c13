package artifact

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the contract every driver must satisfy.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Stat(ctx, "region_50perc/matrices/matrix_a.csv")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "region_50perc/matrices/matrix_a.csv")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "region_50perc/matrices/matrix_a.csv", []byte("FROM_ID,TO_ID\n1,2\n")))
	info, err := s.Stat(ctx, "region_50perc/matrices/matrix_a.csv")
	require.NoError(t, err)
	assert.Equal(t, int64(19), info.Size)

	require.NoError(t, s.Put(ctx, "region_50perc/matrices/matrix_a.csv", []byte("x")))
	b, err := s.Get(ctx, "region_50perc/matrices/matrix_a.csv")
	require.NoError(t, err)
	assert.Equal(t, "x", string(b), "put overwrites")

	require.NoError(t, s.Delete(ctx, "region_50perc/matrices/matrix_a.csv"))
	require.NoError(t, s.Delete(ctx, "region_50perc/matrices/matrix_a.csv"), "delete of missing key is not an error")
	_, err = s.Stat(ctx, "region_50perc/matrices/matrix_a.csv")
	require.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.Put(ctx, "../escape.csv", []byte("x")))
	assert.Error(t, s.Put(ctx, "/abs.csv", []byte("x")))
}

func TestFSStore(t *testing.T) {
	root := t.TempDir()
	s, err := NewFS(root)
	require.NoError(t, err)
	assert.Equal(t, "fs", s.Driver())
	exerciseStore(t, s)
}

func TestFSStoreLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	s, err := NewFS(root)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "r/m.csv", []byte("data")))

	entries, err := os.ReadDir(filepath.Join(root, "r"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "m.csv", entries[0].Name())
}

func TestMemoryStore(t *testing.T) {
	s := NewMemory()
	exerciseStore(t, s)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "a/1", []byte("1")))
	require.NoError(t, s.Put(ctx, "a/2", []byte("2")))
	require.NoError(t, s.Put(ctx, "b/1", []byte("3")))
	assert.Equal(t, []string{"a/1", "a/2"}, s.Keys("a/"))
}

// fakeS3 is a path-style object endpoint covering Put/Get/Head/Delete.
type fakeS3 struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		b, _ := io.ReadAll(r.Body)
		f.objs[key] = b
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		b, ok := f.objs[key]
		if !ok {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(b)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(b)
		}
	case http.MethodDelete:
		delete(f.objs, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Store(t *testing.T) {
	fake := &fakeS3{objs: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s, err := NewS3(context.Background(), S3Config{
		Bucket:          "matrices",
		Prefix:          "runs/",
		Endpoint:        srv.URL,
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		HTTPClient:      srv.Client(),
	})
	require.NoError(t, err)
	assert.Equal(t, "s3", s.Driver())
	exerciseStore(t, s)

	require.NoError(t, s.Put(context.Background(), "k.csv", []byte("v")))
	fake.mu.Lock()
	_, ok := fake.objs["matrices/runs/k.csv"]
	fake.mu.Unlock()
	assert.True(t, ok, "objects live under bucket and prefix")
}

func TestNewS3RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{})
	assert.Error(t, err)
}

func TestOpenDrivers(t *testing.T) {
	s, err := Open(context.Background(), "memory", "")
	require.NoError(t, err)
	assert.Equal(t, "memory", s.Driver())

	s, err = Open(context.Background(), "", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "fs", s.Driver())

	_, err = Open(context.Background(), "ftp", "")
	assert.Error(t, err)
}
