package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProofKey(t *testing.T) {
	a := ProofKey("pay-1", "Receipt.PDF")
	b := ProofKey("pay-1", "Receipt.PDF")

	assert.True(t, strings.HasPrefix(a, "proofs/pay-1/"))
	assert.True(t, strings.HasSuffix(a, ".pdf"))
	assert.NotEqual(t, a, b)

	assert.NotContains(t, ProofKey("pay-1", "../../etc/passwd"), "..")
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	url, err := m.Put(context.Background(), "proofs/p/1.png", []byte("img"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "memory://proofs/p/1.png", url)

	obj, ok := m.Get("proofs/p/1.png")
	require.True(t, ok)
	assert.Equal(t, []byte("img"), obj.Data)
	assert.Equal(t, "image/png", obj.ContentType)

	_, err = m.Put(context.Background(), "", nil, "")
	assert.ErrorIs(t, err, ErrEmptyKey)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Put(ctx, "k", nil, "")
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, m.Delete(context.Background(), "proofs/p/1.png"))
	_, ok = m.Get("proofs/p/1.png")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
	assert.NoError(t, m.Delete(context.Background(), "missing"))
}

// fakeS3 accepts path-style PutObject and DeleteObject requests.
type fakeS3 struct {
	mu          sync.Mutex
	paths       []string
	deleted     []string
	contentType string
	status      int
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, _ = io.Copy(io.Discard, r.Body)
	switch r.Method {
	case http.MethodPut:
		f.paths = append(f.paths, r.URL.Path)
		f.contentType = r.Header.Get("Content-Type")
	case http.MethodDelete:
		f.deleted = append(f.deleted, r.URL.Path)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	if r.Method == http.MethodDelete {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("ETag", `"etag"`)
	w.WriteHeader(http.StatusOK)
}

func newTestS3(t *testing.T, fake *fakeS3, publicBase string) *S3 {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewS3(context.Background(), S3Config{
		Bucket:        "proofs",
		Endpoint:      srv.URL,
		Region:        "us-east-1",
		AccessKey:     "test",
		SecretKey:     "test",
		UsePathStyle:  true,
		PublicBaseURL: publicBase,
	}, nil)
	require.NoError(t, err)
	return store
}

func TestS3_Put(t *testing.T) {
	fake := &fakeS3{}
	store := newTestS3(t, fake, "https://cdn.example.com/")

	url, err := store.Put(context.Background(), "proofs/pay-1/a.pdf", []byte("%PDF"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/proofs/pay-1/a.pdf", url)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.paths, 1)
	assert.Equal(t, "/proofs/proofs/pay-1/a.pdf", fake.paths[0])
	assert.Equal(t, "application/pdf", fake.contentType)
}

func TestS3_PutFailure(t *testing.T) {
	fake := &fakeS3{status: http.StatusForbidden}
	store := newTestS3(t, fake, "")

	_, err := store.Put(context.Background(), "proofs/pay-1/a.pdf", []byte("x"), "application/pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proofs/pay-1/a.pdf")
}

func TestS3_Delete(t *testing.T) {
	fake := &fakeS3{}
	store := newTestS3(t, fake, "")

	require.NoError(t, store.Delete(context.Background(), "proofs/pay-1/a.pdf"))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{"/proofs/proofs/pay-1/a.pdf"}, fake.deleted)
}

func TestNewS3_RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{}, nil)
	assert.Error(t, err)
}

func TestPublicBaseURL(t *testing.T) {
	assert.Equal(t, "http://minio:9000/b",
		publicBaseURL(S3Config{Bucket: "b", UsePathStyle: true}, "http://minio:9000", "us-east-1"))
	assert.Equal(t, "https://b.s3.eu-west-1.amazonaws.com",
		publicBaseURL(S3Config{Bucket: "b"}, "", "eu-west-1"))
	assert.Equal(t, "https://b.storage.example.com",
		publicBaseURL(S3Config{Bucket: "b"}, "https://storage.example.com", "us-east-1"))
	assert.Equal(t, "https://cdn.example.com",
		publicBaseURL(S3Config{Bucket: "b", PublicBaseURL: "https://cdn.example.com/"}, "https://storage.example.com", "us-east-1"))
}
