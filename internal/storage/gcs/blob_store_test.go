package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, cfg Config, handler http.Handler) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	t.Parallel()

	type upload struct {
		path string
		name string
		body string
	}
	seen := make(chan upload, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen <- upload{path: r.URL.Path, name: r.URL.Query().Get("name"), body: string(body)}
		fmt.Fprintln(w, `{"name":"crawl/url/5/text","bucket":"test-bucket"}`)
	})

	store := newTestStore(t, Config{Bucket: "test-bucket", Prefix: "/crawl/"}, handler)
	uri, err := store.PutObject(context.Background(), "url/5/text", "text/plain; charset=utf-8", strings.NewReader("hello"))
	require.NoError(t, err)
	require.Equal(t, "gs://test-bucket/crawl/url/5/text", uri)

	got := <-seen
	require.Contains(t, got.path, "/b/test-bucket/o")
	require.Equal(t, "crawl/url/5/text", got.name)
	require.Contains(t, got.body, "hello")
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"denied"}}`, http.StatusForbidden)
	})
	store := newTestStore(t, Config{Bucket: "test-bucket"}, handler)
	_, err := store.PutObject(context.Background(), "url/1/meta", "", strings.NewReader("x"))
	require.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = New(client, Config{})
	require.Error(t, err)

	store := &BlobStore{client: client, bucket: "b"}
	_, err = store.PutObject(context.Background(), "  ", "", strings.NewReader(""))
	require.Error(t, err)
}
