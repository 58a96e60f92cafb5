package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "url/1/text", "text/plain", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://url/1/text", uri)

	payload[0] = 'C'
	got, ok := store.Get("url/1/text")
	require.True(t, ok)
	require.Equal(t, "content", string(got))
}

func TestBlobStoreOverwrites(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	_, err := store.PutObject(ctx, "url/1/text", "", bytes.NewReader([]byte("one")))
	require.NoError(t, err)
	_, err = store.PutObject(ctx, "url/1/text", "", bytes.NewReader([]byte("two")))
	require.NoError(t, err)
	_, err = store.PutObject(ctx, "url/1/meta", "", bytes.NewReader([]byte("m")))
	require.NoError(t, err)

	got, _ := store.Get("url/1/text")
	require.Equal(t, "two", string(got))
	require.Equal(t, []string{"url/1/meta", "url/1/text"}, store.Paths())

	_, ok := store.Get("missing")
	require.False(t, ok)
}
