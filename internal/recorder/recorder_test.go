package recorder

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-crawler/internal/crawler"
	"github.com/JakeFAU/link-crawler/internal/storage/memory"
)

type mockBlobStore struct {
	mock.Mock
}

func (m *mockBlobStore) PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error) {
	args := m.Called(ctx, path, contentType, data)
	return args.String(0), args.Error(1)
}

const pageURL = "https://example.com/a"

func newMemoryRecorder(t *testing.T) (*Recorder, *memory.StatusStore, *memory.BlobStore) {
	t.Helper()
	status := memory.NewStatusStore()
	status.Seed(7, pageURL)
	blobs := memory.NewBlobStore()
	return New(status, blobs, zap.NewNop()), status, blobs
}

func TestRecordSuccessWritesBlobsThenRow(t *testing.T) {
	rec, status, blobs := newMemoryRecorder(t)
	ctx := context.Background()
	fetched := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	meta := crawler.ExtractedMeta{Title: "Hello", Lang: "en"}

	require.NoError(t, rec.RecordSuccess(ctx, 7, pageURL, fetched, crawler.ViaDirect, meta, "Hello world."))

	text, ok := blobs.Get("url/7/text")
	require.True(t, ok)
	require.Equal(t, "Hello world.", string(text))

	rawMeta, ok := blobs.Get("url/7/meta")
	require.True(t, ok)
	decoded, err := crawler.DecodeMeta(rawMeta)
	require.NoError(t, err)
	require.Equal(t, "Hello", decoded.Title)

	row, ok := status.Row(pageURL)
	require.True(t, ok)
	require.NotNil(t, row.Fetched)
	require.True(t, row.Fetched.Equal(fetched))
	require.Nil(t, row.FetchErr)
	require.Nil(t, row.FetchedVia)

	done, err := rec.AlreadyCrawled(ctx, 7)
	require.NoError(t, err)
	require.True(t, done)
}

func TestRecordSuccessIsIdempotent(t *testing.T) {
	rec, status, blobs := newMemoryRecorder(t)
	ctx := context.Background()
	fetched := time.Unix(1_700_000_000, 0).UTC()

	for i := 0; i < 2; i++ {
		require.NoError(t, rec.RecordSuccess(ctx, 7, pageURL, fetched, crawler.ViaInternetArchive, crawler.ExtractedMeta{}, "same"))
	}
	require.Len(t, blobs.Paths(), 2)
	row, _ := status.Row(pageURL)
	require.Equal(t, "internet_archive", *row.FetchedVia)
}

func TestRecordSuccessBlobFailureLeavesRowUntouched(t *testing.T) {
	status := memory.NewStatusStore()
	status.Seed(7, pageURL)
	blobs := &mockBlobStore{}
	blobs.On("PutObject", mock.Anything, TextPath(7), TextContentType, mock.Anything).Return("", errors.New("disk full"))
	blobs.On("PutObject", mock.Anything, MetaPath(7), MetaContentType, mock.Anything).Return("mem://url/7/meta", nil).Maybe()
	rec := New(status, blobs, nil)

	err := rec.RecordSuccess(context.Background(), 7, pageURL, time.Now(), crawler.ViaDirect, crawler.ExtractedMeta{}, "text")
	require.ErrorContains(t, err, "disk full")

	row, ok := status.Row(pageURL)
	require.True(t, ok)
	require.Nil(t, row.Fetched)
	blobs.AssertExpectations(t)
}

func TestRecordPermanentFailureSkipsBlobs(t *testing.T) {
	status := memory.NewStatusStore()
	status.Seed(7, pageURL)
	blobs := &mockBlobStore{}
	rec := New(status, blobs, zap.NewNop())

	require.NoError(t, rec.RecordPermanentFailure(context.Background(), pageURL, time.Now(), "status:404"))
	blobs.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	row, _ := status.Row(pageURL)
	require.Equal(t, "status:404", *row.FetchErr)

	done, err := rec.AlreadyCrawled(context.Background(), 7)
	require.NoError(t, err)
	require.False(t, done, "failed rows are not crawled")
}

func TestRecordArchiveProbe(t *testing.T) {
	rec, status, _ := newMemoryRecorder(t)

	require.NoError(t, rec.RecordArchiveProbe(context.Background(), pageURL, false))
	row, _ := status.Row(pageURL)
	require.NotNil(t, row.FoundInArchive)
	require.False(t, *row.FoundInArchive)
	require.Nil(t, row.Fetched)

	err := rec.RecordArchiveProbe(context.Background(), "https://missing.example", true)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}
