package objstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(mock *MockS3Client) *Client {
	return NewClientFromDeps(mock, &MockPresigner{}, "teltubby", 5*time.Second)
}

func TestEnsureBucket_CreatesWhenAbsent(t *testing.T) {
	mock := NewMockS3Client()
	client := newTestClient(mock)

	require.NoError(t, client.EnsureBucket(context.Background()))
	assert.True(t, mock.CreateBucketCalled)
	assert.True(t, mock.Buckets["teltubby"])
}

func TestEnsureBucket_NoopWhenPresent(t *testing.T) {
	mock := NewMockS3Client()
	mock.Buckets["teltubby"] = true
	client := newTestClient(mock)

	require.NoError(t, client.EnsureBucket(context.Background()))
	assert.False(t, mock.CreateBucketCalled)
}

func TestUploadThenStat(t *testing.T) {
	mock := NewMockS3Client()
	client := newTestClient(mock)
	ctx := context.Background()

	content := "hello archive"
	require.NoError(t, client.Upload(ctx, "teltubby/2026/07/chat/1/file.txt", strings.NewReader(content), int64(len(content)), "text/plain"))

	size, err := client.Stat(ctx, "teltubby/2026/07/chat/1/file.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)
}

func TestStat_MissingReturnsErrNotFound(t *testing.T) {
	mock := NewMockS3Client()
	client := newTestClient(mock)

	_, err := client.Stat(context.Background(), "missing-key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_RemovesObject(t *testing.T) {
	mock := NewMockS3Client()
	client := newTestClient(mock)
	ctx := context.Background()

	require.NoError(t, client.Upload(ctx, "key-1", strings.NewReader("x"), 1, ""))
	require.NoError(t, client.Delete(ctx, "key-1"))

	_, err := client.Stat(ctx, "key-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList_FiltersByPrefix(t *testing.T) {
	mock := NewMockS3Client()
	client := newTestClient(mock)
	ctx := context.Background()

	require.NoError(t, client.Upload(ctx, "teltubby/2026/07/a.jpg", strings.NewReader("a"), 1, ""))
	require.NoError(t, client.Upload(ctx, "teltubby/2026/08/b.jpg", strings.NewReader("bb"), 2, ""))

	objects, err := client.List(ctx, "teltubby/2026/07/")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "teltubby/2026/07/a.jpg", objects[0].Key)
	assert.Equal(t, int64(1), objects[0].Size)
}

func TestPurgeBucket_DeletesEverything(t *testing.T) {
	mock := NewMockS3Client()
	client := newTestClient(mock)
	ctx := context.Background()

	require.NoError(t, client.Upload(ctx, "a", strings.NewReader("1"), 1, ""))
	require.NoError(t, client.Upload(ctx, "b", strings.NewReader("22"), 2, ""))

	count, err := client.PurgeBucket(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	remaining, err := client.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestPresignGet_ReturnsURL(t *testing.T) {
	mock := NewMockS3Client()
	client := NewClientFromDeps(mock, &MockPresigner{BaseURL: "https://cdn.test"}, "teltubby", time.Second)

	url, err := client.PresignGet(context.Background(), "some/key.jpg", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/some/key.jpg", url)
}
