package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teltubby/teltubby/internal/objstore"
	"github.com/teltubby/teltubby/internal/store"
	"github.com/teltubby/teltubby/internal/transport"
)

func newTestPipeline(t *testing.T) (*Pipeline, *store.Store, *objstore.MockS3Client, *transport.MockChatClient) {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(dir + "/teltubby.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	mockS3 := objstore.NewMockS3Client()
	client := objstore.NewClientFromDeps(mockS3, &objstore.MockPresigner{}, "archive", 5*time.Second)

	chat := transport.NewMockChatClient()

	p := New(Config{Bucket: "archive"}, st, client, chat, nil)
	return p, st, mockS3, chat
}

func baseBatch(messageID int64, uid string) BatchInput {
	return BatchInput{
		FirstMessageID:      messageID,
		MessageID:           messageID,
		MessageTimestampUTC: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		OriginSlug:          "chan-a",
		SenderSlug:          "alice",
		ChatID:              100,
		SenderID:            200,
		Items: []BatchItem{
			{Item: transport.MediaItem{
				SourceID:       "file-1",
				SourceUniqueID: uid,
				Kind:           transport.KindPhoto,
				DeclaredSize:   1024,
			}},
		},
	}
}

func TestProcessBatch_SingletonPhotoNewContent(t *testing.T) {
	p, _, mockS3, chat := newTestPipeline(t)
	chat.Content["U1"] = []byte("jpeg-bytes-s1")

	result, err := p.ProcessBatch(context.Background(), baseBatch(42, "U1"))
	require.NoError(t, err)

	require.Len(t, result.Items, 1)
	item := result.Items[0]
	assert.Empty(t, item.Skipped)
	assert.False(t, item.IsDuplicate)
	assert.Equal(t, "teltubby/2024/01/chan-a/42/", result.BasePath)
	assert.Equal(t, "teltubby/2024/01/chan-a/42/20240102-030405_chan-a_alice_m42_001.jpg", item.S3Key)
	assert.Equal(t, int64(len("jpeg-bytes-s1")), result.TotalUploadedBytes)

	assert.True(t, mockS3.PutObjectCalled)

	manifestObj, ok := mockS3.Objects[result.ManifestKey]
	require.True(t, ok)
	var manifest Manifest
	require.NoError(t, json.Unmarshal(manifestObj.Content, &manifest))
	assert.Equal(t, 1, manifest.FilesCount)
	assert.Equal(t, []string{item.S3Key}, manifest.Keys)
}

func TestProcessBatch_DuplicateByUniqueID(t *testing.T) {
	p, _, _, chat := newTestPipeline(t)
	chat.Content["U1"] = []byte("jpeg-bytes-s1")

	_, err := p.ProcessBatch(context.Background(), baseBatch(42, "U1"))
	require.NoError(t, err)

	result, err := p.ProcessBatch(context.Background(), baseBatch(42, "U1"))
	require.NoError(t, err)

	require.Len(t, result.Items, 1)
	assert.True(t, result.Items[0].IsDuplicate)
	assert.Equal(t, DedupReasonUniqueID, result.Items[0].DedupReason)
	assert.Equal(t, int64(0), result.TotalUploadedBytes)
}

func TestProcessBatch_DuplicateByContentHashAcrossDifferentUniqueIDs(t *testing.T) {
	p, _, _, chat := newTestPipeline(t)
	chat.Content["U1"] = []byte("identical-bytes")
	chat.Content["U2"] = []byte("identical-bytes")

	_, err := p.ProcessBatch(context.Background(), baseBatch(42, "U1"))
	require.NoError(t, err)

	batch2 := baseBatch(43, "U2")
	result, err := p.ProcessBatch(context.Background(), batch2)
	require.NoError(t, err)

	require.Len(t, result.Items, 1)
	assert.True(t, result.Items[0].IsDuplicate)
	assert.Equal(t, DedupReasonHash, result.Items[0].DedupReason)
}

func TestProcessBatch_NoMediaIsSkipped(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)

	batch := baseBatch(44, "U3")
	batch.Items[0].Item.Kind = ""

	result, err := p.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, SkipNoMedia, result.Items[0].Skipped)
}

func TestProcessBatch_ExceedsConfiguredMaxIsSkipped(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)
	p.cfg.MaxFileBytes = 100

	batch := baseBatch(45, "U4")
	batch.Items[0].Item.DeclaredSize = 1000

	result, err := p.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, SkipExceedsCfgLimit, result.Items[0].Skipped)
}

func TestProcessBatch_DownloadFailureIsSkippedAndBatchContinues(t *testing.T) {
	p, _, _, chat := newTestPipeline(t)
	chat.Content["U5a"] = []byte("ok-bytes")

	batch := BatchInput{
		FirstMessageID:      46,
		MessageID:           46,
		MessageTimestampUTC: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		OriginSlug:          "chan-a",
		SenderSlug:          "alice",
		Items: []BatchItem{
			{Item: transport.MediaItem{SourceID: "f1", SourceUniqueID: "U5-missing", Kind: transport.KindPhoto, DeclaredSize: 10}},
			{Item: transport.MediaItem{SourceID: "f2", SourceUniqueID: "U5a", Kind: transport.KindPhoto, DeclaredSize: 10}},
		},
	}

	result, err := p.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	assert.Equal(t, SkipDownloadFailed, result.Items[0].Skipped)
	assert.Empty(t, result.Items[1].Skipped)
}

func TestProcessBatch_AlbumOfTwoSharesBasePathAndOrdinals(t *testing.T) {
	p, _, _, chat := newTestPipeline(t)
	chat.Content["G1a"] = []byte("album-item-1")
	chat.Content["G1b"] = []byte("album-item-2")

	batch := BatchInput{
		GroupID:             "G1",
		FirstMessageID:      43,
		MessageID:           43,
		MessageTimestampUTC: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		OriginSlug:          "chan-a",
		SenderSlug:          "alice",
		Items: []BatchItem{
			{Item: transport.MediaItem{SourceID: "f1", SourceUniqueID: "G1a", Kind: transport.KindPhoto}},
			{Item: transport.MediaItem{SourceID: "f2", SourceUniqueID: "G1b", Kind: transport.KindPhoto}},
		},
	}

	result, err := p.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "teltubby/2024/01/chan-a/43/", result.BasePath)
	assert.Equal(t, 1, result.Items[0].Ordinal)
	assert.Equal(t, 2, result.Items[1].Ordinal)
}

func samplePhotoJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestProcessBatch_ThumbnailEnabledUploadsCompanionForPhotos(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(dir + "/teltubby.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	mockS3 := objstore.NewMockS3Client()
	client := objstore.NewClientFromDeps(mockS3, &objstore.MockPresigner{}, "archive", 5*time.Second)
	chat := transport.NewMockChatClient()
	chat.Content["U1"] = samplePhotoJPEG(t)

	p := New(Config{Bucket: "archive", ThumbnailEnabled: true, ThumbnailMaxDimension: 16}, st, client, chat, nil)

	result, err := p.ProcessBatch(context.Background(), baseBatch(42, "U1"))
	require.NoError(t, err)

	require.Len(t, result.Items, 1)
	item := result.Items[0]
	assert.NotEmpty(t, item.ThumbnailKey)
	assert.NotEqual(t, item.S3Key, item.ThumbnailKey)

	_, ok := mockS3.Objects[item.ThumbnailKey]
	assert.True(t, ok)

	manifestObj, ok := mockS3.Objects[result.ManifestKey]
	require.True(t, ok)
	var manifest Manifest
	require.NoError(t, json.Unmarshal(manifestObj.Content, &manifest))
	require.Len(t, manifest.Telegram.Items, 1)
	require.NotNil(t, manifest.Telegram.Items[0].ThumbnailKey)
	assert.Equal(t, item.ThumbnailKey, *manifest.Telegram.Items[0].ThumbnailKey)

	assert.Equal(t, manifest.FilesCount, len(manifest.Keys))
	assert.Contains(t, manifest.Keys, item.S3Key)
	assert.NotContains(t, manifest.Keys, item.ThumbnailKey)
}

func TestProcessBatch_ThumbnailDisabledByDefault(t *testing.T) {
	p, _, _, chat := newTestPipeline(t)
	chat.Content["U1"] = samplePhotoJPEG(t)

	result, err := p.ProcessBatch(context.Background(), baseBatch(42, "U1"))
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Empty(t, result.Items[0].ThumbnailKey)
}

