// Package ingest implements the per-batch orchestration that turns a ready
// album batch into uploaded, deduplicated, content-addressed objects plus a
// JSON manifest: gating, fast-path and content-hash dedup, streaming
// download-hash-upload, and deterministic key assembly.
package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/teltubby/teltubby/internal/metrics"
	"github.com/teltubby/teltubby/internal/naming"
	"github.com/teltubby/teltubby/internal/objstore"
	"github.com/teltubby/teltubby/internal/store"
	"github.com/teltubby/teltubby/internal/thumbnail"
	"github.com/teltubby/teltubby/internal/transport"
)

const (
	DefaultSmallPathLimitBytes = 50 * 1024 * 1024
	DefaultMaxFileBytes        = 4 * 1024 * 1024 * 1024

	SkipNoMedia         = "no_media"
	SkipExceedsBotLimit = "exceeds_bot_limit"
	SkipExceedsCfgLimit = "exceeds_cfg_limit"
	SkipDownloadFailed  = "download_failed"
	SkipUploadFailed    = "upload_failed"

	DedupReasonUniqueID = "file_unique_id"
	DedupReasonHash     = "content_hash"
)

// Config holds the size limits and destination bucket this pipeline
// enforces; everything else about an item arrives via BatchInput.
type Config struct {
	SmallPathLimitBytes int64
	MaxFileBytes        int64
	Bucket              string

	// ThumbnailEnabled generates and uploads a companion JPEG thumbnail for
	// every archived photo. Generation failures never fail the item: the
	// original has already been recorded and uploaded by the time the
	// thumbnail step runs.
	ThumbnailEnabled      bool
	ThumbnailMaxDimension int
}

func (c Config) withDefaults() Config {
	if c.SmallPathLimitBytes <= 0 {
		c.SmallPathLimitBytes = DefaultSmallPathLimitBytes
	}
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = DefaultMaxFileBytes
	}
	return c
}

// BatchItem wraps one declared media item in ordinal position within a
// batch.
type BatchItem struct {
	Item transport.MediaItem
}

// BatchInput is everything the pipeline needs about one ready batch,
// independent of how the aggregator represented it in memory.
type BatchInput struct {
	GroupID             string
	FirstMessageID      int64
	MessageID           int64
	MessageTimestampUTC time.Time
	OriginSlug          string
	SenderSlug          string
	ChatID              int64
	ChatTitle           string
	ChatUsername        string
	SenderID            int64
	SenderUsername      string
	ForwardOrigin       string
	CaptionPlain        string
	CaptionEntities     []string
	Entities            []string
	Items               []BatchItem
}

// ItemOutcome is the per-item result of processing one BatchItem.
type ItemOutcome struct {
	Ordinal          int
	Type             string
	MimeType         string
	SizeBytes        int64
	Width            int
	Height           int
	DurationSeconds  int
	FileID           string
	FileUniqueID     string
	OriginalFilename string
	SHA256           string
	S3Key            string
	ThumbnailKey     string
	Skipped          string
	IsDuplicate      bool
	ExistingKey      string
	DedupReason      string
}

// BatchResult is the outcome of processing one ready batch.
type BatchResult struct {
	BasePath           string
	Items              []ItemOutcome
	TotalUploadedBytes int64
	ManifestKey        string
}

// Pipeline is the C6 per-batch orchestrator.
type Pipeline struct {
	cfg       Config
	store     *store.Store
	obj       *objstore.Client
	transport transport.ChatClient
	metrics   *metrics.Metrics
	now       func() time.Time
}

// New builds a Pipeline.
func New(cfg Config, st *store.Store, obj *objstore.Client, chat transport.ChatClient, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		cfg:       cfg.withDefaults(),
		store:     st,
		obj:       obj,
		transport: chat,
		metrics:   m,
		now:       time.Now,
	}
}

// ProcessBatch runs the full per-item algorithm over a ready batch, in
// ordinal (timestamp) order, then writes the batch manifest.
func (p *Pipeline) ProcessBatch(ctx context.Context, in BatchInput) (BatchResult, error) {
	start := time.Now()
	basePath := naming.BuildPrefix(in.MessageTimestampUTC, in.OriginSlug, in.FirstMessageID)

	outcomes := make([]ItemOutcome, 0, len(in.Items))
	var totalBytes int64
	var duplicateOf, dedupReason string

	for i, bi := range in.Items {
		outcome := p.processItem(ctx, basePath, in, i+1, bi.Item)
		outcomes = append(outcomes, outcome)

		switch {
		case outcome.Skipped != "":
			if p.metrics != nil {
				p.metrics.RecordSkip(outcome.Skipped)
			}
		case outcome.IsDuplicate:
			if p.metrics != nil {
				p.metrics.RecordDedupHit(outcome.DedupReason)
			}
			if duplicateOf == "" {
				duplicateOf = outcome.ExistingKey
				dedupReason = outcome.DedupReason
			}
		default:
			totalBytes += outcome.SizeBytes
			if p.metrics != nil {
				p.metrics.RecordUpload(outcome.SizeBytes)
			}
		}
	}

	manifestKey, err := p.writeManifest(ctx, basePath, in, outcomes, totalBytes, duplicateOf, dedupReason)

	status := "success"
	if err != nil {
		status = "failed"
	}
	if p.metrics != nil {
		p.metrics.RecordBatch(status, pathLabel(in), time.Since(start))
	}
	if err != nil {
		return BatchResult{}, err
	}

	return BatchResult{
		BasePath:           basePath,
		Items:              outcomes,
		TotalUploadedBytes: totalBytes,
		ManifestKey:        manifestKey,
	}, nil
}

func pathLabel(in BatchInput) string {
	if in.GroupID == "" {
		return "singleton"
	}
	return "album"
}

func (p *Pipeline) processItem(ctx context.Context, basePath string, in BatchInput, ordinal int, item transport.MediaItem) ItemOutcome {
	outcome := ItemOutcome{
		Ordinal:          ordinal,
		FileID:           item.SourceID,
		FileUniqueID:     item.SourceUniqueID,
		OriginalFilename: item.DeclaredName,
		Width:            item.Width,
		Height:           item.Height,
		DurationSeconds:  item.DurationSeconds,
	}

	class := classify(item)
	if !class.ok {
		outcome.Skipped = SkipNoMedia
		return outcome
	}
	outcome.Type = string(item.Kind)
	outcome.MimeType = class.contentType

	if item.SourceUniqueID != "" {
		hit, err := p.store.CheckByUnique(ctx, item.SourceUniqueID)
		if err == nil && hit.Hit {
			outcome.IsDuplicate = true
			outcome.ExistingKey = hit.Key
			outcome.DedupReason = DedupReasonUniqueID
			outcome.S3Key = hit.Key
			return outcome
		}
	}

	if exceedsLimit, reason := p.sizeGate(item.DeclaredSize); exceedsLimit {
		outcome.Skipped = reason
		return outcome
	}

	tmpFile, err := os.CreateTemp("", "teltubby-ingest-*")
	if err != nil {
		outcome.Skipped = SkipDownloadFailed
		return outcome
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	written, hash, err := p.acquireAndHash(ctx, item, tmpFile)
	tmpFile.Close()
	if err != nil {
		outcome.Skipped = SkipDownloadFailed
		return outcome
	}
	outcome.SizeBytes = written
	outcome.SHA256 = hash

	if exceedsLimit, reason := p.sizeGate(written); exceedsLimit {
		outcome.Skipped = reason
		return outcome
	}

	hashHit, err := p.store.CheckByHash(ctx, hash)
	if err == nil && hashHit.Hit {
		outcome.IsDuplicate = true
		outcome.ExistingKey = hashHit.Key
		outcome.DedupReason = DedupReasonHash
		outcome.S3Key = hashHit.Key
		return outcome
	}

	filename := naming.BuildFilename(naming.Components{
		TimestampUTC: in.MessageTimestampUTC,
		OriginSlug:   in.OriginSlug,
		SenderSlug:   in.SenderSlug,
		MessageID:    in.MessageID,
		GroupID:      in.GroupID,
		Ordinal:      ordinal,
		Caption:      in.CaptionPlain,
		Extension:    class.extension,
	})
	key := naming.BuildKey(basePath, filename)

	reopened, err := os.Open(tmpPath)
	if err != nil {
		outcome.Skipped = SkipUploadFailed
		return outcome
	}
	defer reopened.Close()

	if err := p.obj.Upload(ctx, key, reopened, written, class.contentType); err != nil {
		outcome.Skipped = SkipUploadFailed
		return outcome
	}

	if err := p.store.Record(ctx, hash, key, written, class.contentType, item.SourceUniqueID); err != nil {
		outcome.Skipped = SkipUploadFailed
		return outcome
	}

	outcome.S3Key = key

	if p.cfg.ThumbnailEnabled && item.Kind == transport.KindPhoto {
		if thumbKey, err := p.uploadThumbnail(ctx, tmpPath, basePath, filename); err == nil {
			outcome.ThumbnailKey = thumbKey
		}
	}

	return outcome
}

// uploadThumbnail generates a bounded-dimension JPEG preview from the
// already-downloaded temp file and uploads it alongside the original under
// a "thumb_" prefix. Any failure here is the caller's to ignore: a missing
// thumbnail never invalidates an otherwise-successful archive.
func (p *Pipeline) uploadThumbnail(ctx context.Context, tmpPath, basePath, filename string) (string, error) {
	data, err := thumbnail.GenerateFromPath(tmpPath, thumbnail.Config{MaxDimension: p.cfg.ThumbnailMaxDimension})
	if err != nil {
		return "", err
	}

	key := naming.BuildKey(basePath, thumbnailFilename(filename))
	if err := p.obj.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "image/jpeg"); err != nil {
		return "", err
	}
	return key, nil
}

func thumbnailFilename(filename string) string {
	ext := path.Ext(filename)
	return "thumb_" + strings.TrimSuffix(filename, ext) + ".jpg"
}

// sizeGate applies the pre- and post-download gate: the configured max
// takes priority over the small-path limit in the reported reason, since an
// item that exceeds both is, first and foremost, over the hard cap.
func (p *Pipeline) sizeGate(size int64) (bool, string) {
	if size <= 0 {
		return false, ""
	}
	if size > p.cfg.MaxFileBytes {
		return true, SkipExceedsCfgLimit
	}
	if size > p.cfg.SmallPathLimitBytes {
		return true, SkipExceedsBotLimit
	}
	return false, ""
}

func (p *Pipeline) acquireAndHash(ctx context.Context, item transport.MediaItem, dst io.Writer) (int64, string, error) {
	reader, err := p.transport.Acquire(ctx, item)
	if err != nil {
		return 0, "", err
	}
	defer reader.Close()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(dst, hasher), reader)
	if err != nil {
		return 0, "", err
	}
	return written, hex.EncodeToString(hasher.Sum(nil)), nil
}

func (p *Pipeline) writeManifest(ctx context.Context, basePath string, in BatchInput, outcomes []ItemOutcome, totalBytes int64, duplicateOf, dedupReason string) (string, error) {
	items := make([]ManifestItem, 0, len(outcomes))
	var keys []string
	for _, o := range outcomes {
		mi := ManifestItem{
			Ordinal:          o.Ordinal,
			Type:             o.Type,
			MimeType:         o.MimeType,
			SizeBytes:        o.SizeBytes,
			Width:            o.Width,
			Height:           o.Height,
			DurationSeconds:  o.DurationSeconds,
			FileID:           o.FileID,
			FileUniqueID:     o.FileUniqueID,
			OriginalFilename: o.OriginalFilename,
		}
		if o.SHA256 != "" {
			sha := o.SHA256
			mi.SHA256 = &sha
		}
		if o.S3Key != "" {
			key := o.S3Key
			mi.S3Key = &key
			if o.Skipped == "" && !o.IsDuplicate {
				keys = append(keys, o.S3Key)
			}
		}
		if o.ThumbnailKey != "" {
			thumbKey := o.ThumbnailKey
			mi.ThumbnailKey = &thumbKey
		}
		items = append(items, mi)
	}

	var groupID *string
	if in.GroupID != "" {
		groupID = &in.GroupID
	}

	manifest := Manifest{
		SchemaVersion:      ManifestSchemaVersion,
		ArchiveTimestamp:   p.now().UTC(),
		MessageTimestamp:   in.MessageTimestampUTC,
		Bucket:             p.cfg.Bucket,
		BasePath:           basePath,
		FilesCount:         len(keys),
		TotalBytesUploaded: totalBytes,
		Keys:               keys,
		Telegram: TelegramContext{
			MessageID:       in.MessageID,
			MediaGroupID:    groupID,
			ChatID:          in.ChatID,
			ChatTitle:       in.ChatTitle,
			ChatUsername:    in.ChatUsername,
			SenderID:        in.SenderID,
			SenderUsername:  in.SenderUsername,
			ForwardOrigin:   in.ForwardOrigin,
			CaptionPlain:    in.CaptionPlain,
			CaptionEntities: in.CaptionEntities,
			Entities:        in.Entities,
			Items:           items,
		},
	}
	if duplicateOf != "" {
		manifest.DuplicateOf = &duplicateOf
		manifest.DedupReason = &dedupReason
	}

	data, err := json.Marshal(manifest)
	if err != nil {
		return "", err
	}

	key := naming.BuildKey(basePath, "message.json")
	if err := p.obj.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return "", err
	}
	return key, nil
}
