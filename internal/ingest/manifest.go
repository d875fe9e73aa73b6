package ingest

import "time"

// ManifestItem is one item's metadata as embedded in a batch manifest.
type ManifestItem struct {
	Ordinal          int     `json:"ordinal"`
	Type             string  `json:"type"`
	MimeType         string  `json:"mime_type,omitempty"`
	SizeBytes        int64   `json:"size_bytes,omitempty"`
	Width            int     `json:"width,omitempty"`
	Height           int     `json:"height,omitempty"`
	DurationSeconds  int     `json:"duration,omitempty"`
	FileID           string  `json:"file_id"`
	FileUniqueID     string  `json:"file_unique_id"`
	OriginalFilename string  `json:"original_filename,omitempty"`
	SHA256           *string `json:"sha256,omitempty"`
	S3Key            *string `json:"s3_key,omitempty"`
	ThumbnailKey     *string `json:"thumbnail_key,omitempty"`
}

// TelegramContext carries the source-platform metadata embedded in every
// manifest (the field name mirrors the wire contract in spec §6, chat
// platform substitution notwithstanding).
type TelegramContext struct {
	MessageID       int64          `json:"message_id"`
	MediaGroupID    *string        `json:"media_group_id,omitempty"`
	ChatID          int64          `json:"chat_id"`
	ChatTitle       string         `json:"chat_title,omitempty"`
	ChatUsername    string         `json:"chat_username,omitempty"`
	SenderID        int64          `json:"sender_id"`
	SenderUsername  string         `json:"sender_username,omitempty"`
	ForwardOrigin   string         `json:"forward_origin,omitempty"`
	CaptionPlain    string         `json:"caption_plain,omitempty"`
	CaptionEntities []string       `json:"caption_entities"`
	Entities        []string       `json:"entities"`
	Items           []ManifestItem `json:"items"`
}

// Manifest is the JSON object written to <base>/message.json after every
// batch, successful or partially so.
type Manifest struct {
	SchemaVersion      string           `json:"schema_version"`
	ArchiveTimestamp   time.Time        `json:"archive_timestamp_utc"`
	MessageTimestamp   time.Time        `json:"message_timestamp_utc"`
	Bucket             string           `json:"bucket"`
	BasePath           string           `json:"base_path"`
	FilesCount         int              `json:"files_count"`
	TotalBytesUploaded int64            `json:"total_bytes_uploaded"`
	Keys               []string         `json:"keys"`
	DuplicateOf        *string          `json:"duplicate_of,omitempty"`
	DedupReason        *string          `json:"dedup_reason,omitempty"`
	Notes              *string         `json:"notes,omitempty"`
	Telegram           TelegramContext `json:"telegram"`
}

const ManifestSchemaVersion = "1.0"
