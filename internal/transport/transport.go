// Package transport declares the external collaborator contracts the rest
// of the module is built against: the chat platform's small-path client and
// the alternate high-limit client used by the large-file worker. Concrete
// implementations live outside this module; callers inject test doubles
// satisfying these interfaces.
package transport

import (
	"context"
	"io"
)

// MediaKind enumerates the declared media types a forwarded message can
// carry.
type MediaKind string

const (
	KindPhoto     MediaKind = "photo"
	KindDocument  MediaKind = "document"
	KindVideo     MediaKind = "video"
	KindAudio     MediaKind = "audio"
	KindVoice     MediaKind = "voice"
	KindAnimation MediaKind = "animation"
	KindSticker   MediaKind = "sticker"
	KindVideoNote MediaKind = "video_note"
)

// MediaItem is one unit of binary content attached to a message, as
// described by the chat platform before acquisition.
type MediaItem struct {
	SourceID          string
	SourceUniqueID    string
	Kind              MediaKind
	DeclaredSize      int64
	DeclaredName      string
	MimeType          string
	Width             int
	Height            int
	DurationSeconds   int
	IsAnimatedSticker bool
}

// ChatClient is the small-path collaborator: acquiring media inline,
// reporting session health, and delivering outbound notifications.
type ChatClient interface {
	// Acquire streams an item's bytes. The caller is responsible for
	// closing the returned reader and for size-gating before calling it.
	Acquire(ctx context.Context, item MediaItem) (io.ReadCloser, error)

	// TooBig reports whether the platform itself would refuse to serve
	// this item inline regardless of declared size (e.g. a bot-API file
	// size ceiling independent of the pipeline's own configured limits).
	TooBig(item MediaItem) bool

	// SendMessage delivers a short text notification to a chat.
	SendMessage(ctx context.Context, chatID int64, text string) error

	// GetMe probes session health; a non-nil error means the session is
	// unusable and recovery should be invoked.
	GetMe(ctx context.Context) error
}

// AcquireProgress reports incremental progress of a large-file transfer, at
// whatever granularity the underlying alternate-transport library exposes.
type AcquireProgress func(done, total int64)

// AltTransportClient is the high-limit collaborator used by the large-file
// worker and arbitrated by the auth-recovery loop.
type AltTransportClient interface {
	GetMe(ctx context.Context) error

	// AcquireByMessage streams the message's media to destPath, returning
	// the number of bytes written. Implementations must verify on-disk
	// size against any reported total before returning successfully.
	AcquireByMessage(ctx context.Context, chatID, messageID int64, destPath string, progress AcquireProgress) (int64, error)

	// Login attempts to authenticate using a freshly submitted
	// verification code.
	Login(ctx context.Context, code string) (needsPassword bool, err error)

	// LoginPassword completes a 2FA challenge raised by Login.
	LoginPassword(ctx context.Context, password string) error
}
