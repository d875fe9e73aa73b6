package ingest

import (
	"path"
	"strings"

	"github.com/teltubby/teltubby/internal/transport"
)

// classification holds the extension and content type derived for a single
// media item, or ok=false when the item carries no identifiable binary.
type classification struct {
	extension   string
	contentType string
	ok          bool
}

func classify(item transport.MediaItem) classification {
	switch item.Kind {
	case transport.KindPhoto:
		return classification{"jpg", "image/jpeg", true}
	case transport.KindVoice:
		return classification{"ogg", "audio/ogg", true}
	case transport.KindAnimation:
		return classification{"mp4", "video/mp4", true}
	case transport.KindVideoNote:
		return classification{"mp4", "video/mp4", true}
	case transport.KindSticker:
		if item.IsAnimatedSticker {
			return classification{"webm", "video/webm", true}
		}
		return classification{"webp", "image/webp", true}
	case transport.KindDocument, transport.KindVideo, transport.KindAudio:
		ext := extensionFromName(item.DeclaredName)
		if ext == "" {
			return classification{}
		}
		contentType := item.MimeType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return classification{ext, contentType, true}
	default:
		return classification{}
	}
}

func extensionFromName(name string) string {
	ext := strings.TrimPrefix(path.Ext(name), ".")
	return strings.ToLower(ext)
}
