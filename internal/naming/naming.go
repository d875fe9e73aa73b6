// Package naming builds the deterministic, filesystem-safe object keys and
// archive filenames the rest of the pipeline uses to address content in the
// object store.
package naming

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxBaseLength is the length cap applied to a whole built filename,
// extension included; only the base (the portion before the extension) is
// shortened to meet it, and the extension itself is never truncated.
const MaxBaseLength = 120

var nonSlugRun = regexp.MustCompile(`[^a-z0-9._-]+`)

// transliterator decomposes to NFKD and drops combining marks, collapsing
// accented letters to their base letter. Characters with no such
// decomposition pass through unchanged; Slug then replaces them.
var transliterator = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slug transliterates s to ASCII, lowercases it, and replaces every run of
// characters outside [A-Za-z0-9._-] with a single hyphen. Applying Slug to
// its own output is a no-op: slug(slug(s)) == slug(s).
func Slug(s string) string {
	ascii, _, err := transform.String(transliterator, s)
	if err != nil {
		ascii = s
	}
	ascii = strings.ToLower(ascii)
	ascii = nonSlugRun.ReplaceAllString(ascii, "-")
	ascii = strings.Trim(ascii, "-")
	if ascii == "" {
		return "item"
	}
	return ascii
}

// CaptionSnippet builds the short caption fragment appended to a filename:
// the first six whitespace-delimited tokens of caption, transliterated and
// slugified as one unit so the joining hyphens survive Slug's collapsing.
func CaptionSnippet(caption string) string {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return ""
	}
	fields := strings.Fields(caption)
	if len(fields) > 6 {
		fields = fields[:6]
	}
	return Slug(strings.Join(fields, "-"))
}

// Components holds everything needed to build one archived item's filename
// and the shared batch prefix it lives under.
type Components struct {
	TimestampUTC time.Time
	OriginSlug   string
	SenderSlug   string
	MessageID    int64
	GroupID      string
	Ordinal      int
	Caption      string
	Extension    string
}

// BuildFilename renders:
//
//	YYYYMMDD-HHMMSS_<origin>_<sender>_m<mid>[-g<gid>]_<NNN>[_<caption-snippet>].<ext>
//
// truncating the base (everything before the final ".<ext>") from the right
// so the whole filename, ".<ext>" included, is at most MaxBaseLength long;
// the extension is never touched.
func BuildFilename(c Components) string {
	origin := Slug(c.OriginSlug)
	sender := Slug(c.SenderSlug)
	ext := strings.TrimPrefix(Slug(c.Extension), "-")
	if ext == "" || ext == "item" {
		ext = "bin"
	}

	groupPart := ""
	if c.GroupID != "" {
		groupPart = fmt.Sprintf("-g%s", Slug(c.GroupID))
	}

	base := fmt.Sprintf(
		"%s_%s_%s_m%d%s_%03d",
		c.TimestampUTC.Format("20060102-150405"),
		origin,
		sender,
		c.MessageID,
		groupPart,
		c.Ordinal,
	)

	if snippet := CaptionSnippet(c.Caption); snippet != "" {
		base = base + "_" + snippet
	}

	maxBase := MaxBaseLength - len(".") - len(ext)
	if maxBase > 0 && len(base) > maxBase {
		base = base[:maxBase]
		base = strings.TrimRight(base, "-_")
	}

	return base + "." + ext
}

// BuildPrefix renders the batch prefix every item of a given first message
// shares: teltubby/YYYY/MM/<origin-slug>/<first-message-id>/.
func BuildPrefix(timestampUTC time.Time, originSlug string, firstMessageID int64) string {
	return fmt.Sprintf(
		"teltubby/%04d/%02d/%s/%d/",
		timestampUTC.Year(), timestampUTC.Month(),
		Slug(originSlug), firstMessageID,
	)
}

// BuildKey joins a batch prefix and an item's filename into the full object
// key.
func BuildKey(prefix, filename string) string {
	if strings.HasSuffix(prefix, "/") {
		return prefix + filename
	}
	return prefix + "/" + filename
}
