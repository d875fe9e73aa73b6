package naming

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlug_TransliteratesAndLowercases(t *testing.T) {
	assert.Equal(t, "cafe", Slug("Café"))
}

func TestSlug_CollapsesNonAllowedRuns(t *testing.T) {
	assert.Equal(t, "a-b-c", Slug("a!!b   c"))
}

func TestSlug_Idempotent(t *testing.T) {
	inputs := []string{"Café Déjà Vu!!", "already-slugged_123", "水 Channel", ""}
	for _, in := range inputs {
		once := Slug(in)
		twice := Slug(once)
		assert.Equal(t, once, twice, "slug(slug(%q)) must equal slug(%q)", in, in)
	}
}

func TestSlug_OnlyContainsAllowedCharacters(t *testing.T) {
	out := Slug("Hello, World! 日本語 Test_123.final")
	for _, r := range out {
		isAllowed := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-'
		assert.True(t, isAllowed, "unexpected rune %q in slug output %q", r, out)
	}
}

func TestCaptionSnippet_TakesFirstSixTokens(t *testing.T) {
	snippet := CaptionSnippet("one two three four five six seven eight")
	assert.Equal(t, "one-two-three-four-five-six", snippet)
}

func TestCaptionSnippet_EmptyIsEmpty(t *testing.T) {
	assert.Equal(t, "", CaptionSnippet(""))
	assert.Equal(t, "", CaptionSnippet("   "))
}

func TestBuildFilename_SingletonPhotoExample(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	got := BuildFilename(Components{
		TimestampUTC: ts,
		OriginSlug:   "chan-a",
		SenderSlug:   "alice",
		MessageID:    42,
		Ordinal:      1,
		Extension:    "jpg",
	})
	assert.Equal(t, "20240102-030405_chan-a_alice_m42_001.jpg", got)
}

func TestBuildFilename_IncludesGroupIDWhenPresent(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	got := BuildFilename(Components{
		TimestampUTC: ts,
		OriginSlug:   "chan-a",
		SenderSlug:   "alice",
		MessageID:    42,
		GroupID:      "987",
		Ordinal:      2,
		Extension:    "jpg",
	})
	assert.Equal(t, "20240102-030405_chan-a_alice_m42-g987_002.jpg", got)
}

func TestBuildFilename_AppendsCaptionSnippet(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	got := BuildFilename(Components{
		TimestampUTC: ts,
		OriginSlug:   "chan-a",
		SenderSlug:   "alice",
		MessageID:    42,
		Ordinal:      1,
		Caption:      "Sunset over the bay today",
		Extension:    "jpg",
	})
	assert.Equal(t, "20240102-030405_chan-a_alice_m42_001_sunset-over-the-bay-today.jpg", got)
}

func TestBuildFilename_TruncatesBaseNotExtension(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	longCaption := strings.Repeat("supercalifragilisticexpialidocious ", 10)
	got := BuildFilename(Components{
		TimestampUTC: ts,
		OriginSlug:   "chan-a",
		SenderSlug:   "alice",
		MessageID:    42,
		Ordinal:      1,
		Caption:      longCaption,
		Extension:    "jpg",
	})
	assert.LessOrEqual(t, len(got), MaxBaseLength)
	assert.True(t, strings.HasSuffix(got, ".jpg"))
}

func TestBuildFilename_DefaultsUnknownExtension(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	got := BuildFilename(Components{
		TimestampUTC: ts,
		OriginSlug:   "chan-a",
		SenderSlug:   "alice",
		MessageID:    42,
		Ordinal:      1,
		Extension:    "",
	})
	assert.True(t, strings.HasSuffix(got, ".bin"))
}

func TestBuildPrefix_MatchesExample(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	got := BuildPrefix(ts, "chan-a", 42)
	assert.Equal(t, "teltubby/2024/01/chan-a/42/", got)
}

func TestBuildKey_JoinsPrefixAndFilename(t *testing.T) {
	assert.Equal(t, "teltubby/2024/01/chan-a/42/file.jpg", BuildKey("teltubby/2024/01/chan-a/42/", "file.jpg"))
	assert.Equal(t, "teltubby/2024/01/chan-a/42/file.jpg", BuildKey("teltubby/2024/01/chan-a/42", "file.jpg"))
}
