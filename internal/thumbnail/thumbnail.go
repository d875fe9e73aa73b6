// Package thumbnail generates the optional companion thumbnail teltubby
// stores alongside an archived photo: a bounded-dimension JPEG derived from
// the original, corrected for EXIF rotation, uploaded under the same base
// path the original manifest entry uses.
package thumbnail

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/nfnt/resize"
	"github.com/rwcarlsen/goexif/exif"
)

// ErrNotAnImage is returned when the source cannot be decoded as an image.
var ErrNotAnImage = errors.New("thumbnail: source is not a decodable image")

// Config controls the output bound and quality.
type Config struct {
	MaxDimension int
	Quality      int
}

func (c Config) withDefaults() Config {
	if c.MaxDimension <= 0 {
		c.MaxDimension = 512
	}
	if c.Quality <= 0 {
		c.Quality = 85
	}
	return c
}

// GenerateFromPath reads the image at path, applies EXIF orientation
// correction when present, and returns an encoded JPEG thumbnail no larger
// than cfg.MaxDimension on its longest side. Aspect ratio is always
// preserved; teltubby's thumbnails are a companion preview, not a fixed
// canvas, so there is no autofill/letterbox step here.
func GenerateFromPath(path string, cfg Config) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("thumbnail: open: %w", err)
	}
	defer f.Close()
	return Generate(f, cfg)
}

// Generate decodes r as an image and returns an encoded JPEG thumbnail. r
// must support Seek back to the start for EXIF orientation detection to run
// against the same bytes the decoder consumed; callers without a seekable
// source should buffer into a bytes.Reader first.
func Generate(r io.ReadSeeker, cfg Config) ([]byte, error) {
	cfg = cfg.withDefaults()

	img, _, err := image.Decode(r)
	if err != nil {
		return nil, ErrNotAnImage
	}

	orientation := readOrientation(r)
	img = applyOrientation(img, orientation)

	width, height := boundedSize(img.Bounds().Dx(), img.Bounds().Dy(), cfg.MaxDimension)
	resized := resize.Resize(uint(width), uint(height), img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: cfg.Quality}); err != nil {
		return nil, fmt.Errorf("thumbnail: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// boundedSize scales (width, height) down so the longer side equals max,
// preserving aspect ratio. Images already within bounds are left untouched
// except for integer rounding, since resize.Resize with equal dimensions is
// a cheap no-op pass.
func boundedSize(width, height, max int) (int, int) {
	if width <= 0 || height <= 0 {
		return max, max
	}
	if width <= max && height <= max {
		return width, height
	}
	if width >= height {
		ratio := float64(max) / float64(width)
		return max, int(float64(height) * ratio)
	}
	ratio := float64(max) / float64(height)
	return int(float64(width) * ratio), max
}

// readOrientation best-effort reads the EXIF orientation tag, returning 1
// (normal) when absent or unreadable. The reader is rewound before and
// after so the caller's own decode is unaffected by this probe.
func readOrientation(r io.ReadSeeker) int {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return 1
	}
	defer r.Seek(0, io.SeekStart)

	x, err := exif.Decode(r)
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return v
}

// applyOrientation rotates/flips img per the EXIF orientation tag so the
// generated thumbnail displays upright regardless of how the camera wrote
// the original bytes.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 3:
		return rotate180(img)
	case 6:
		return rotate90CW(img)
	case 8:
		return rotate90CCW(img)
	default:
		return img
	}
}

func rotate180(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(b.Max.X-1-x+b.Min.X, b.Max.Y-1-y+b.Min.Y, src.At(x, y))
		}
	}
	return dst
}

func rotate90CW(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(b.Max.Y-1-y, x, src.At(x, y))
		}
	}
	return dst
}

func rotate90CCW(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(y, b.Max.X-1-x, src.At(x, y))
		}
	}
	return dst
}
