// Package imageproc turns arbitrary user-supplied photos into bounded,
// upright, metadata-free JPEGs suitable for vision inference.
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

var (
	// ErrUnsupportedFormat means the input could not be decoded at all.
	ErrUnsupportedFormat = errors.New("unsupported image format: re-encode as JPEG or PNG, or use direct camera capture")
	// ErrImageTooDegraded means the encoded output stayed below the
	// viable size threshold even after the high-quality retry.
	ErrImageTooDegraded = errors.New("image too degraded for analysis: use a clearer photo with better lighting")
)

// RawImage is an uploaded or captured photo as received from a client.
type RawImage struct {
	Data []byte
	MIME string // declared content type, e.g. "image/heic"
	Name string // original filename, used as a format hint
}

// Normalized is a JPEG-encoded, upright image within the configured
// dimension bounds, with all metadata stripped.
type Normalized struct {
	Data    []byte
	Width   int
	Height  int
	Quality int
}

// Profile selects the size/quality tradeoff for the capturing device
// class. Constrained (mobile) profiles bias toward smaller payloads at
// slightly higher JPEG quality, since inference needs clarity there.
type Profile struct {
	MaxDimension int
	Quality      int
}

var (
	DefaultProfile     = Profile{MaxDimension: 1200, Quality: 90}
	ConstrainedProfile = Profile{MaxDimension: 1000, Quality: 92}
)

const (
	// minDimension is the floor below which inference accuracy drops
	// off faster than upscaling blur hurts it.
	minDimension = 600

	// minViableBytes is the smallest encoded size still worth sending
	// to the vision service.
	minViableBytes = 10 << 10

	// Retry settings for outputs that land under minViableBytes.
	retryQuality      = 95
	retryMaxDimension = 1200
)

// Normalize converts input into a bounded-size upright JPEG. It returns
// ErrUnsupportedFormat when no decoder accepts the input and
// ErrImageTooDegraded when the output stays under the viable size
// threshold after the high-quality retry. Pure: no side effects, and
// deterministic for identical input and profile.
func Normalize(input RawImage, profile Profile) (*Normalized, error) {
	if profile.MaxDimension <= 0 || profile.Quality <= 0 {
		profile = DefaultProfile
	}

	src, err := decode(input)
	if err != nil {
		return nil, err
	}

	out, err := render(src, profile.MaxDimension, profile.Quality)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}

	if len(out.Data) < minViableBytes {
		// Over-aggressive compression can discard the detail the
		// vision model needs; try once more at higher quality.
		out, err = render(src, retryMaxDimension, retryQuality)
		if err != nil {
			return nil, fmt.Errorf("render retry: %w", err)
		}
		if len(out.Data) < minViableBytes {
			return nil, ErrImageTooDegraded
		}
	}

	return out, nil
}

// decode loads the raw bytes into pixel data. Camera-native formats go
// through their dedicated decoders first; everything else (and any
// dedicated-decoder failure) falls through to the generic registered
// decoder with EXIF auto-orientation applied.
func decode(input RawImage) (image.Image, error) {
	if formatHint(input) != "" {
		if img, err := decodeCameraNative(input); err == nil {
			return img, nil
		}
	}

	img, err := imaging.Decode(bytes.NewReader(input.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w (declared %q)", ErrUnsupportedFormat, input.MIME)
	}
	return img, nil
}

// formatHint returns a normalized family name for declared formats that
// lack broad decode support, or "" for web-safe inputs.
func formatHint(input RawImage) string {
	mime := strings.ToLower(input.MIME)
	name := strings.ToLower(input.Name)
	switch {
	case strings.Contains(mime, "heic"), strings.Contains(mime, "heif"),
		strings.HasSuffix(name, ".heic"), strings.HasSuffix(name, ".heif"):
		return "heic"
	case strings.Contains(mime, "tiff"), strings.HasSuffix(name, ".tif"), strings.HasSuffix(name, ".tiff"):
		return "tiff"
	case strings.Contains(mime, "bmp"), strings.HasSuffix(name, ".bmp"):
		return "bmp"
	case strings.Contains(mime, "webp"), strings.HasSuffix(name, ".webp"):
		return "webp"
	}
	return ""
}

func decodeCameraNative(input RawImage) (image.Image, error) {
	r := bytes.NewReader(input.Data)
	switch formatHint(input) {
	case "tiff":
		return tiff.Decode(r)
	case "bmp":
		return bmp.Decode(r)
	case "webp":
		return webp.Decode(r)
	}
	// No pure-Go HEIC decoder exists; some phones mislabel JPEGs as
	// HEIC, so let the generic decoder have a go before giving up.
	return nil, fmt.Errorf("no dedicated decoder for %q", input.MIME)
}

// render performs the resize/compress step: proportional downscale to
// the dimension cap, upscale to the minimum floor if needed, composite
// over white, then JPEG-encode. Re-rendering through a fresh NRGBA
// surface guarantees no source metadata survives.
func render(src image.Image, maxDim, quality int) (*Normalized, error) {
	img := src
	b := img.Bounds()

	if b.Dx() > maxDim || b.Dy() > maxDim {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
		b = img.Bounds()
	}

	if b.Dx() < minDimension || b.Dy() < minDimension {
		if b.Dx() <= b.Dy() {
			img = imaging.Resize(img, minDimension, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, minDimension, imaging.Lanczos)
		}
		b = img.Bounds()
	}

	// White backdrop keeps transparent PNG regions from reading as
	// black mystery areas to the vision model. Overlay alpha-blends;
	// Paste would copy zero-alpha pixels over the backdrop verbatim.
	flat := imaging.New(b.Dx(), b.Dy(), color.White)
	flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}

	return &Normalized{
		Data:    buf.Bytes(),
		Width:   b.Dx(),
		Height:  b.Dy(),
		Quality: quality,
	}, nil
}
