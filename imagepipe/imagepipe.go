// Package imagepipe implements §4.C: magic-byte sniffing (ignoring any
// client-declared content type), decode, dimension-bomb protection,
// downscaling, metadata stripping and re-encode. The pipeline is pure with
// respect to its inputs, as the spec requires, and is safe to call
// concurrently from multiple goroutines (see Pool for bounding that
// concurrency to the host's core count).
package imagepipe

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/chai2010/webp"
	"golang.org/x/image/draw"
	xwebp "golang.org/x/image/webp"

	"github.com/rexpump/media-upload-server-public/apperr"
)

// Format is the tagged variant over supported image codecs (§9's "Dynamic
// dispatch over codecs" design note): adding a codec means adding a case
// here and to the allow-list in config.
type Format string

const (
	FormatJPEG Format = "image/jpeg"
	FormatPNG  Format = "image/png"
	FormatGIF  Format = "image/gif"
	FormatWebP Format = "image/webp"
)

// Config is the subset of config.ProcessingConfig/UploadConfig the pipeline
// needs, passed explicitly rather than depending on the config package
// directly (the pipeline has no I/O and no global state, per §4.C and §9).
type Config struct {
	AllowedMimeTypes []string
	MaxDimension     int
	StripExif        bool
	OutputFormat     string // "webp" | "jpeg" | "jpg" | "png"
	OutputQuality    int
}

// Result is what a successful Process call produces.
type Result struct {
	OptimizedBytes []byte
	OptimizedMime  string
	OriginalBytes  []byte
	OriginalMime   string
	Width          int
	Height         int
	WasResized     bool
}

func isAllowed(mime string, allowed []string) bool {
	for _, m := range allowed {
		if m == mime {
			return true
		}
	}
	return false
}

// Process runs the full pipeline described in §4.C, in order.
func Process(data []byte, cfg Config) (Result, error) {
	mimeType, err := Sniff(data)
	if err != nil {
		return Result{}, err
	}
	if !isAllowed(mimeType, cfg.AllowedMimeTypes) {
		return Result{}, apperr.UnsupportedMedia(fmt.Sprintf("content type %s is not allowed", mimeType))
	}

	img, err := decode(mimeType, data)
	if err != nil {
		return Result{}, apperr.Validation(fmt.Sprintf("failed to decode image: %v", err))
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	hardCap := cfg.MaxDimension * 4
	if width > hardCap || height > hardCap {
		return Result{}, apperr.Validation("image dimensions exceed the decompression-bomb hard cap")
	}

	originalBytes := data
	if cfg.StripExif {
		// Re-encode the full-size decoded image back to its original format
		// to drop EXIF/ICC/XMP chunks before it is ever written to disk.
		stripped, err := encode(img, mimeType, cfg.OutputQuality)
		if err != nil {
			return Result{}, apperr.Internal(fmt.Errorf("stripping metadata: %w", err))
		}
		originalBytes = stripped
	}

	resized, wasResized := downscale(img, cfg.MaxDimension)

	outMime := outputMime(cfg.OutputFormat)
	optimizedBytes, err := encode(resized, outMime, cfg.OutputQuality)
	if err != nil {
		return Result{}, apperr.Internal(fmt.Errorf("encoding output: %w", err))
	}

	outBounds := resized.Bounds()
	return Result{
		OptimizedBytes: optimizedBytes,
		OptimizedMime:  outMime,
		OriginalBytes:  originalBytes,
		OriginalMime:   mimeType,
		Width:          outBounds.Dx(),
		Height:         outBounds.Dy(),
		WasResized:     wasResized,
	}, nil
}

func decode(mimeType string, data []byte) (image.Image, error) {
	r := bytes.NewReader(data)
	switch Format(mimeType) {
	case FormatJPEG:
		return jpeg.Decode(r)
	case FormatPNG:
		return png.Decode(r)
	case FormatGIF:
		// image/gif.Decode only ever returns the first frame, which is
		// exactly the "decode animated inputs to their first frame" rule.
		return gif.Decode(r)
	case FormatWebP:
		return xwebp.Decode(r)
	default:
		return nil, fmt.Errorf("unsupported mime type %q", mimeType)
	}
}

func outputMime(outputFormat string) string {
	switch outputFormat {
	case "jpeg", "jpg":
		return string(FormatJPEG)
	case "png":
		return string(FormatPNG)
	default:
		return string(FormatWebP)
	}
}

func encode(img image.Image, mimeType string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch Format(mimeType) {
	case FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
	case FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	case FormatGIF:
		if err := gif.Encode(&buf, img, nil); err != nil {
			return nil, err
		}
	case FormatWebP:
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("cannot encode to mime type %q", mimeType)
	}
	return buf.Bytes(), nil
}

// downscale resizes img so that neither dimension exceeds maxDimension,
// preserving aspect ratio with a high-quality (Catmull-Rom) filter.
// Upscaling is never performed (§4.C item 3).
func downscale(img image.Image, maxDimension int) (image.Image, bool) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if maxDimension <= 0 || (width <= maxDimension && height <= maxDimension) {
		return img, false
	}

	var newWidth, newHeight int
	if width >= height {
		newWidth = maxDimension
		newHeight = int(float64(height) * float64(maxDimension) / float64(width))
	} else {
		newHeight = maxDimension
		newWidth = int(float64(width) * float64(maxDimension) / float64(height))
	}
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst, true
}
