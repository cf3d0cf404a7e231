package imagepipe

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rexpump/media-upload-server-public/apperr"
)

func redPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	red := color.RGBA{R: 255, A: 255}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, red)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func baseConfig() Config {
	return Config{
		AllowedMimeTypes: []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
		MaxDimension:     1024,
		StripExif:        true,
		OutputFormat:     "webp",
		OutputQuality:    85,
	}
}

func TestProcessSmallPNGToWebP(t *testing.T) {
	data := redPNG(t, 100, 100)
	result, err := Process(data, baseConfig())
	require.NoError(t, err)
	require.Equal(t, "image/webp", result.OptimizedMime)
	require.Equal(t, 100, result.Width)
	require.Equal(t, 100, result.Height)
	require.False(t, result.WasResized)
	require.NotEmpty(t, result.OptimizedBytes)
}

func TestProcessDownscalesOversizedImage(t *testing.T) {
	data := redPNG(t, 3000, 1500)
	cfg := baseConfig()
	cfg.MaxDimension = 1000
	result, err := Process(data, cfg)
	require.NoError(t, err)
	require.True(t, result.WasResized)
	require.Equal(t, 1000, result.Width)
	require.Equal(t, 500, result.Height)
}

func TestProcessRejectsDecompressionBomb(t *testing.T) {
	// a 5000px image exceeds maxDimension(1000) * 4 = 4000
	data := redPNG(t, 5000, 10)
	cfg := baseConfig()
	cfg.MaxDimension = 1000
	_, err := Process(data, cfg)
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindValidation, e.Kind)
}

func TestProcessRejectsUnrecognizedBytes(t *testing.T) {
	_, err := Process([]byte("not an image at all"), baseConfig())
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindUnsupportedMedia, e.Kind)
}

func TestProcessNeverUpscales(t *testing.T) {
	data := redPNG(t, 50, 50)
	cfg := baseConfig()
	cfg.MaxDimension = 1000
	result, err := Process(data, cfg)
	require.NoError(t, err)
	require.False(t, result.WasResized)
	require.Equal(t, 50, result.Width)
}
