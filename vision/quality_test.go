package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/visionflow/types"
)

// ---------------------------------------------------------------------------
// test image helpers
// ---------------------------------------------------------------------------

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// checkerImage has maximum local contrast: mid brightness, very high sharpness.
func checkerImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	return img
}

func flatImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func requirePoorQuality(t *testing.T, err error, fragment string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrPoorImageQuality), "expected POOR_IMAGE_QUALITY, got %v", err)
	assert.Contains(t, err.Error(), fragment)
}

// ---------------------------------------------------------------------------
// quality gate
// ---------------------------------------------------------------------------

func TestCheckQuality_GoodImage(t *testing.T) {
	t.Parallel()

	report, err := CheckQuality(encodePNG(t, checkerImage(128, 128)), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 128, report.Width)
	assert.Equal(t, 128, report.Height)
	assert.InDelta(t, 127.5, report.Brightness, 5)
	assert.Greater(t, report.Sharpness, 15.0)
}

func TestCheckQuality_CorruptImage(t *testing.T) {
	t.Parallel()

	report, err := CheckQuality([]byte("definitely not an image"), DefaultConfig())
	assert.Nil(t, report)
	requirePoorQuality(t, err, "cannot be decoded")
}

func TestCheckQuality_TooSmall(t *testing.T) {
	t.Parallel()

	report, err := CheckQuality(encodePNG(t, checkerImage(16, 16)), DefaultConfig())
	requirePoorQuality(t, err, "below the minimum")
	require.NotNil(t, report)
	assert.Equal(t, 16, report.Width)
}

func TestCheckQuality_TooDark(t *testing.T) {
	t.Parallel()

	_, err := CheckQuality(encodePNG(t, flatImage(128, 128, color.Black)), DefaultConfig())
	requirePoorQuality(t, err, "too dark")
}

func TestCheckQuality_TooBright(t *testing.T) {
	t.Parallel()

	_, err := CheckQuality(encodePNG(t, flatImage(128, 128, color.White)), DefaultConfig())
	requirePoorQuality(t, err, "too bright")
}

func TestCheckQuality_Blurry(t *testing.T) {
	t.Parallel()

	// Uniform mid-gray passes the brightness band but has zero local contrast.
	gray := color.RGBA{R: 128, G: 128, B: 128, A: 255}
	report, err := CheckQuality(encodePNG(t, flatImage(128, 128, gray)), DefaultConfig())
	requirePoorQuality(t, err, "too blurry")
	require.NotNil(t, report)
	assert.Less(t, report.Sharpness, 1.0)
}
