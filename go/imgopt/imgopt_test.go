package imgopt

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stable-delusion/imagestore/go/testutils/unittest"
)

// noisyImage returns an image that compresses poorly, so encoded sizes vary
// meaningfully between quality levels. The fixed seed keeps tests
// deterministic.
func noisyImage(w, h int) *image.RGBA {
	rng := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	// Make it fully opaque so PNG and JPEG round trips agree on content.
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// jpegSize encodes img at quality q the same way Optimize does and returns
// the resulting size.
func jpegSize(t *testing.T, img image.Image, q int) int {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: q}))
	return buf.Len()
}

func TestOptimize_WithinBudgetIsUntouched(t *testing.T) {
	unittest.SmallTest(t)

	b := pngBytes(t, noisyImage(16, 16))
	res, err := Optimize(b, len(b))
	require.NoError(t, err)
	require.Equal(t, b, res.Bytes)
	require.Equal(t, "png", res.Format)
	require.Equal(t, 0, res.Quality)
	require.Equal(t, 0, res.Attempts)
	require.Equal(t, len(b), res.OriginalSize)
	require.Equal(t, len(b), res.FinalSize)
}

func TestOptimize_InvalidBudget(t *testing.T) {
	unittest.SmallTest(t)

	_, err := Optimize([]byte("x"), 0)
	require.Error(t, err)
	_, err = Optimize([]byte("x"), -7)
	require.Error(t, err)
}

func TestOptimize_ReturnsFirstQualityThatFits(t *testing.T) {
	unittest.SmallTest(t)

	// A quality-100 JPEG of noise is far larger than any of the quality
	// steps Optimize will try, so the input is guaranteed oversized.
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, noisyImage(128, 128), &jpeg.Options{Quality: 100}))
	input := buf.Bytes()

	// Optimize re-encodes what it decodes, so size expectations must be
	// computed from the decoded image, not the pre-encode original.
	img, _, err := image.Decode(bytes.NewReader(input))
	require.NoError(t, err)

	size90 := jpegSize(t, img, 90)
	size85 := jpegSize(t, img, 85)
	require.Greater(t, size90, size85)

	// A budget between the q=90 and q=85 sizes means 95 and 90 are tried
	// and rejected, and 85 is the first fit.
	budget := size85 + (size90-size85)/2
	require.Greater(t, len(input), budget)

	res, err := Optimize(input, budget)
	require.NoError(t, err)
	require.Equal(t, 85, res.Quality)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, "jpeg", res.Format)
	require.Equal(t, size85, res.FinalSize)
	require.LessOrEqual(t, res.FinalSize, budget)
	require.Equal(t, len(input), res.OriginalSize)
}

func TestOptimize_SizeIsMonotoneInQuality(t *testing.T) {
	unittest.SmallTest(t)

	img := noisyImage(96, 96)
	prev := jpegSize(t, img, qualityStart)
	for q := qualityStart - qualityStep; q >= qualityFloor; q -= qualityStep {
		size := jpegSize(t, img, q)
		require.LessOrEqual(t, size, prev, "size at quality %d should not exceed size at quality %d", q, q+qualityStep)
		prev = size
	}
}

func TestOptimize_ExhaustsAllQualitiesThenFails(t *testing.T) {
	unittest.SmallTest(t)

	input := pngBytes(t, noisyImage(128, 128))
	_, err := Optimize(input, 64)
	require.Error(t, err)
	var unopt *UnoptimizableError
	require.True(t, errors.As(err, &unopt))
	require.Equal(t, MaxAttempts, unopt.Attempts)
	require.Equal(t, 19, MaxAttempts)
	require.Equal(t, 64, unopt.Budget)
	require.Greater(t, unopt.BestSize, unopt.Budget)
}

func TestOptimize_UndecodableInputFails(t *testing.T) {
	unittest.SmallTest(t)

	garbage := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 64)
	_, err := Optimize(garbage, 16)
	var unopt *UnoptimizableError
	require.True(t, errors.As(err, &unopt))
	require.Error(t, unopt.Err)
	require.Equal(t, 0, unopt.Attempts)
}

func TestOptimize_TransparencyIsFlattenedOntoWhite(t *testing.T) {
	unittest.SmallTest(t)

	// Left half noisy and opaque, right half fully transparent.
	img := noisyImage(64, 64)
	for y := 0; y < 64; y++ {
		for x := 32; x < 64; x++ {
			img.SetRGBA(x, y, color.RGBA{})
		}
	}
	input := pngBytes(t, img)
	// Any budget below the input size forces a re-encode; the exact
	// winning quality is irrelevant here.
	res, err := Optimize(input, len(input)-1)
	require.NoError(t, err)
	require.Equal(t, "jpeg", res.Format)

	decoded, format, err := image.Decode(bytes.NewReader(res.Bytes))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)

	// The transparent region must have been composited onto white, give or
	// take JPEG loss.
	r, g, b, _ := decoded.At(48, 32).RGBA()
	for _, channel := range []uint32{r >> 8, g >> 8, b >> 8} {
		require.Greater(t, channel, uint32(240))
	}
}
