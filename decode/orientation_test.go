package decode

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrientation(t *testing.T) {
	t.Run("test Rotate90", testRotate90)
	t.Run("test Rotate180", testRotate180)
	t.Run("test Rotate270", testRotate270)
	t.Run("test RotateUnknownAngle", testRotateUnknownAngle)
	t.Run("test NormalizeDisabled", testNormalizeDisabled)
	t.Run("test NormalizeNoMetadata", testNormalizeNoMetadata)
	t.Run("test NormalizeMissingBlob", testNormalizeMissingBlob)
}

var (
	red  = color.RGBA{R: 255, A: 255}
	blue = color.RGBA{B: 255, A: 255}
)

// a 2x1 image, red on the left, blue on the right
func makeTwoPixelImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, red)
	img.Set(1, 0, blue)
	return img
}

func testRotate90(t *testing.T) {
	rotated := Rotate(makeTwoPixelImage(), 90)

	assert.Equal(t, 1, rotated.Bounds().Dx())
	assert.Equal(t, 2, rotated.Bounds().Dy())

	// clockwise, so red ends up on top
	assert.Equal(t, red, rotated.At(0, 0))
	assert.Equal(t, blue, rotated.At(0, 1))
}

func testRotate180(t *testing.T) {
	rotated := Rotate(makeTwoPixelImage(), 180)

	assert.Equal(t, 2, rotated.Bounds().Dx())
	assert.Equal(t, 1, rotated.Bounds().Dy())

	assert.Equal(t, blue, rotated.At(0, 0))
	assert.Equal(t, red, rotated.At(1, 0))
}

func testRotate270(t *testing.T) {
	rotated := Rotate(makeTwoPixelImage(), 270)

	assert.Equal(t, 1, rotated.Bounds().Dx())
	assert.Equal(t, 2, rotated.Bounds().Dy())

	assert.Equal(t, blue, rotated.At(0, 0))
	assert.Equal(t, red, rotated.At(0, 1))
}

func testRotateUnknownAngle(t *testing.T) {
	img := makeTwoPixelImage()
	assert.Equal(t, image.Image(img), Rotate(img, 45))
}

func testNormalizeDisabled(t *testing.T) {
	img := makeTwoPixelImage()
	assert.Equal(t, image.Image(img), NormalizeOrientation("/nonexistent", img, false))
}

func testNormalizeNoMetadata(t *testing.T) {
	// PNG files carry no EXIF block; the image must come back unchanged
	blobPath := filepath.Join(t.TempDir(), "blob.0")

	file, err := os.Create(blobPath)
	require.NoError(t, err)

	img := makeTwoPixelImage()
	err = png.Encode(file, img)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	assert.Equal(t, image.Image(img), NormalizeOrientation(blobPath, img, true))
}

func testNormalizeMissingBlob(t *testing.T) {
	img := makeTwoPixelImage()
	assert.Equal(t, image.Image(img), NormalizeOrientation(filepath.Join(t.TempDir(), "missing"), img, true))
}
