package decode

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makePNG(t *testing.T, width int, height int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 0, A: 255})
		}
	}

	buffer := &bytes.Buffer{}
	err := png.Encode(buffer, img)
	require.NoError(t, err)
	return buffer.Bytes()
}

func TestDecoder(t *testing.T) {
	t.Run("test SampleRatio", testSampleRatio)
	t.Run("test SampleRatioBounds", testSampleRatioBounds)
	t.Run("test ReadBounds", testReadBounds)
	t.Run("test Decode", testDecode)
	t.Run("test DecodePixelFormats", testDecodePixelFormats)
	t.Run("test DecodeSampled", testDecodeSampled)
	t.Run("test DecodeSampledSmallSource", testDecodeSampledSmallSource)
	t.Run("test DecodeCorrupt", testDecodeCorrupt)
	t.Run("test SizeBytes", testSizeBytes)
}

func testSampleRatio(t *testing.T) {
	ratio := SampleRatio(4000, 2000, 400, 400)
	require.GreaterOrEqual(t, ratio, 1)

	assert.GreaterOrEqual(t, 4000/ratio, 400)
	assert.GreaterOrEqual(t, 2000/ratio, 400)
}

func testSampleRatioBounds(t *testing.T) {
	// a source within the requested box is not downsampled
	assert.Equal(t, 1, SampleRatio(100, 100, 400, 400))

	// a non-positive request means show original
	assert.Equal(t, 1, SampleRatio(4000, 2000, 0, 0))
	assert.Equal(t, 1, SampleRatio(4000, 2000, -1, 400))

	// extreme aspect ratios are downsampled further to cap the pixel count
	ratio := SampleRatio(10000, 500, 400, 400)
	assert.GreaterOrEqual(t, ratio, 1)
	assert.LessOrEqual(t, float64(10000*500)/float64(ratio*ratio), float64(400*400*2))
}

func testReadBounds(t *testing.T) {
	payload := makePNG(t, 320, 240)

	width, height, err := ReadBounds(bytes.NewReader(payload))
	assert.NoError(t, err)
	assert.Equal(t, 320, width)
	assert.Equal(t, 240, height)
}

func testDecode(t *testing.T) {
	payload := makePNG(t, 320, 240)

	img, err := Decode(bytes.NewReader(payload), PixelFormatRGBA)
	require.NoError(t, err)
	require.NotNil(t, img)

	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 240, img.Bounds().Dy())
	assert.IsType(t, &image.RGBA{}, img)
}

func testDecodePixelFormats(t *testing.T) {
	payload := makePNG(t, 16, 16)

	img, err := Decode(bytes.NewReader(payload), PixelFormatNRGBA)
	require.NoError(t, err)
	assert.IsType(t, &image.NRGBA{}, img)

	img, err = Decode(bytes.NewReader(payload), PixelFormatGray)
	require.NoError(t, err)
	assert.IsType(t, &image.Gray{}, img)
}

func testDecodeSampled(t *testing.T) {
	payload := makePNG(t, 800, 600)

	img, err := DecodeSampled(bytes.NewReader(payload), 200, 150, PixelFormatRGBA)
	require.NoError(t, err)
	require.NotNil(t, img)

	// downsampled but never below the requested box
	assert.Less(t, img.Bounds().Dx(), 800)
	assert.Less(t, img.Bounds().Dy(), 600)
	assert.GreaterOrEqual(t, img.Bounds().Dx(), 200)
	assert.GreaterOrEqual(t, img.Bounds().Dy(), 150)
}

func testDecodeSampledSmallSource(t *testing.T) {
	payload := makePNG(t, 100, 80)

	img, err := DecodeSampled(bytes.NewReader(payload), 400, 400, PixelFormatRGBA)
	require.NoError(t, err)

	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 80, img.Bounds().Dy())
}

func testDecodeCorrupt(t *testing.T) {
	payload := []byte("this is not an image at all")

	_, err := Decode(bytes.NewReader(payload), PixelFormatRGBA)
	assert.Error(t, err)

	_, err = DecodeSampled(bytes.NewReader(payload), 100, 100, PixelFormatRGBA)
	assert.Error(t, err)

	_, _, err = ReadBounds(bytes.NewReader(payload))
	assert.Error(t, err)
}

func testSizeBytes(t *testing.T) {
	rgba := image.NewRGBA(image.Rect(0, 0, 10, 10))
	assert.Equal(t, int64(400), SizeBytes(rgba))

	gray := image.NewGray(image.Rect(0, 0, 10, 10))
	assert.Equal(t, int64(100), SizeBytes(gray))

	assert.Equal(t, int64(0), SizeBytes(nil))
}
