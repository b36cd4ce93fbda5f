// Package decode turns raw image payloads into display-ready objects,
// optionally downsampled to a bounding box, and normalizes their
// orientation from EXIF metadata.
package decode

import (
	"image"
	"io"
	"math"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/xerrors"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// PixelFormat selects the pixel storage of decoded images
type PixelFormat int

const (
	// PixelFormatRGBA stores premultiplied 8-bit RGBA, the default
	PixelFormatRGBA PixelFormat = iota
	// PixelFormatNRGBA stores non-premultiplied 8-bit RGBA
	PixelFormatNRGBA
	// PixelFormatGray stores 8-bit grayscale
	PixelFormatGray
)

// String returns the name of the pixel format
func (format PixelFormat) String() string {
	switch format {
	case PixelFormatNRGBA:
		return "nrgba"
	case PixelFormatGray:
		return "gray"
	default:
		return "rgba"
	}
}

// ReadBounds returns the dimensions of the encoded image without decoding
// its pixels
func ReadBounds(reader io.Reader) (int, int, error) {
	config, _, err := image.DecodeConfig(reader)
	if err != nil {
		return 0, 0, xerrors.Errorf("failed to read image bounds: %w", err)
	}

	return config.Width, config.Height, nil
}

// Decode decodes the whole image into the given pixel format
func Decode(reader io.Reader, format PixelFormat) (image.Image, error) {
	decoded, _, err := image.Decode(reader)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode image: %w", err)
	}

	return convert(decoded, format), nil
}

// DecodeSampled decodes the image downscaled by the integer sample ratio
// for the requested bounding box, keeping both dimensions at least as large
// as requested. The source must be seekable so the bounds can be probed
// before the pixel decode.
func DecodeSampled(reader io.ReadSeeker, reqWidth int, reqHeight int, format PixelFormat) (image.Image, error) {
	width, height, err := ReadBounds(reader)
	if err != nil {
		return nil, err
	}

	_, err = reader.Seek(0, io.SeekStart)
	if err != nil {
		return nil, xerrors.Errorf("failed to rewind image source: %w", err)
	}

	decoded, _, err := image.Decode(reader)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode image: %w", err)
	}

	ratio := SampleRatio(width, height, reqWidth, reqHeight)
	if ratio <= 1 {
		return convert(decoded, format), nil
	}

	sampledWidth := width / ratio
	if sampledWidth < 1 {
		sampledWidth = 1
	}

	sampledHeight := height / ratio
	if sampledHeight < 1 {
		sampledHeight = 1
	}

	target := newTarget(image.Rect(0, 0, sampledWidth, sampledHeight), format)
	xdraw.ApproxBiLinear.Scale(target, target.Bounds(), decoded, decoded.Bounds(), xdraw.Src, nil)
	return target, nil
}

// SampleRatio computes the integer downsample ratio for decoding an image
// of the given dimensions into the requested bounding box. The ratio is the
// smaller of the rounded per-axis ratios, so the result keeps both
// dimensions at least as large as requested; it is then raised until the
// decoded pixel count is within twice the requested pixel count, which
// bounds the decode of extreme aspect ratios. A non-positive request
// means no downsampling.
func SampleRatio(width int, height int, reqWidth int, reqHeight int) int {
	if reqWidth <= 0 || reqHeight <= 0 {
		return 1
	}

	ratio := 1
	if height > reqHeight || width > reqWidth {
		heightRatio := int(math.Round(float64(height) / float64(reqHeight)))
		widthRatio := int(math.Round(float64(width) / float64(reqWidth)))

		ratio = heightRatio
		if widthRatio < heightRatio {
			ratio = widthRatio
		}

		totalPixels := float64(width) * float64(height)
		pixelCap := float64(reqWidth) * float64(reqHeight) * 2

		for ratio > 0 && totalPixels/float64(ratio*ratio) > pixelCap {
			ratio++
		}
	}

	if ratio < 1 {
		ratio = 1
	}

	return ratio
}

// SizeBytes returns the memory footprint of the decoded pixel buffer
func SizeBytes(img image.Image) int64 {
	switch typed := img.(type) {
	case nil:
		return 0
	case *image.RGBA:
		return int64(typed.Stride) * int64(typed.Rect.Dy())
	case *image.NRGBA:
		return int64(typed.Stride) * int64(typed.Rect.Dy())
	case *image.Gray:
		return int64(typed.Stride) * int64(typed.Rect.Dy())
	case *image.Paletted:
		return int64(typed.Stride) * int64(typed.Rect.Dy())
	case *image.YCbCr:
		return int64(len(typed.Y) + len(typed.Cb) + len(typed.Cr))
	default:
		bounds := img.Bounds()
		return int64(bounds.Dx()) * int64(bounds.Dy()) * 4
	}
}

func convert(source image.Image, format PixelFormat) image.Image {
	switch format {
	case PixelFormatNRGBA:
		if _, ok := source.(*image.NRGBA); ok {
			return source
		}
	case PixelFormatGray:
		if _, ok := source.(*image.Gray); ok {
			return source
		}
	default:
		if _, ok := source.(*image.RGBA); ok {
			return source
		}
	}

	target := newTarget(source.Bounds(), format)
	xdraw.Draw(target, target.Bounds(), source, source.Bounds().Min, xdraw.Src)
	return target
}

func newTarget(bounds image.Rectangle, format PixelFormat) xdraw.Image {
	switch format {
	case PixelFormatNRGBA:
		return image.NewNRGBA(bounds)
	case PixelFormatGray:
		return image.NewGray(bounds)
	default:
		return image.NewRGBA(bounds)
	}
}
