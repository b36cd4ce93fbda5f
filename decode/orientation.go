package decode

import (
	"image"
	"os"

	"github.com/rwcarlsen/goexif/exif"
	log "github.com/sirupsen/logrus"
)

// EXIF orientation tag values for the pure rotations. Mirrored
// orientations are treated as not rotated.
const (
	orientationRotate180 = 3
	orientationRotate90  = 6
	orientationRotate270 = 8
)

// NormalizeOrientation returns the image rotated per the EXIF orientation
// tag of the persisted blob at blobPath. Unreadable metadata, unknown tags
// and mirrored orientations leave the image unchanged; rotation produces a
// new image and the input must no longer be used.
func NormalizeOrientation(blobPath string, img image.Image, autoRotate bool) image.Image {
	if !autoRotate || img == nil || blobPath == "" {
		return img
	}

	logger := log.WithFields(log.Fields{
		"package":  "decode",
		"function": "NormalizeOrientation",
	})

	file, err := os.Open(blobPath)
	if err != nil {
		logger.WithError(err).Debugf("failed to open blob %s for orientation metadata", blobPath)
		return img
	}
	defer file.Close()

	metadata, err := exif.Decode(file)
	if err != nil {
		logger.WithError(err).Debugf("failed to read orientation metadata from %s", blobPath)
		return img
	}

	tag, err := metadata.Get(exif.Orientation)
	if err != nil {
		return img
	}

	orientation, err := tag.Int(0)
	if err != nil {
		return img
	}

	angle := 0
	switch orientation {
	case orientationRotate90:
		angle = 90
	case orientationRotate180:
		angle = 180
	case orientationRotate270:
		angle = 270
	}

	if angle == 0 {
		return img
	}

	return Rotate(img, angle)
}

// Rotate returns a new image rotated clockwise by the given angle.
// Angles other than 90, 180 and 270 return the input unchanged.
func Rotate(img image.Image, angle int) image.Image {
	bounds := img.Bounds()

	var target *image.RGBA
	switch angle {
	case 90, 270:
		target = image.NewRGBA(image.Rect(0, 0, bounds.Dy(), bounds.Dx()))
	case 180:
		target = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	default:
		return img
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			column := x - bounds.Min.X
			row := y - bounds.Min.Y

			switch angle {
			case 90:
				target.Set(bounds.Dy()-1-row, column, img.At(x, y))
			case 180:
				target.Set(bounds.Dx()-1-column, bounds.Dy()-1-row, img.At(x, y))
			case 270:
				target.Set(row, bounds.Dx()-1-column, img.At(x, y))
			}
		}
	}

	return target
}
