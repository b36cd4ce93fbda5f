package imagecache

import (
	"fmt"

	"github.com/mediacache/imagecache-common/cache"
	"github.com/mediacache/imagecache-common/decode"
)

// DisplayConfig describes the decoding variant requested for display.
// Its string form is the variant component of memory cache keys.
// A nil DisplayConfig decodes the original at full size without rotation.
type DisplayConfig struct {
	MaxWidth     int
	MaxHeight    int
	Format       decode.PixelFormat
	ShowOriginal bool
	AutoRotate   bool
}

// String returns the variant key of the display config
func (config *DisplayConfig) String() string {
	return fmt.Sprintf("%d_%d_%s_%t_%t", config.MaxWidth, config.MaxHeight, config.Format, config.ShowOriginal, config.AutoRotate)
}

func (config *DisplayConfig) showOriginal() bool {
	if config == nil || config.ShowOriginal {
		return true
	}

	return config.MaxWidth <= 0 || config.MaxHeight <= 0
}

func (config *DisplayConfig) autoRotate() bool {
	return config != nil && config.AutoRotate
}

func (config *DisplayConfig) pixelFormat() decode.PixelFormat {
	if config == nil {
		return decode.PixelFormatRGBA
	}

	return config.Format
}

// makeKey returns the memory cache key for an identifier and display
// config. A nil config produces a key matching any variant.
func makeKey(identifier string, display *DisplayConfig) cache.Key {
	if display == nil {
		return cache.NewIdentifierKey(identifier)
	}

	return cache.NewKey(identifier, display.String())
}
