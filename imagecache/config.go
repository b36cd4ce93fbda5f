package imagecache

import (
	"golang.org/x/xerrors"

	"github.com/mediacache/imagecache-common/disk"
	"github.com/mediacache/imagecache-common/metrics"
)

const (
	defaultMemoryCacheSize = 32 * 1024 * 1024
	defaultDiskCacheSize   = 50 * 1024 * 1024
)

// Config holds cache tier settings
type Config struct {
	MemoryCacheEnabled bool
	MemoryCacheSize    int64

	DiskCacheEnabled bool
	DiskCachePath    string
	DiskCacheSize    int64

	FileNameGenerator disk.FileNameGenerator
	Downloader        Downloader
	Metrics           metrics.Collector
}

// NewDefaultConfig creates a Config with both tiers enabled and default sizes
func NewDefaultConfig(diskCachePath string, downloader Downloader) *Config {
	return &Config{
		MemoryCacheEnabled: true,
		MemoryCacheSize:    defaultMemoryCacheSize,

		DiskCacheEnabled: true,
		DiskCachePath:    diskCachePath,
		DiskCacheSize:    defaultDiskCacheSize,

		FileNameGenerator: &disk.SHA1FileNameGenerator{},
		Downloader:        downloader,
		Metrics:           metrics.NewNilCollector(),
	}
}

// Validate checks if the config is valid
func (config *Config) Validate() error {
	if config == nil {
		return xerrors.Errorf("config is not given")
	}

	if config.MemoryCacheEnabled && config.MemoryCacheSize <= 0 {
		return xerrors.Errorf("invalid memory cache size %d", config.MemoryCacheSize)
	}

	if config.DiskCacheEnabled {
		if config.DiskCachePath == "" {
			return xerrors.Errorf("disk cache path is not given")
		}

		if config.DiskCacheSize <= 0 {
			return xerrors.Errorf("invalid disk cache size %d", config.DiskCacheSize)
		}
	}

	return nil
}
