// Package imagecache coordinates a memory LRU tier and a persistent disk
// tier of decoded images, fetching from a Downloader on miss.
package imagecache

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/mediacache/imagecache-common/cache"
	"github.com/mediacache/imagecache-common/decode"
	"github.com/mediacache/imagecache-common/disk"
	"github.com/mediacache/imagecache-common/metrics"
	"github.com/mediacache/imagecache-common/utils"
)

const diskCacheSlot = 0

// Cache is the two-tier image cache. Lookups probe the memory tier, then
// the disk tier, then fetch from the Downloader; decoded images are
// normalized for orientation and promoted into the memory tier.
//
// Disk reads and fetches suspend until InitDiskCache has run. InitDiskCache
// performs blocking filesystem I/O and should run off any latency-sensitive
// context.
type Cache struct {
	config *Config

	memoryCache *cache.MemoryCache

	diskCache *disk.DiskCache
	diskReady bool
	diskMutex sync.Mutex
	diskCond  *sync.Cond

	metrics metrics.Collector
}

// NewCache creates a new Cache from the given config.
// Call InitMemoryCache and InitDiskCache before use.
func NewCache(config *Config) (*Cache, error) {
	err := config.Validate()
	if err != nil {
		return nil, err
	}

	imageCache := &Cache{
		config:  config,
		metrics: config.Metrics,
	}

	if imageCache.metrics == nil {
		imageCache.metrics = metrics.NewNilCollector()
	}

	imageCache.diskCond = sync.NewCond(&imageCache.diskMutex)
	return imageCache, nil
}

// InitMemoryCache (re)creates the memory tier sized from config, clearing
// any prior tier first. A no-op when memory caching is disabled.
func (imageCache *Cache) InitMemoryCache() {
	if !imageCache.config.MemoryCacheEnabled {
		return
	}

	if imageCache.memoryCache != nil {
		imageCache.memoryCache.Purge()
	}

	// weigh entries by the decoded pixel buffer, not per entry
	imageCache.memoryCache = cache.NewMemoryCache(imageCache.config.MemoryCacheSize, func(key cache.Key, value interface{}) int64 {
		if img, ok := value.(image.Image); ok {
			return decode.SizeBytes(img)
		}
		return 1
	})
}

// InitDiskCache opens the disk tier, clamping its capacity to the space
// available on the cache filesystem. An open failure leaves the tier
// disabled, but readiness waiters are released either way so disk lookups
// degrade to misses instead of blocking. A no-op when disk caching is
// disabled.
func (imageCache *Cache) InitDiskCache() {
	if !imageCache.config.DiskCacheEnabled {
		return
	}

	logger := log.WithFields(log.Fields{
		"package":  "imagecache",
		"struct":   "Cache",
		"function": "InitDiskCache",
	})

	imageCache.diskMutex.Lock()
	defer imageCache.diskMutex.Unlock()

	if imageCache.diskCache == nil || imageCache.diskCache.IsClosed() {
		diskCachePath := imageCache.config.DiskCachePath

		err := os.MkdirAll(diskCachePath, 0766)
		if err != nil {
			logger.WithError(err).Errorf("failed to make disk cache dir %s", diskCachePath)
		} else {
			diskCacheSize := imageCache.config.DiskCacheSize

			availableSpace, err := utils.GetAvailableSpace(diskCachePath)
			if err != nil {
				logger.WithError(err).Errorf("failed to check available space for %s", diskCachePath)
			} else if availableSpace < diskCacheSize {
				diskCacheSize = availableSpace
			}

			diskCache, err := disk.OpenDiskCache(diskCachePath, diskCacheSize, imageCache.config.FileNameGenerator)
			if err != nil {
				logger.WithError(err).Errorf("failed to open disk cache at %s", diskCachePath)
			} else {
				imageCache.diskCache = diskCache
			}
		}
	}

	imageCache.diskReady = true
	imageCache.diskCond.Broadcast()
}

// GetFromMemory returns the image cached in the memory tier for the
// identifier and display variant, or nil on a miss. A nil display config
// matches any variant of the identifier.
func (imageCache *Cache) GetFromMemory(identifier string, display *DisplayConfig) image.Image {
	if identifier == "" || !imageCache.config.MemoryCacheEnabled || imageCache.memoryCache == nil {
		return nil
	}

	value, ok := imageCache.memoryCache.Get(makeKey(identifier, display))
	if !ok {
		imageCache.metrics.RecordMiss(metrics.TierMemory)
		return nil
	}

	img, ok := value.(image.Image)
	if !ok {
		return nil
	}

	imageCache.metrics.RecordHit(metrics.TierMemory)
	return img
}

// GetFromDisk returns the image decoded from the disk tier record for the
// identifier, promoting it into the memory tier with the record's expiry.
// It suspends until InitDiskCache has run. Decode and I/O failures yield
// nil; a record that cannot be decoded is removed so the next request
// re-fetches it.
func (imageCache *Cache) GetFromDisk(identifier string, display *DisplayConfig) image.Image {
	if identifier == "" || !imageCache.config.DiskCacheEnabled {
		return nil
	}

	logger := log.WithFields(log.Fields{
		"package":  "imagecache",
		"struct":   "Cache",
		"function": "GetFromDisk",
	})

	imageCache.diskMutex.Lock()
	imageCache.waitDiskReady()
	diskCache := imageCache.diskCache
	imageCache.diskMutex.Unlock()

	if diskCache == nil || diskCache.IsClosed() {
		return nil
	}

	snapshot, err := diskCache.GetSnapshot(identifier)
	if err != nil {
		logger.WithError(err).Errorf("failed to read disk cache record for %s", identifier)
		imageCache.metrics.RecordMiss(metrics.TierDisk)
		return nil
	}

	if snapshot == nil {
		imageCache.metrics.RecordMiss(metrics.TierDisk)
		return nil
	}
	defer snapshot.Release()

	// decode outside the disk lock, it is CPU bound
	img := imageCache.decodeSnapshot(identifier, display, snapshot)
	if img == nil {
		imageCache.removeDiskRecord(identifier)
		imageCache.metrics.RecordMiss(metrics.TierDisk)
		return nil
	}

	imageCache.metrics.RecordHit(metrics.TierDisk)

	img = imageCache.normalizeOrientation(identifier, display, img)
	imageCache.putMemory(identifier, display, img, snapshot.ExpiryTimestamp())
	return img
}

// FetchAndCache downloads the identifier into the disk tier and returns the
// decoded image, promoting it into the memory tier. At most one fetch per
// identifier is in flight at a time: a concurrent attempt observes the busy
// edit and yields nil without retrying, leaving the retry decision to the
// caller. When the disk tier is disabled or unavailable the payload is
// fetched into a transient in-memory buffer instead and nothing is
// persisted. ctx cancels the fetch; a cancelled fetch aborts the disk edit
// without committing partial data.
func (imageCache *Cache) FetchAndCache(ctx context.Context, identifier string, display *DisplayConfig) image.Image {
	if identifier == "" || imageCache.config.Downloader == nil {
		return nil
	}

	if imageCache.config.DiskCacheEnabled {
		img, diskAvailable := imageCache.fetchThroughDisk(ctx, identifier, display)
		if diskAvailable {
			return img
		}
	}

	return imageCache.fetchToMemory(ctx, identifier, display)
}

// GetCacheFile returns the path of the persisted blob for the identifier,
// or empty when the disk tier has no record for it
func (imageCache *Cache) GetCacheFile(identifier string) string {
	imageCache.diskMutex.Lock()
	diskCache := imageCache.diskCache
	imageCache.diskMutex.Unlock()

	if diskCache == nil || diskCache.IsClosed() {
		return ""
	}

	return diskCache.GetCacheFile(identifier, diskCacheSlot)
}

// GetDiskExpiryTimestamp returns the expiry of the disk record for the
// identifier in epoch milliseconds and whether a record exists
func (imageCache *Cache) GetDiskExpiryTimestamp(identifier string) (int64, bool) {
	imageCache.diskMutex.Lock()
	diskCache := imageCache.diskCache
	imageCache.diskMutex.Unlock()

	if diskCache == nil || diskCache.IsClosed() {
		return 0, false
	}

	return diskCache.GetExpiryTimestamp(identifier)
}

// SetMemoryCacheSize updates the memory tier size cap
func (imageCache *Cache) SetMemoryCacheSize(maxSize int64) {
	if imageCache.memoryCache != nil {
		imageCache.memoryCache.SetMaxSize(maxSize)
	}
}

// SetDiskCacheSize updates the disk tier size cap
func (imageCache *Cache) SetDiskCacheSize(maxSize int64) {
	imageCache.diskMutex.Lock()
	diskCache := imageCache.diskCache
	imageCache.diskMutex.Unlock()

	if diskCache != nil && !diskCache.IsClosed() {
		diskCache.SetMaxSize(maxSize)
	}
}

// ClearCache clears both tiers
func (imageCache *Cache) ClearCache() {
	imageCache.ClearMemoryCache()
	imageCache.ClearDiskCache()
}

// ClearMemoryCache drops all memory tier entries
func (imageCache *Cache) ClearMemoryCache() {
	if imageCache.memoryCache != nil {
		imageCache.memoryCache.Purge()
	}
}

// ClearDiskCache deletes the disk tier and its storage, then reopens it
func (imageCache *Cache) ClearDiskCache() {
	logger := log.WithFields(log.Fields{
		"package":  "imagecache",
		"struct":   "Cache",
		"function": "ClearDiskCache",
	})

	imageCache.diskMutex.Lock()
	if imageCache.diskCache != nil && !imageCache.diskCache.IsClosed() {
		err := imageCache.diskCache.Delete()
		if err != nil {
			logger.WithError(err).Error("failed to delete disk cache")
		}

		imageCache.diskCache = nil
		imageCache.diskReady = false
	}
	imageCache.diskMutex.Unlock()

	imageCache.InitDiskCache()
}

// ClearCacheFor removes every cached copy of the identifier from both tiers
func (imageCache *Cache) ClearCacheFor(identifier string) {
	imageCache.ClearMemoryCacheFor(identifier)
	imageCache.ClearDiskCacheFor(identifier)
}

// ClearMemoryCacheFor removes all memory tier entries for the identifier
// regardless of variant
func (imageCache *Cache) ClearMemoryCacheFor(identifier string) {
	if imageCache.memoryCache != nil {
		imageCache.memoryCache.RemoveIdentifier(identifier)
	}
}

// ClearDiskCacheFor removes the disk tier record for the identifier
func (imageCache *Cache) ClearDiskCacheFor(identifier string) {
	logger := log.WithFields(log.Fields{
		"package":  "imagecache",
		"struct":   "Cache",
		"function": "ClearDiskCacheFor",
	})

	imageCache.diskMutex.Lock()
	diskCache := imageCache.diskCache
	imageCache.diskMutex.Unlock()

	if diskCache != nil && !diskCache.IsClosed() {
		err := diskCache.Remove(identifier)
		if err != nil {
			logger.WithError(err).Errorf("failed to remove disk cache record for %s", identifier)
		}
	}
}

// Flush durably persists the disk tier
func (imageCache *Cache) Flush() {
	logger := log.WithFields(log.Fields{
		"package":  "imagecache",
		"struct":   "Cache",
		"function": "Flush",
	})

	imageCache.diskMutex.Lock()
	diskCache := imageCache.diskCache
	imageCache.diskMutex.Unlock()

	if diskCache != nil && !diskCache.IsClosed() {
		err := diskCache.Flush()
		if err != nil {
			logger.WithError(err).Error("failed to flush disk cache")
		}
	}
}

// Close closes the disk tier
func (imageCache *Cache) Close() {
	logger := log.WithFields(log.Fields{
		"package":  "imagecache",
		"struct":   "Cache",
		"function": "Close",
	})

	imageCache.diskMutex.Lock()
	defer imageCache.diskMutex.Unlock()

	if imageCache.diskCache != nil {
		if !imageCache.diskCache.IsClosed() {
			err := imageCache.diskCache.Close()
			if err != nil {
				logger.WithError(err).Error("failed to close disk cache")
			}
		}

		imageCache.diskCache = nil
	}
}

// waitDiskReady suspends until InitDiskCache signals readiness.
// Callers must hold the disk mutex.
func (imageCache *Cache) waitDiskReady() {
	for !imageCache.diskReady {
		imageCache.diskCond.Wait()
	}
}

// fetchThroughDisk populates the disk tier and decodes from it. The second
// return value reports whether the disk tier was usable; when false the
// caller falls back to a transient in-memory fetch.
func (imageCache *Cache) fetchThroughDisk(ctx context.Context, identifier string, display *DisplayConfig) (image.Image, bool) {
	logger := log.WithFields(log.Fields{
		"package":  "imagecache",
		"struct":   "Cache",
		"function": "fetchThroughDisk",
	})

	imageCache.diskMutex.Lock()
	imageCache.waitDiskReady()
	diskCache := imageCache.diskCache
	imageCache.diskMutex.Unlock()

	if diskCache == nil || diskCache.IsClosed() {
		return nil, false
	}

	snapshot, expiresAt, err := imageCache.populateDisk(ctx, diskCache, identifier)
	if err != nil {
		if errors.Is(err, disk.ErrBusy) {
			logger.Debugf("fetch for %s is already in progress", identifier)
			imageCache.metrics.RecordFetch(metrics.FetchOutcomeBusy, 0, 0)
		} else if errors.Is(err, disk.ErrClosed) {
			// the tier went away mid-request, use the transient path
			return nil, false
		} else {
			logger.WithError(err).Errorf("failed to populate disk cache for %s", identifier)
		}
		return nil, true
	}
	defer snapshot.Release()

	// decode outside the disk lock, it is CPU bound
	img := imageCache.decodeSnapshot(identifier, display, snapshot)
	if img == nil {
		imageCache.removeDiskRecord(identifier)
		return nil, true
	}

	img = imageCache.normalizeOrientation(identifier, display, img)
	imageCache.putMemory(identifier, display, img, expiresAt)
	return img, true
}

// populateDisk returns a snapshot for the identifier, fetching and
// committing the payload first when no record exists
func (imageCache *Cache) populateDisk(ctx context.Context, diskCache *disk.DiskCache, identifier string) (*disk.Snapshot, int64, error) {
	snapshot, err := diskCache.GetSnapshot(identifier)
	if err != nil {
		return nil, 0, err
	}

	if snapshot != nil {
		return snapshot, snapshot.ExpiryTimestamp(), nil
	}

	editor, err := diskCache.BeginEdit(identifier)
	if err != nil {
		return nil, 0, err
	}

	expiresAt, err := imageCache.downloadToEditor(ctx, identifier, editor)
	if err != nil {
		editor.Abort()
		return nil, 0, err
	}

	editor.SetEntryExpiryTimestamp(expiresAt)

	err = editor.Commit()
	if err != nil {
		return nil, 0, err
	}

	snapshot, err = diskCache.GetSnapshot(identifier)
	if err != nil {
		return nil, 0, err
	}

	if snapshot == nil {
		return nil, 0, xerrors.Errorf("record for %s disappeared after commit", identifier)
	}

	return snapshot, expiresAt, nil
}

// downloadToEditor streams the payload into the editor's sink and returns
// the expiry the downloader reported. The sink is closed by the editor's
// Commit or Abort.
func (imageCache *Cache) downloadToEditor(ctx context.Context, identifier string, editor *disk.Editor) (int64, error) {
	output, err := editor.NewOutputStream(diskCacheSlot)
	if err != nil {
		return 0, err
	}

	counting := &countingWriter{writer: output}

	started := time.Now()
	expiresAt, err := imageCache.config.Downloader.DownloadToStream(ctx, identifier, counting)
	duration := time.Since(started).Seconds()

	if err != nil {
		imageCache.metrics.RecordFetch(metrics.FetchOutcomeFailed, duration, counting.count)
		return 0, xerrors.Errorf("failed to download %s: %w", identifier, err)
	}

	if expiresAt < 0 {
		imageCache.metrics.RecordFetch(metrics.FetchOutcomeFailed, duration, counting.count)
		return 0, xerrors.Errorf("download of %s signaled failure", identifier)
	}

	imageCache.metrics.RecordFetch(metrics.FetchOutcomeSucceeded, duration, counting.count)
	return expiresAt, nil
}

// fetchToMemory fetches the payload into a transient buffer and decodes it
// there, bypassing the disk tier
func (imageCache *Cache) fetchToMemory(ctx context.Context, identifier string, display *DisplayConfig) image.Image {
	logger := log.WithFields(log.Fields{
		"package":  "imagecache",
		"struct":   "Cache",
		"function": "fetchToMemory",
	})

	buffer := &bytes.Buffer{}
	counting := &countingWriter{writer: buffer}

	started := time.Now()
	expiresAt, err := imageCache.config.Downloader.DownloadToStream(ctx, identifier, counting)
	duration := time.Since(started).Seconds()

	if err != nil || expiresAt < 0 {
		imageCache.metrics.RecordFetch(metrics.FetchOutcomeFailed, duration, counting.count)
		if err != nil {
			logger.WithError(err).Errorf("failed to download %s", identifier)
		}
		return nil
	}

	imageCache.metrics.RecordFetch(metrics.FetchOutcomeSucceeded, duration, counting.count)

	reader := bytes.NewReader(buffer.Bytes())

	var img image.Image
	if display.showOriginal() {
		img, err = decode.Decode(reader, display.pixelFormat())
	} else {
		img, err = decode.DecodeSampled(reader, display.MaxWidth, display.MaxHeight, display.pixelFormat())
	}

	if err != nil {
		logger.WithError(err).Errorf("failed to decode downloaded image %s", identifier)
		return nil
	}

	img = imageCache.normalizeOrientation(identifier, display, img)
	imageCache.putMemory(identifier, display, img, expiresAt)
	return img
}

// decodeSnapshot decodes the snapshot per the display config, full size or
// sampled to the display's bounding box. Failures yield nil.
func (imageCache *Cache) decodeSnapshot(identifier string, display *DisplayConfig, snapshot *disk.Snapshot) image.Image {
	logger := log.WithFields(log.Fields{
		"package":  "imagecache",
		"struct":   "Cache",
		"function": "decodeSnapshot",
	})

	reader, err := snapshot.Reader(diskCacheSlot)
	if err != nil {
		logger.WithError(err).Errorf("failed to read snapshot for %s", identifier)
		return nil
	}

	var img image.Image
	if display.showOriginal() {
		img, err = decode.Decode(reader, display.pixelFormat())
	} else {
		img, err = decode.DecodeSampled(reader, display.MaxWidth, display.MaxHeight, display.pixelFormat())
	}

	if err != nil {
		logger.WithError(err).Errorf("failed to decode cached image %s", identifier)
		return nil
	}

	return img
}

// normalizeOrientation rotates the image per the EXIF metadata of its
// persisted blob when the display config asks for auto rotation
func (imageCache *Cache) normalizeOrientation(identifier string, display *DisplayConfig, img image.Image) image.Image {
	if !display.autoRotate() {
		return img
	}

	blobPath := imageCache.GetCacheFile(identifier)
	if blobPath == "" {
		return img
	}

	return decode.NormalizeOrientation(blobPath, img, true)
}

// removeDiskRecord evicts the record for the identifier so a later request
// re-fetches it instead of failing on the same bad blob
func (imageCache *Cache) removeDiskRecord(identifier string) {
	logger := log.WithFields(log.Fields{
		"package":  "imagecache",
		"struct":   "Cache",
		"function": "removeDiskRecord",
	})

	imageCache.diskMutex.Lock()
	diskCache := imageCache.diskCache
	imageCache.diskMutex.Unlock()

	if diskCache != nil && !diskCache.IsClosed() {
		err := diskCache.Remove(identifier)
		if err != nil {
			logger.WithError(err).Errorf("failed to remove undecodable record for %s", identifier)
		}
	}
}

// putMemory promotes a decoded image into the memory tier
func (imageCache *Cache) putMemory(identifier string, display *DisplayConfig, img image.Image, expiresAt int64) {
	if identifier == "" || img == nil {
		return
	}

	if !imageCache.config.MemoryCacheEnabled || imageCache.memoryCache == nil {
		return
	}

	imageCache.memoryCache.Put(makeKey(identifier, display), img, expiresAt)
}

// countingWriter counts the bytes passed through to the underlying writer
type countingWriter struct {
	writer io.Writer
	count  int64
}

func (counting *countingWriter) Write(data []byte) (int, error) {
	written, err := counting.writer.Write(data)
	counting.count += int64(written)
	return written, err
}
