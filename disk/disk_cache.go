package disk

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lrucache "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/mediacache/imagecache-common/utils"
)

// ErrBusy is returned by BeginEdit when another edit for the same
// identifier is in flight
var ErrBusy = errors.New("another edit is in progress for the identifier")

// ErrClosed is returned by operations on a closed disk cache
var ErrClosed = errors.New("disk cache is closed")

const (
	// SlotsPerEntry is the number of blob slots per record
	SlotsPerEntry = 1

	dataFileSuffix = ".0"
	metaFileSuffix = ".meta"
	tempInfix      = ".tmp."

	// the LRU index caps entry count, not bytes; quantize the byte cap
	// into an entry cap the way a fixed entry size would
	entrySizeQuantum  = 8 * 1024
	minEntryNumberCap = 64
)

// entryMetadata is the persisted sidecar record for one cache entry
type entryMetadata struct {
	Identifier string `json:"identifier"`
	Size       int64  `json:"size"`
	ExpiresAt  int64  `json:"expires_at"`
	CreatedAt  int64  `json:"created_at"`
}

// diskEntry is the in-memory index record for one committed entry
type diskEntry struct {
	identifier string
	fileName   string
	size       int64
	expiresAt  int64
}

// DiskCache is a capacity-bounded persistent key to blob store with LRU
// eviction and expiry metadata. Reads go through snapshots, writes through
// editors that publish atomically on commit.
type DiskCache struct {
	rootPath      string
	maxSize       int64
	totalSize     int64
	nameGenerator FileNameGenerator
	index         *lrucache.Cache
	edits         map[string]bool
	closed        bool
	mutex         sync.Mutex
}

// OpenDiskCache opens a disk cache at rootPath, creating the directory and
// rebuilding the index from the records already on disk. Records are
// evicted least-recently-used first once the total size exceeds maxSize.
func OpenDiskCache(rootPath string, maxSize int64, nameGenerator FileNameGenerator) (*DiskCache, error) {
	if maxSize <= 0 {
		return nil, xerrors.Errorf("invalid disk cache size %d", maxSize)
	}

	if nameGenerator == nil {
		nameGenerator = &SHA1FileNameGenerator{}
	}

	err := os.MkdirAll(rootPath, 0766)
	if err != nil {
		return nil, xerrors.Errorf("failed to make dir %s: %w", rootPath, err)
	}

	entryNumberCap := int(maxSize / entrySizeQuantum)
	if entryNumberCap < minEntryNumberCap {
		entryNumberCap = minEntryNumberCap
	}

	diskCache := &DiskCache{
		rootPath:      rootPath,
		maxSize:       maxSize,
		nameGenerator: nameGenerator,
		edits:         map[string]bool{},
	}

	lruCache, err := lrucache.NewWithEvict(entryNumberCap, diskCache.onEvicted)
	if err != nil {
		return nil, xerrors.Errorf("failed to create LRU index: %w", err)
	}

	diskCache.index = lruCache

	err = diskCache.loadEntries()
	if err != nil {
		return nil, err
	}

	diskCache.mutex.Lock()
	diskCache.trim()
	diskCache.mutex.Unlock()

	return diskCache, nil
}

// GetSnapshot returns a read snapshot of the record for the identifier, or
// nil when no live record exists. Expired records are removed and reported
// absent. The caller must Release the snapshot.
func (cache *DiskCache) GetSnapshot(identifier string) (*Snapshot, error) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	if cache.closed {
		return nil, ErrClosed
	}

	value, ok := cache.index.Get(identifier)
	if !ok {
		return nil, nil
	}

	entry := value.(*diskEntry)
	if utils.IsExpired(entry.expiresAt) {
		cache.index.Remove(identifier)
		return nil, nil
	}

	file, err := os.Open(cache.dataPath(entry.fileName))
	if err != nil {
		cache.index.Remove(identifier)
		return nil, xerrors.Errorf("failed to open cache file for %s: %w", identifier, err)
	}

	return &Snapshot{
		file:      file,
		expiresAt: entry.expiresAt,
	}, nil
}

// BeginEdit opens an exclusive write edit for the identifier. It fails fast
// with ErrBusy when another edit for the same identifier is in flight.
func (cache *DiskCache) BeginEdit(identifier string) (*Editor, error) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	if cache.closed {
		return nil, ErrClosed
	}

	if cache.edits[identifier] {
		return nil, ErrBusy
	}

	cache.edits[identifier] = true

	return newEditor(cache, identifier, cache.nameGenerator.Generate(identifier)), nil
}

// Remove removes the record for the identifier and its files
func (cache *DiskCache) Remove(identifier string) error {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	if cache.closed {
		return ErrClosed
	}

	cache.index.Remove(identifier)
	return nil
}

// Delete wipes all records and the underlying storage, leaving the cache closed
func (cache *DiskCache) Delete() error {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	if cache.closed {
		return ErrClosed
	}

	cache.closed = true
	cache.index.Purge()

	err := os.RemoveAll(cache.rootPath)
	if err != nil {
		return xerrors.Errorf("failed to remove cache dir %s: %w", cache.rootPath, err)
	}

	return nil
}

// Flush durably persists the record metadata by syncing the cache directory
func (cache *DiskCache) Flush() error {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	if cache.closed {
		return ErrClosed
	}

	return cache.syncDir()
}

// Close closes the cache. Open snapshots stay readable.
func (cache *DiskCache) Close() error {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	if cache.closed {
		return nil
	}

	err := cache.syncDir()
	cache.closed = true
	return err
}

// IsClosed checks if the cache is closed
func (cache *DiskCache) IsClosed() bool {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	return cache.closed
}

// GetCacheFile returns the path of the blob file in the given slot for the
// identifier, or empty when no record exists
func (cache *DiskCache) GetCacheFile(identifier string, slot int) string {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	if cache.closed || slot != 0 {
		return ""
	}

	value, ok := cache.index.Peek(identifier)
	if !ok {
		return ""
	}

	entry := value.(*diskEntry)
	return cache.dataPath(entry.fileName)
}

// GetExpiryTimestamp returns the expiry of the record for the identifier in
// epoch milliseconds and whether a record exists
func (cache *DiskCache) GetExpiryTimestamp(identifier string) (int64, bool) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	if cache.closed {
		return 0, false
	}

	value, ok := cache.index.Peek(identifier)
	if !ok {
		return 0, false
	}

	entry := value.(*diskEntry)
	return entry.expiresAt, true
}

// SetMaxSize updates the size cap, evicting records if the cache no longer fits
func (cache *DiskCache) SetMaxSize(maxSize int64) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	if cache.closed {
		return
	}

	cache.maxSize = maxSize
	cache.trim()
}

// Size returns the total size of committed records in bytes
func (cache *DiskCache) Size() int64 {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	return cache.totalSize
}

// MaxSize returns the size cap in bytes
func (cache *DiskCache) MaxSize() int64 {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	return cache.maxSize
}

// Len returns the number of committed records
func (cache *DiskCache) Len() int {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	return cache.index.Len()
}

// GetRootPath returns the root directory of the cache
func (cache *DiskCache) GetRootPath() string {
	return cache.rootPath
}

// commitEdit publishes an editor's written bytes. The data file is renamed
// into place first; renaming the metadata file is the commit point.
func (cache *DiskCache) commitEdit(editor *Editor, size int64) error {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	defer delete(cache.edits, editor.identifier)

	dataPath := cache.dataPath(editor.fileName)
	tempDataPath := dataPath + editor.tempSuffix

	if cache.closed {
		os.Remove(tempDataPath)
		return ErrClosed
	}

	err := os.Rename(tempDataPath, dataPath)
	if err != nil {
		os.Remove(tempDataPath)
		return xerrors.Errorf("failed to publish cache file for %s: %w", editor.identifier, err)
	}

	metadata := entryMetadata{
		Identifier: editor.identifier,
		Size:       size,
		ExpiresAt:  editor.expiresAt,
		CreatedAt:  utils.NowMilliseconds(),
	}

	err = cache.writeMetadata(editor.fileName, editor.tempSuffix, &metadata)
	if err != nil {
		// the new blob already replaced the old one; drop the record entirely
		cache.index.Remove(editor.identifier)
		os.Remove(dataPath)
		return err
	}

	if value, ok := cache.index.Peek(editor.identifier); ok {
		// replacing a record reuses its files; only the accounting changes
		previous := value.(*diskEntry)
		cache.totalSize -= previous.size
	}

	entry := &diskEntry{
		identifier: editor.identifier,
		fileName:   editor.fileName,
		size:       size,
		expiresAt:  editor.expiresAt,
	}

	cache.index.Add(editor.identifier, entry)
	cache.totalSize += size

	cache.trim()
	return nil
}

// abortEdit discards an editor's partial writes, leaving any prior record untouched
func (cache *DiskCache) abortEdit(editor *Editor) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	delete(cache.edits, editor.identifier)

	os.Remove(cache.dataPath(editor.fileName) + editor.tempSuffix)
	os.Remove(cache.metaPath(editor.fileName) + editor.tempSuffix)
}

func (cache *DiskCache) writeMetadata(fileName string, tempSuffix string, metadata *entryMetadata) error {
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return xerrors.Errorf("failed to encode metadata for %s: %w", metadata.Identifier, err)
	}

	metaPath := cache.metaPath(fileName)
	tempMetaPath := metaPath + tempSuffix

	err = os.WriteFile(tempMetaPath, encoded, 0666)
	if err != nil {
		return xerrors.Errorf("failed to write metadata for %s: %w", metadata.Identifier, err)
	}

	err = os.Rename(tempMetaPath, metaPath)
	if err != nil {
		os.Remove(tempMetaPath)
		return xerrors.Errorf("failed to publish metadata for %s: %w", metadata.Identifier, err)
	}

	return nil
}

// loadEntries rebuilds the index from the sidecar metadata files on disk,
// oldest first so the LRU order approximates the order before the restart
func (cache *DiskCache) loadEntries() error {
	logger := log.WithFields(log.Fields{
		"package":  "disk",
		"struct":   "DiskCache",
		"function": "loadEntries",
	})

	dirEntries, err := os.ReadDir(cache.rootPath)
	if err != nil {
		return xerrors.Errorf("failed to read cache dir %s: %w", cache.rootPath, err)
	}

	type metaFile struct {
		path    string
		modTime int64
	}

	metaFiles := []metaFile{}
	for _, dirEntry := range dirEntries {
		name := dirEntry.Name()

		if strings.Contains(name, tempInfix) {
			// leftover from an interrupted edit
			os.Remove(filepath.Join(cache.rootPath, name))
			continue
		}

		if !strings.HasSuffix(name, metaFileSuffix) {
			continue
		}

		info, err := dirEntry.Info()
		if err != nil {
			continue
		}

		metaFiles = append(metaFiles, metaFile{
			path:    filepath.Join(cache.rootPath, name),
			modTime: info.ModTime().UnixMilli(),
		})
	}

	sort.Slice(metaFiles, func(i int, j int) bool {
		return metaFiles[i].modTime < metaFiles[j].modTime
	})

	for _, meta := range metaFiles {
		encoded, err := os.ReadFile(meta.path)
		if err != nil {
			logger.WithError(err).Errorf("failed to read metadata file %s", meta.path)
			continue
		}

		metadata := entryMetadata{}
		err = json.Unmarshal(encoded, &metadata)
		if err != nil {
			logger.WithError(err).Errorf("failed to decode metadata file %s", meta.path)
			os.Remove(meta.path)
			continue
		}

		fileName := strings.TrimSuffix(filepath.Base(meta.path), metaFileSuffix)

		info, err := os.Stat(cache.dataPath(fileName))
		if err != nil || info.Size() != metadata.Size {
			// metadata without a matching blob is unusable
			os.Remove(meta.path)
			os.Remove(cache.dataPath(fileName))
			continue
		}

		entry := &diskEntry{
			identifier: metadata.Identifier,
			fileName:   fileName,
			size:       metadata.Size,
			expiresAt:  metadata.ExpiresAt,
		}

		cache.index.Add(metadata.Identifier, entry)
		cache.totalSize += metadata.Size
	}

	return nil
}

func (cache *DiskCache) onEvicted(key interface{}, value interface{}) {
	if entry, ok := value.(*diskEntry); ok {
		cache.totalSize -= entry.size

		os.Remove(cache.dataPath(entry.fileName))
		os.Remove(cache.metaPath(entry.fileName))
	}
}

// trim evicts records least-recently-used first until the total size fits
// the cap. Callers must hold the mutex.
func (cache *DiskCache) trim() {
	for cache.totalSize > cache.maxSize {
		_, _, ok := cache.index.RemoveOldest()
		if !ok {
			return
		}
	}
}

func (cache *DiskCache) syncDir() error {
	dir, err := os.Open(cache.rootPath)
	if err != nil {
		return xerrors.Errorf("failed to open cache dir %s: %w", cache.rootPath, err)
	}
	defer dir.Close()

	err = dir.Sync()
	if err != nil {
		return xerrors.Errorf("failed to sync cache dir %s: %w", cache.rootPath, err)
	}

	return nil
}

func (cache *DiskCache) dataPath(fileName string) string {
	return filepath.Join(cache.rootPath, fileName+dataFileSuffix)
}

func (cache *DiskCache) metaPath(fileName string) string {
	return filepath.Join(cache.rootPath, fileName+metaFileSuffix)
}
