package cache

import (
	"container/list"
	"sync"

	"github.com/mediacache/imagecache-common/utils"
)

// SizeFunc measures the weight of a cached value in bytes
type SizeFunc func(key Key, value interface{}) int64

// MemoryEntry is an entry in the memory cache
type MemoryEntry struct {
	key       Key
	value     interface{}
	size      int64
	expiresAt int64
}

// GetKey returns the key of the entry
func (entry *MemoryEntry) GetKey() Key {
	return entry.key
}

// GetValue returns the value of the entry
func (entry *MemoryEntry) GetValue() interface{} {
	return entry.value
}

// GetSize returns the weighted size of the entry
func (entry *MemoryEntry) GetSize() int64 {
	return entry.size
}

// GetExpiryTimestamp returns the expiry of the entry in epoch milliseconds,
// zero when the entry does not expire
func (entry *MemoryEntry) GetExpiryTimestamp() int64 {
	return entry.expiresAt
}

// MemoryCache is a size-weighted LRU cache of decoded objects.
// Entries are grouped by identifier and matched against lookup keys with
// Key.Matches, so variant-less keys operate on any variant of an identifier.
type MemoryCache struct {
	maxSize   int64
	totalSize int64
	sizeFunc  SizeFunc
	entries   map[string][]*list.Element // key = identifier
	order     *list.List                 // of *MemoryEntry, most recently used in front
	mutex     sync.Mutex
}

// NewMemoryCache creates a new MemoryCache bounded to maxSize.
// If sizeFunc is nil every entry weighs one unit.
func NewMemoryCache(maxSize int64, sizeFunc SizeFunc) *MemoryCache {
	if sizeFunc == nil {
		sizeFunc = func(key Key, value interface{}) int64 {
			return 1
		}
	}

	return &MemoryCache{
		maxSize:  maxSize,
		sizeFunc: sizeFunc,
		entries:  map[string][]*list.Element{},
		order:    list.New(),
	}
}

// Get returns the value cached for the given key, marking the entry as most
// recently used. Expired entries are dropped and reported as absent.
func (cache *MemoryCache) Get(key Key) (interface{}, bool) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	element := cache.find(key)
	if element == nil {
		return nil, false
	}

	entry := element.Value.(*MemoryEntry)
	if utils.IsExpired(entry.expiresAt) {
		cache.removeElement(element)
		return nil, false
	}

	cache.order.MoveToFront(element)
	return entry.value, true
}

// Put inserts or replaces the value for the given key, then evicts
// least-recently-used entries until the total weighted size fits the cap.
// An entry larger than the cap is still inserted and becomes eviction
// eligible right away. expiresAt is in epoch milliseconds, zero for no expiry.
func (cache *MemoryCache) Put(key Key, value interface{}, expiresAt int64) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	if element := cache.find(key); element != nil {
		cache.removeElement(element)
	}

	entry := &MemoryEntry{
		key:       key,
		value:     value,
		size:      cache.sizeFunc(key, value),
		expiresAt: expiresAt,
	}

	element := cache.order.PushFront(entry)
	cache.entries[key.identifier] = append(cache.entries[key.identifier], element)
	cache.totalSize += entry.size

	cache.trim()
}

// Remove removes the first entry matching the given key
func (cache *MemoryCache) Remove(key Key) bool {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	element := cache.find(key)
	if element == nil {
		return false
	}

	cache.removeElement(element)
	return true
}

// RemoveIdentifier removes all entries for the given identifier regardless
// of variant, returning the number of entries removed
func (cache *MemoryCache) RemoveIdentifier(identifier string) int {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	elements := cache.entries[identifier]
	removed := len(elements)
	for _, element := range elements {
		entry := element.Value.(*MemoryEntry)
		cache.order.Remove(element)
		cache.totalSize -= entry.size
	}

	delete(cache.entries, identifier)
	return removed
}

// Contains checks if an entry matching the given key is present
func (cache *MemoryCache) Contains(key Key) bool {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	return cache.find(key) != nil
}

// Purge drops all entries
func (cache *MemoryCache) Purge() {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	cache.entries = map[string][]*list.Element{}
	cache.order.Init()
	cache.totalSize = 0
}

// SetMaxSize updates the size cap, evicting entries if the cache no longer fits
func (cache *MemoryCache) SetMaxSize(maxSize int64) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	cache.maxSize = maxSize
	cache.trim()
}

// Len returns the number of entries
func (cache *MemoryCache) Len() int {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	return cache.order.Len()
}

// Size returns the total weighted size of entries
func (cache *MemoryCache) Size() int64 {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	return cache.totalSize
}

// MaxSize returns the size cap
func (cache *MemoryCache) MaxSize() int64 {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	return cache.maxSize
}

func (cache *MemoryCache) find(key Key) *list.Element {
	for _, element := range cache.entries[key.identifier] {
		entry := element.Value.(*MemoryEntry)
		if entry.key.Matches(key) {
			return element
		}
	}

	return nil
}

func (cache *MemoryCache) removeElement(element *list.Element) {
	entry := element.Value.(*MemoryEntry)
	cache.order.Remove(element)
	cache.totalSize -= entry.size

	elements := cache.entries[entry.key.identifier]
	for idx, indexed := range elements {
		if indexed == element {
			elements = append(elements[:idx], elements[idx+1:]...)
			break
		}
	}

	if len(elements) == 0 {
		delete(cache.entries, entry.key.identifier)
	} else {
		cache.entries[entry.key.identifier] = elements
	}
}

func (cache *MemoryCache) trim() {
	for cache.totalSize > cache.maxSize {
		element := cache.order.Back()
		if element == nil {
			return
		}

		cache.removeElement(element)
	}
}
