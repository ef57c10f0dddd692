package mirs

import (
	"sync"
	"time"

	"github.com/couchcryptid/storm-mirs-merge/internal/domain"
)

// fileStamp identifies one version of a granule file on disk.
type fileStamp struct {
	size    int64
	modTime time.Time
}

// HeaderCache is a thread-safe LRU cache of granule headers keyed by source
// identifier. An entry is only served while the file's size and modification
// time are unchanged.
type HeaderCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key    string
	stamp  fileStamp
	header domain.GranuleHeader
	prev   *entry
	next   *entry
}

// NewHeaderCache creates a cache holding at most maxEntries headers.
func NewHeaderCache(maxEntries int) *HeaderCache {
	return &HeaderCache{
		maxEntries: max(maxEntries, 1),
		entries:    make(map[string]*entry),
	}
}

// Len returns the number of cached headers.
func (c *HeaderCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *HeaderCache) get(key string, stamp fileStamp) (domain.GranuleHeader, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return domain.GranuleHeader{}, false
	}
	if e.stamp.size != stamp.size || !e.stamp.modTime.Equal(stamp.modTime) {
		c.remove(e)
		delete(c.entries, key)
		return domain.GranuleHeader{}, false
	}
	c.moveToFront(e)
	return e.header, true
}

func (c *HeaderCache) put(key string, stamp fileStamp, header domain.GranuleHeader) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.stamp = stamp
		e.header = header
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, stamp: stamp, header: header}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *HeaderCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *HeaderCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *HeaderCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *HeaderCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
