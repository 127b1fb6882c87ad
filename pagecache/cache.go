// Package pagecache implements the content-addressed, LRU-governed buffer
// pool that sits between file-level I/O and the block device: the single
// logical instance that all inode reads and writes flow through.
package pagecache

import (
	"container/list"
	"errors"
	"sync"
	"sync/atomic"

	"vfscore/block"
	"vfscore/logging"
	"vfscore/page"
)

// ErrNoVictim is returned internally when an eviction scan completes a
// full pass over the LRU list without finding an unpinned page. Per
// SPEC_FULL.md §9 Open Question (ii), eviction is bounded to one pass
// rather than spinning forever.
var ErrNoVictim = errors.New("pagecache: no evictable page found")

// DefaultMaxPages matches the original_source reference's default of
// 1024 pages (4MiB at the standard 4KiB page size).
const DefaultMaxPages = 1024

// Owner is the capability a page's backing inode must expose to the
// cache: enough to compute a sector number and perform block I/O. It is
// satisfied structurally by vfs.Inode without either package importing
// the other.
type Owner interface {
	InodeID() page.InodeID
	Device() block.Device
}

// Stats is a point-in-time snapshot of the cache's counters.
type Stats struct {
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Writebacks uint64
	PageCount  int
	MaxPages   int
}

// HitRate returns Hits / (Hits + Misses), or 0 if both are zero.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is the page cache: a hash index plus an LRU list and a dirty list
// (container/list, with per-key element maps), all guarded by a single
// mutex. Page I/O and data
// copies always happen with the mutex released; it is reacquired only to
// update bookkeeping.
type Cache struct {
	mu sync.Mutex

	pages  map[page.Key]*page.Page
	owners map[page.InodeID]Owner

	lru      *list.List
	lruElems map[page.Key]*list.Element

	dirty      *list.List
	dirtyElems map[page.Key]*list.Element

	maxPages int

	hits       uint64
	misses     uint64
	evictions  uint64
	writebacks uint64

	log *logging.Logger
}

// New creates a page cache with the given page ceiling.
func New(maxPages int, log *logging.Logger) *Cache {
	if log == nil {
		log = logging.Nop()
	}
	return &Cache{
		pages:      make(map[page.Key]*page.Page),
		owners:     make(map[page.InodeID]Owner),
		lru:        list.New(),
		lruElems:   make(map[page.Key]*list.Element),
		dirty:      list.New(),
		dirtyElems: make(map[page.Key]*list.Element),
		maxPages:   maxPages,
		log:        logging.Named(log, "pagecache"),
	}
}

// FindPage probes the cache without allocating. On a hit it pins the
// page (the caller must Unpin when done) and promotes it to the LRU
// head.
func (c *Cache) FindPage(owner Owner, offset int64) (*page.Page, bool) {
	key := page.Key{Inode: owner.InodeID(), Offset: offset}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.owners[owner.InodeID()] = owner

	p, ok := c.pages[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.touchLocked(key)
	c.hits++
	p.Pin()
	return p, true
}

// FindOrCreatePage returns the cached page for (owner, offset), creating
// a fresh Clean page if absent. It may evict to honor the page ceiling.
// The returned page is pinned; the caller must Unpin when done.
func (c *Cache) FindOrCreatePage(owner Owner, offset int64) *page.Page {
	key := page.Key{Inode: owner.InodeID(), Offset: offset}

	c.mu.Lock()
	c.owners[owner.InodeID()] = owner

	if p, ok := c.pages[key]; ok {
		c.touchLocked(key)
		c.hits++
		c.mu.Unlock()
		p.Pin()
		return p
	}
	c.misses++

	needEvict := len(c.pages) >= c.maxPages && c.maxPages > 0
	c.mu.Unlock()

	if needEvict {
		c.evictOne()
	}

	c.mu.Lock()
	// Re-check: a concurrent creator may have beaten us to this key while
	// the lock was released for eviction.
	if p, ok := c.pages[key]; ok {
		c.touchLocked(key)
		c.mu.Unlock()
		p.Pin()
		return p
	}

	p := page.New(key, c.releaseCallback, c.markDirtyCallback, c.clearDirtyCallback)
	c.pages[key] = p
	elem := c.lru.PushFront(key)
	c.lruElems[key] = elem
	c.mu.Unlock()

	// page.New's initial ref count of 1 is the cache's own baseline hold,
	// not the caller's — mirror the hit-path branches above and take a
	// separate pin for the caller, so the caller's eventual Unpin settles
	// the count at 1 (cache-only) instead of 0.
	p.Pin()
	return p
}

// ReadPage returns an Uptodate (or already-Dirty) page for (owner,
// offset), populating it from the block device if it isn't already
// current. Concurrent callers for the same missing key collapse onto a
// single read: the first caller locks the page and performs I/O; late
// arrivers wait for the page to unlock and observe Uptodate once it
// completes.
// The returned page is pinned; the caller must Unpin when done.
func (c *Cache) ReadPage(owner Owner, offset int64) (*page.Page, error) {
	p := c.FindOrCreatePage(owner, offset)

	// Lock replaces the page's state with Locked, so the state is tested
	// before locking; c.mu makes test-and-lock atomic among ReadPage callers.
	for {
		c.mu.Lock()
		ready := p.IsUptodate() || p.IsDirty()
		locked := !ready && p.TryLock()
		c.mu.Unlock()
		if ready {
			return p, nil
		}
		if locked {
			break
		}
		p.WaitUnlock()
	}

	dev := owner.Device()
	sector := block.Sector(offset / int64(dev.SectorSize()))

	n, err := dev.Read(sector, p.Data())
	if err != nil {
		p.SetState(page.Error)
		p.Unlock()
		p.Unpin()
		return nil, err
	}
	if n < len(p.Data()) {
		for i := n; i < len(p.Data()); i++ {
			p.Data()[i] = 0
		}
	}

	p.SetState(page.Uptodate)
	p.Unlock()
	return p, nil
}

// WritePage marks page dirty and touches the LRU; it performs no
// synchronous I/O.
func (c *Cache) WritePage(p *page.Page) {
	p.MarkDirty()

	c.mu.Lock()
	c.touchLocked(p.Key())
	c.mu.Unlock()
}

// SyncPages flushes every page that was Dirty at call time for the given
// inode, or for every inode when inode is nil. It does not guarantee
// file-offset ordering; it guarantees that every page Dirty at call time
// is Uptodate or Error by the time it returns.
func (c *Cache) SyncPages(inode *page.InodeID) error {
	c.mu.Lock()
	var toSync []*page.Page
	for e := c.dirty.Front(); e != nil; e = e.Next() {
		key := e.Value.(page.Key)
		if inode != nil && key.Inode != *inode {
			continue
		}
		if p, ok := c.pages[key]; ok {
			toSync = append(toSync, p)
		}
	}
	c.mu.Unlock()

	var firstErr error
	for _, p := range toSync {
		if err := c.flushPage(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// flushPage writes back a single page if it's still Dirty, clearing the
// dirty bit on success and leaving it in Error on failure.
func (c *Cache) flushPage(p *page.Page) error {
	// Lock replaces the page's state with Locked, so dirtiness is tested
	// before locking.
	p.WaitUnlock()
	if !p.IsDirty() {
		return nil
	}
	p.Lock()
	p.SetState(page.Writeback)

	c.mu.Lock()
	owner, ok := c.owners[p.Key().Inode]
	c.mu.Unlock()
	if !ok {
		p.SetState(page.Error)
		p.Unlock()
		return block.ErrIO
	}

	dev := owner.Device()
	sector := block.Sector(p.Key().Offset / int64(dev.SectorSize()))
	_, err := dev.Write(sector, p.Data())
	if err != nil {
		p.SetState(page.Error)
		p.Unlock()
		c.log.Debugw("writeback failed", "inode", p.Key().Inode, "offset", p.Key().Offset, "err", err)
		return err
	}

	p.SetState(page.Uptodate)
	c.clearDirtyCallback(p) // remove from the dirty list
	p.Unlock()
	atomic.AddUint64(&c.writebacks, 1)
	return nil
}

// InvalidatePages drops every page for inode, writing back dirty ones
// first on a best-effort basis.
func (c *Cache) InvalidatePages(inode page.InodeID) {
	c.invalidateMatching(func(key page.Key) bool { return key.Inode == inode })
}

// InvalidatePagesFrom drops every page for inode whose offset is at or
// beyond fromOffset, writing back dirty ones first on a best-effort
// basis. Used by truncate: the page straddling the new end-of-file
// boundary is left resident (spec.md §4.D: "partial-boundary page is
// retained").
func (c *Cache) InvalidatePagesFrom(inode page.InodeID, fromOffset int64) {
	c.invalidateMatching(func(key page.Key) bool {
		return key.Inode == inode && key.Offset >= fromOffset
	})
}

func (c *Cache) invalidateMatching(match func(page.Key) bool) {
	c.mu.Lock()
	var victims []page.Key
	for key := range c.pages {
		if match(key) {
			victims = append(victims, key)
		}
	}
	c.mu.Unlock()

	for _, key := range victims {
		c.mu.Lock()
		p, ok := c.pages[key]
		c.mu.Unlock()
		if !ok {
			continue
		}
		if p.IsDirty() {
			_ = c.flushPage(p) // best effort
		}
		c.dropLocked(key)
	}
}

// ReleasePage is invoked when a page's reference count hits zero (see
// page.Page.onRelease). Every resident page carries the cache's own
// baseline hold on top of any caller pins (see FindOrCreatePage), so in
// normal operation a caller's Unpin never drives the count past that
// baseline — this fires only if the baseline itself is ever released.
// Per spec.md's "making it a pure eviction candidate" wording, reaching
// zero makes a page *eligible* for removal, not instantly purged: a
// still-dirty page is left for evictOne/flushPage to write back and
// unlink; only a clean page is dropped here directly.
func (c *Cache) ReleasePage(p *page.Page) {
	if p.IsDirty() {
		return
	}
	c.dropLocked(p.Key())
}

// dropLocked removes key's page from the index and both lists if
// present, adjusting counters. It acquires the cache mutex itself.
func (c *Cache) dropLocked(key page.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pages[key]; !ok {
		return
	}
	delete(c.pages, key)

	if e, ok := c.lruElems[key]; ok {
		c.lru.Remove(e)
		delete(c.lruElems, key)
	}
	if e, ok := c.dirtyElems[key]; ok {
		c.dirty.Remove(e)
		delete(c.dirtyElems, key)
	}
}

// SetMaxPages changes the page ceiling, evicting immediately if the
// cache is over the new limit.
func (c *Cache) SetMaxPages(n int) {
	c.mu.Lock()
	c.maxPages = n
	over := len(c.pages) - n
	c.mu.Unlock()

	for i := 0; i < over; i++ {
		if err := c.evictOne(); err != nil {
			break
		}
	}
}

// FlushAll synchronously writes back every dirty page in the cache.
func (c *Cache) FlushAll() error {
	return c.SyncPages(nil)
}

// Clear unconditionally drops every page, without writeback. Intended
// for teardown, matching the original_source reference's clear().
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pages = make(map[page.Key]*page.Page)
	c.lru = list.New()
	c.lruElems = make(map[page.Key]*list.Element)
	c.dirty = list.New()
	c.dirtyElems = make(map[page.Key]*list.Element)
}

// Snapshot returns the current counters.
func (c *Cache) Snapshot() Stats {
	c.mu.Lock()
	count := len(c.pages)
	max := c.maxPages
	c.mu.Unlock()

	return Stats{
		Hits:       atomic.LoadUint64(&c.hits),
		Misses:     atomic.LoadUint64(&c.misses),
		Evictions:  atomic.LoadUint64(&c.evictions),
		Writebacks: atomic.LoadUint64(&c.writebacks),
		PageCount:  count,
		MaxPages:   max,
	}
}

// touchLocked promotes key to the LRU head. c.mu must be held.
func (c *Cache) touchLocked(key page.Key) {
	if e, ok := c.lruElems[key]; ok {
		c.lru.MoveToFront(e)
	}
}

// evictOne scans the LRU from the tail for the first unpinned page,
// writes it back if dirty, and removes it from the index. It bounds its
// scan to one pass over the list (Open Question (ii)): if every page is
// pinned, it returns ErrNoVictim rather than looping forever.
func (c *Cache) evictOne() error {
	c.mu.Lock()
	attempts := c.lru.Len()
	var victimKey page.Key
	found := false

	for i := 0; i < attempts; i++ {
		e := c.lru.Back()
		if e == nil {
			break
		}
		key := e.Value.(page.Key)
		p, ok := c.pages[key]
		if !ok {
			c.lru.Remove(e)
			delete(c.lruElems, key)
			continue
		}
		if p.RefCount() > 1 {
			// Pinned: move to the front and keep scanning, per §4.C's
			// "make progress without evicting pinned pages" policy.
			c.lru.MoveToFront(e)
			continue
		}
		victimKey = key
		found = true
		break
	}
	if !found {
		c.mu.Unlock()
		return ErrNoVictim
	}

	p := c.pages[victimKey]

	// Remove list membership now, but keep the index entry until the
	// writeback (if any) completes, so a writeback failure still results
	// in the page being unlinked exactly once.
	if e, ok := c.lruElems[victimKey]; ok {
		c.lru.Remove(e)
		delete(c.lruElems, victimKey)
	}
	if e, ok := c.dirtyElems[victimKey]; ok {
		c.dirty.Remove(e)
		delete(c.dirtyElems, victimKey)
	}
	owner := c.owners[victimKey.Inode]
	c.mu.Unlock()

	if p.IsDirty() {
		p.Lock()
		// Lock has replaced Dirty with Locked; the test above is the
		// dirtiness check.
		if owner != nil {
			p.SetState(page.Writeback)
			dev := owner.Device()
			sector := block.Sector(victimKey.Offset / int64(dev.SectorSize()))
			_, err := dev.Write(sector, p.Data())
			if err != nil {
				p.SetState(page.Error)
				c.log.Debugw("eviction writeback failed", "inode", victimKey.Inode, "offset", victimKey.Offset, "err", err)
			} else {
				p.SetState(page.Uptodate)
				atomic.AddUint64(&c.writebacks, 1)
			}
		}
		p.Unlock()
	}

	c.mu.Lock()
	delete(c.pages, victimKey)
	c.evictions++
	c.mu.Unlock()

	return nil
}

// releaseCallback is wired into every page this cache creates; it fires
// when a page's pin count drops to zero.
func (c *Cache) releaseCallback(p *page.Page) {
	c.ReleasePage(p)
}

func (c *Cache) markDirtyCallback(p *page.Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.dirtyElems[p.Key()]; ok {
		return
	}
	e := c.dirty.PushBack(p.Key())
	c.dirtyElems[p.Key()] = e
}

func (c *Cache) clearDirtyCallback(p *page.Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.dirtyElems[p.Key()]; ok {
		c.dirty.Remove(e)
		delete(c.dirtyElems, p.Key())
	}
}
