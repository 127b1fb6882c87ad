// Package page implements the fixed-size buffered region the page cache
// manages: a Page with the lock/pin/dirty state machine spec'd for the
// content-addressed buffer pool sitting between file I/O and block I/O.
package page

import (
	"sync"
)

// Size is the fixed page size in bytes. Sector size must divide it.
const Size = 4096

// InodeID identifies the owning in-memory inode by identity, not by
// filesystem inode number — two inodes loaded from different mounts (or
// reloaded after eviction) get distinct IDs even if they share an inode
// number, so PageKey equality tracks identity the way the spec requires.
type InodeID uint64

// Key is the (inode-identity, page-aligned offset) tuple that identifies a
// cached page.
type Key struct {
	Inode  InodeID
	Offset int64
}

// State is a page's position in the CLEAN/UPTODATE/LOCKED/DIRTY/WRITEBACK/
// ERROR state machine.
type State int

const (
	Clean State = iota
	Uptodate
	Locked
	Dirty
	Writeback
	Error
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case Uptodate:
		return "uptodate"
	case Locked:
		return "locked"
	case Dirty:
		return "dirty"
	case Writeback:
		return "writeback"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Page is a fixed-size buffer caching a (inode, offset) region. All state
// transitions are guarded by mu; waiters on a Locked page block on cond.
//
// The cache that owns a page's lifecycle supplies onRelease, onMarkDirty,
// and onClearDirty at construction time, so a Page can notify its cache of
// ref-count-zero and dirty-list membership changes without importing the
// cache package back.
type Page struct {
	key Key
	buf []byte

	mu   sync.Mutex
	cond *sync.Cond

	state    State
	refCount int32

	// lockedFromDirty remembers whether the page was Dirty immediately
	// before the in-flight lock(), so unlock() can restore Dirty instead
	// of flattening every unlock to Uptodate.
	lockedFromDirty bool

	onRelease    func(*Page)
	onMarkDirty  func(*Page)
	onClearDirty func(*Page)
}

// New creates a Clean page for key, with an initial reference count of 1
// (the caller's own reference). The onX callbacks may be nil.
func New(key Key, onRelease, onMarkDirty, onClearDirty func(*Page)) *Page {
	p := &Page{
		key:          key,
		buf:          make([]byte, Size),
		state:        Clean,
		refCount:     1,
		onRelease:    onRelease,
		onMarkDirty:  onMarkDirty,
		onClearDirty: onClearDirty,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Key returns the page's cache key.
func (p *Page) Key() Key { return p.key }

// Data returns the page's backing buffer. Callers must hold the page
// locked (via Lock/Unlock) while mutating it concurrently with I/O.
func (p *Page) Data() []byte { return p.buf }

// State returns the page's current state.
func (p *Page) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetState forcibly sets the page's state. Used by the cache to record
// I/O completion (Uptodate/Error) outside of the Lock/Unlock pair when
// the caller already holds the lock via Lock().
func (p *Page) SetState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// IsDirty reports whether the page is currently Dirty.
func (p *Page) IsDirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == Dirty
}

// IsUptodate reports whether the page is currently Uptodate.
func (p *Page) IsUptodate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == Uptodate
}

// RefCount returns the page's current reference count.
func (p *Page) RefCount() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refCount
}

// Pin increments the page's reference count.
func (p *Page) Pin() {
	p.mu.Lock()
	p.refCount++
	p.mu.Unlock()
}

// Unpin decrements the reference count; when it reaches zero the page's
// onRelease callback (if any) is invoked with the page unlocked, making
// the page a pure eviction candidate for its cache.
func (p *Page) Unpin() {
	p.mu.Lock()
	p.refCount--
	zero := p.refCount == 0
	p.mu.Unlock()

	if zero && p.onRelease != nil {
		p.onRelease(p)
	}
}

// Lock blocks until the page is not Locked, then transitions it to
// Locked, remembering whether it was Dirty so Unlock can restore that.
func (p *Page) Lock() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.state == Locked {
		p.cond.Wait()
	}
	p.lockedFromDirty = p.state == Dirty
	p.state = Locked
}

// Unlock releases a page locked via Lock, restoring Dirty if the page was
// Dirty before the lock, or Uptodate otherwise, and wakes any waiters. If
// the state was changed with SetState while locked, that state is kept.
func (p *Page) Unlock() {
	p.mu.Lock()
	if p.state == Locked {
		if p.lockedFromDirty {
			p.state = Dirty
		} else {
			p.state = Uptodate
		}
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

// TryLock attempts to lock the page without blocking.
func (p *Page) TryLock() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Locked {
		return false
	}
	p.lockedFromDirty = p.state == Dirty
	p.state = Locked
	return true
}

// WaitUnlock blocks until the page is no longer Locked, without itself
// locking the page.
func (p *Page) WaitUnlock() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.state == Locked {
		p.cond.Wait()
	}
}

// MarkDirty transitions Clean/Uptodate to Dirty and, on that transition,
// enrolls the page in its cache's dirty list via onMarkDirty.
func (p *Page) MarkDirty() {
	p.mu.Lock()
	transitioned := p.state != Dirty && p.state != Writeback
	if transitioned {
		p.state = Dirty
	}
	p.mu.Unlock()

	if transitioned && p.onMarkDirty != nil {
		p.onMarkDirty(p)
	}
}

// ClearDirty transitions Dirty to Uptodate and removes the page from its
// cache's dirty list via onClearDirty.
func (p *Page) ClearDirty() {
	p.mu.Lock()
	was := p.state == Dirty
	if was {
		p.state = Uptodate
	}
	p.mu.Unlock()

	if was && p.onClearDirty != nil {
		p.onClearDirty(p)
	}
}
