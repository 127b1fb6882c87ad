package vfs

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Dentry is a cached directory-entry binding: a name inside a parent,
// bound to an inode (or nil, for a negative entry recording a known
// miss). Go's garbage collector reclaims reference cycles on its own,
// so unlike the C++ original this doesn't need a true weak pointer for
// the parent link to avoid a leak — it's a plain pointer, simplifying
// the arena+handle translation spec.md §9 calls for elsewhere.
type Dentry struct {
	mu sync.Mutex

	name   string
	inode  *Inode
	parent *Dentry

	children map[string]*Dentry

	// mounted is the mounted superblock's root dentry, set when this
	// dentry is a mount point; path walk redirects through it.
	mounted *Dentry

	refCount int32
}

// NewDentry creates a dentry bound to inode (nil for a negative entry)
// under parent. The root dentry is created with a nil parent.
func NewDentry(name string, inode *Inode, parent *Dentry) *Dentry {
	return &Dentry{
		name:     name,
		inode:    inode,
		parent:   parent,
		children: make(map[string]*Dentry),
		refCount: 1,
	}
}

func (d *Dentry) Name() string  { return d.name }
func (d *Dentry) Parent() *Dentry { return d.parent }

// Inode returns the bound inode, or nil if this is a negative dentry.
func (d *Dentry) Inode() *Inode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inode
}

func (d *Dentry) IsNegative() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inode == nil
}

func (d *Dentry) Pin() { atomic.AddInt32(&d.refCount, 1) }

// Unpin drops a reference. A dentry with zero references and no
// children is eligible for collection by its owner; this core doesn't
// proactively sweep them (Go's GC reclaims unreachable dentries once
// their parent's child-map entry is removed).
func (d *Dentry) Unpin() { atomic.AddInt32(&d.refCount, -1) }

func (d *Dentry) RefCount() int32 { return atomic.LoadInt32(&d.refCount) }

// Child returns the named child dentry, or nil if absent from the
// children map (a cache miss — the caller should walk to the
// filesystem via Lookup to decide between populating it and caching a
// negative entry).
func (d *Dentry) Child(name string) *Dentry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.children[name]
}

// SetChild installs (or replaces) a child dentry, e.g. after a
// successful Lookup, Create, or Mkdir, or to record a negative entry.
func (d *Dentry) SetChild(name string, child *Dentry) {
	d.mu.Lock()
	d.children[name] = child
	d.mu.Unlock()
}

// RemoveChild drops a child entry, e.g. after unlink/rmdir.
func (d *Dentry) RemoveChild(name string) {
	d.mu.Lock()
	delete(d.children, name)
	d.mu.Unlock()
}

// ListChildren returns a snapshot of the currently cached children,
// positive and negative alike. Supplemented from
// original_source/fs/src/vfs/dentry.cpp as a read-only debug helper
// (nothing in the demo CLI calls it); spec.md doesn't name it but it
// falls out of the children map §4.E already requires.
func (d *Dentry) ListChildren() []*Dentry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Dentry, 0, len(d.children))
	for _, c := range d.children {
		out = append(out, c)
	}
	return out
}

func (d *Dentry) mountedRoot() *Dentry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mounted
}

func (d *Dentry) setMounted(root *Dentry) {
	d.mu.Lock()
	d.mounted = root
	d.mu.Unlock()
}

func (d *Dentry) clearMounted() {
	d.mu.Lock()
	d.mounted = nil
	d.mu.Unlock()
}

// GetPath walks parent links upward, prefixing "/"+name at each step,
// terminating at the dentry whose parent is nil (the root).
func (d *Dentry) GetPath() string {
	var parts []string
	for cur := d; cur != nil && cur.parent != nil; cur = cur.parent {
		parts = append(parts, cur.name)
	}
	if len(parts) == 0 {
		return "/"
	}
	// parts were collected leaf-to-root; reverse.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}
