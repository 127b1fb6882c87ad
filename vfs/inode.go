package vfs

import (
	"sync"
	"sync/atomic"
	"time"

	"vfscore/block"
	"vfscore/page"
)

var nextPageID atomic.Uint64

// allocPageID hands out a fresh cache-identity handle per live in-memory
// inode, distinct from the filesystem-visible inode number — two inodes
// that happen to share an inode number (different mounts, or reloaded
// after eviction) get distinct page-cache identities, matching PageKey's
// identity semantics (spec.md §3).
func allocPageID() page.InodeID {
	return page.InodeID(nextPageID.Add(1))
}

// InodeOperations is the per-filesystem directory/metadata operation
// table. It carries the directory-mutating operations with the
// directory inode as an explicit first argument (spec.md §4.D), so a
// single filesystem implementation value can also satisfy
// SuperBlockOperations without any inheritance trick.
type InodeOperations interface {
	Lookup(dir *Inode, name string) (*Inode, error)
	Create(dir *Inode, name string, mode FileMode) (*Inode, error)
	Unlink(dir *Inode, name string) error
	Mkdir(dir *Inode, name string, mode FileMode) (*Inode, error)
	Rmdir(dir *Inode, name string) error
	Rename(oldDir *Inode, oldName string, newDir *Inode, newName string) error
	Readdir(dir *Inode) ([]DirEntry, error)

	Getxattr(inode *Inode, name string) (string, error)
	Setxattr(inode *Inode, name, value string) error
	Listxattr(inode *Inode) ([]string, error)
	Removexattr(inode *Inode, name string) error
}

// Inode is a handle for a filesystem object. Content I/O is generic,
// implemented once here in terms of the shared page cache; directory
// and metadata mutation delegate to the owning filesystem's operation
// table (sb.Ops).
type Inode struct {
	mu sync.Mutex

	ino    uint64
	pageID page.InodeID

	sb  *SuperBlock
	ops InodeOperations

	attr Attr

	refCount int32

	symlink string
}

// newInode allocates a fresh in-memory Inode bound to sb. Filesystem
// implementations reach it through SuperBlock.NewInode from
// AllocInode/ReadInode.
func newInode(sb *SuperBlock, ino uint64, ops InodeOperations, attr Attr) *Inode {
	return &Inode{
		ino:      ino,
		pageID:   allocPageID(),
		sb:       sb,
		ops:      ops,
		attr:     attr,
		refCount: 1,
	}
}

// Ino returns the filesystem-visible, superblock-unique inode number.
func (in *Inode) Ino() uint64 { return in.ino }

// InodeID satisfies pagecache.Owner: the page cache keys by this
// identity handle, never by Ino.
func (in *Inode) InodeID() page.InodeID { return in.pageID }

// Device satisfies pagecache.Owner.
func (in *Inode) Device() block.Device { return in.sb.device }

// SuperBlock returns the owning superblock.
func (in *Inode) SuperBlock() *SuperBlock { return in.sb }

func (in *Inode) Pin() { atomic.AddInt32(&in.refCount, 1) }

// Unpin drops a strong reference; when it reaches zero, the owning
// superblock evicts it from its weak cache. Whether the page cache still
// holds pages for this inode is not checked.
func (in *Inode) Unpin() {
	if atomic.AddInt32(&in.refCount, -1) == 0 {
		in.sb.evictInode(in)
	}
}

func (in *Inode) RefCount() int32 { return atomic.LoadInt32(&in.refCount) }

// Getattr copies out the attribute record.
func (in *Inode) Getattr() Attr {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.attr
}

// Setattr copies in the attribute record and updates ctime.
func (in *Inode) Setattr(attr Attr) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.attr = attr
	in.attr.Ctime = time.Now()
	return nil
}

// Symlink returns the link target; ErrNotSymlink if this inode isn't one.
func (in *Inode) Symlink() (string, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.attr.Mode.IsSymlink() {
		return "", ErrNotSymlink
	}
	return in.symlink, nil
}

// SetSymlinkTarget is used by filesystem implementations right after
// creating a symlink inode, and when rehydrating one from a weak-cache
// miss.
func (in *Inode) SetSymlinkTarget(target string) {
	in.mu.Lock()
	in.symlink = target
	in.mu.Unlock()
}

// pageSpans yields the page-aligned [pageOffset, pageOffset+page.Size)
// windows that [offset, offset+length) overlaps, clamped to length.
func pageSpans(offset int64, length int) []struct {
	pageOffset int64
	inPage     int64
	n          int
	fileOffset int64
} {
	var spans []struct {
		pageOffset int64
		inPage     int64
		n          int
		fileOffset int64
	}
	remaining := length
	cur := offset
	for remaining > 0 {
		pageOff := (cur / page.Size) * page.Size
		inPage := cur - pageOff
		avail := page.Size - int(inPage)
		n := remaining
		if n > avail {
			n = avail
		}
		spans = append(spans, struct {
			pageOffset int64
			inPage     int64
			n          int
			fileOffset int64
		}{pageOff, inPage, n, cur})
		cur += int64(n)
		remaining -= n
	}
	return spans
}

// Read reads up to min(len(buf), size-offset) bytes starting at offset,
// iterating page-aligned spans through the page cache. Returns 0 at or
// past end-of-file.
func (in *Inode) Read(offset int64, buf []byte) (int, error) {
	in.mu.Lock()
	size := in.attr.Size
	in.mu.Unlock()

	if offset >= size {
		return 0, nil
	}
	want := len(buf)
	if int64(want) > size-offset {
		want = int(size - offset)
	}
	if want <= 0 {
		return 0, nil
	}

	total := 0
	for _, span := range pageSpans(offset, want) {
		p, err := in.sb.cache.ReadPage(in, span.pageOffset)
		if err != nil {
			return total, err
		}
		p.Lock()
		copy(buf[total:total+span.n], p.Data()[span.inPage:span.inPage+int64(span.n)])
		p.Unlock()
		p.Unpin()
		total += span.n
	}

	in.mu.Lock()
	in.attr.Atime = time.Now()
	in.mu.Unlock()

	return total, nil
}

// Write writes len(buf) bytes at offset, iterating page-aligned spans.
// A partial page that isn't already populated is first read so the
// unwritten remainder of the page keeps its prior contents. On success
// it grows Size if offset+len(buf) exceeds the current size.
func (in *Inode) Write(offset int64, buf []byte) (int, error) {
	in.mu.Lock()
	mode := in.attr.Mode
	in.mu.Unlock()
	if !mode.IsDir() && mode.Perm()&0o200 == 0 {
		return 0, ErrPermissionDenied
	}

	total := 0
	for _, span := range pageSpans(offset, len(buf)) {
		partial := span.inPage != 0 || int64(span.n) < page.Size

		var p *page.Page
		if partial {
			var err error
			p, err = in.sb.cache.ReadPage(in, span.pageOffset)
			if err != nil {
				return total, err
			}
		} else {
			p = in.sb.cache.FindOrCreatePage(in, span.pageOffset)
		}

		p.Lock()
		copy(p.Data()[span.inPage:span.inPage+int64(span.n)], buf[total:total+span.n])
		p.Unlock()
		in.sb.cache.WritePage(p)
		p.Unpin()

		total += span.n
	}

	in.mu.Lock()
	if offset+int64(total) > in.attr.Size {
		in.attr.Size = offset + int64(total)
		in.attr.Blocks = (in.attr.Size + in.attr.Blksize - 1) / in.attr.Blksize
	}
	now := time.Now()
	in.attr.Mtime = now
	in.attr.Ctime = now
	in.mu.Unlock()

	return total, nil
}

// Sync flushes all pages owned by this inode through the page cache,
// then persists metadata via the superblock's operation table.
func (in *Inode) Sync() error {
	id := in.pageID
	if err := in.sb.cache.SyncPages(&id); err != nil {
		return err
	}
	return in.sb.Ops.WriteInode(in.sb, in)
}

// Truncate shrinks or grows the inode to newSize. Shrinking invalidates
// pages that fall entirely beyond the new end; the page straddling the
// boundary is retained (its tail bytes beyond newSize are left in the
// buffer but become unreachable through Read once Size is updated).
func (in *Inode) Truncate(newSize int64) error {
	in.mu.Lock()
	oldSize := in.attr.Size
	in.attr.Size = newSize
	in.attr.Blocks = (newSize + in.attr.Blksize - 1) / in.attr.Blksize
	now := time.Now()
	in.attr.Mtime = now
	in.attr.Ctime = now
	in.mu.Unlock()

	if newSize < oldSize {
		// Only pages entirely beyond the new end are dropped; the page
		// straddling newSize is retained, per spec.md §4.D.
		boundary := ((newSize + page.Size - 1) / page.Size) * page.Size
		in.sb.cache.InvalidatePagesFrom(in.pageID, boundary)
	}
	return nil
}

// Lookup, Create, Unlink, Mkdir, Rmdir, Rename, Readdir, and the xattr
// operations delegate to the per-filesystem operation table with this
// inode as the directory argument.
func (in *Inode) Lookup(name string) (*Inode, error)             { return in.ops.Lookup(in, name) }
func (in *Inode) Create(name string, mode FileMode) (*Inode, error) {
	return in.ops.Create(in, name, mode)
}
func (in *Inode) Unlink(name string) error { return in.ops.Unlink(in, name) }
func (in *Inode) Mkdir(name string, mode FileMode) (*Inode, error) {
	return in.ops.Mkdir(in, name, mode)
}
func (in *Inode) Rmdir(name string) error { return in.ops.Rmdir(in, name) }
func (in *Inode) Rename(oldName string, newDir *Inode, newName string) error {
	return in.ops.Rename(in, oldName, newDir, newName)
}
func (in *Inode) Readdir() ([]DirEntry, error) { return in.ops.Readdir(in) }

func (in *Inode) Getxattr(name string) (string, error) { return in.ops.Getxattr(in, name) }
func (in *Inode) Setxattr(name, value string) error    { return in.ops.Setxattr(in, name, value) }
func (in *Inode) Listxattr() ([]string, error)          { return in.ops.Listxattr(in) }
func (in *Inode) Removexattr(name string) error         { return in.ops.Removexattr(in, name) }

// LockDirsForRename locks a and b in ascending inode-number order,
// taking a single lock when they're the same directory, and returns the
// unlock function. This is the deadlock-avoidance rule spec.md §4.D/§5
// requires of rename; filesystem implementations call it before
// mutating both directories' child maps.
func LockDirsForRename(a, b *Inode) (unlock func()) {
	if a == b {
		a.mu.Lock()
		return a.mu.Unlock
	}
	first, second := a, b
	if second.ino < first.ino {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}
