package vfs

import (
	"sync"

	"vfscore/block"
	"vfscore/pagecache"
)

// FileSystemType is the static, per-type capability a filesystem
// implementation registers with the VFS: mount/unmount plus statfs and
// a name used as the registry key.
type FileSystemType interface {
	Name() string
	Mount(device block.Device, flags MountFlag, options string) (*SuperBlock, error)
	Unmount(sb *SuperBlock) error
	Statfs(sb *SuperBlock, out *StatfsResult) error
}

// SuperBlockOperations is the per-instance capability table: inode
// allocation/persistence and filesystem-wide sync/statfs/remount. A
// filesystem implementation type commonly satisfies both
// InodeOperations and SuperBlockOperations on the same value (spec.md
// §9's note on one implementer supplying both capabilities).
type SuperBlockOperations interface {
	AllocInode(sb *SuperBlock, mode FileMode) (*Inode, error)
	FreeInode(sb *SuperBlock, ino uint64) error
	ReadInode(sb *SuperBlock, ino uint64) (*Inode, error)
	WriteInode(sb *SuperBlock, inode *Inode) error
	Sync(sb *SuperBlock) error
	Statfs(sb *SuperBlock, out *StatfsResult) error
	Remount(sb *SuperBlock, flags MountFlag) error
}

// SuperBlock is per-mounted-filesystem state: a weak inode cache keyed
// by inode number, the backing device, the operation table, and the
// mounted root dentry. Per spec.md §3's invariant, exactly one live
// SuperBlock exists per mounted device — enforced by the VFS registry,
// not by this type itself.
type SuperBlock struct {
	mu sync.Mutex

	device block.Device
	fstype FileSystemType
	Ops    SuperBlockOperations

	root  *Dentry
	cache *pagecache.Cache

	inodes map[uint64]*Inode

	flags MountFlag
}

// NewSuperBlock is called by a FileSystemType's Mount implementation.
func NewSuperBlock(device block.Device, fstype FileSystemType, ops SuperBlockOperations, cache *pagecache.Cache, flags MountFlag) *SuperBlock {
	return &SuperBlock{
		device: device,
		fstype: fstype,
		Ops:    ops,
		cache:  cache,
		inodes: make(map[uint64]*Inode),
		flags:  flags,
	}
}

func (sb *SuperBlock) Device() block.Device { return sb.device }
func (sb *SuperBlock) FsType() FileSystemType { return sb.fstype }
func (sb *SuperBlock) Root() *Dentry          { return sb.root }
func (sb *SuperBlock) Cache() *pagecache.Cache { return sb.cache }
func (sb *SuperBlock) Flags() MountFlag        { return sb.flags }

// SetRoot installs the mounted filesystem's root dentry. Called once,
// right after Mount constructs the SuperBlock and its root inode.
func (sb *SuperBlock) SetRoot(root *Dentry) { sb.root = root }

// NewInode constructs an Inode bound to this superblock. Exposed to
// filesystem implementations via AllocInode/ReadInode.
func (sb *SuperBlock) NewInode(ino uint64, ops InodeOperations, attr Attr) *Inode {
	return newInode(sb, ino, ops, attr)
}

// InsertInode registers a freshly allocated inode (from AllocInode) in
// the weak cache immediately, so a later GetInode by the same number
// returns this exact instance — and therefore the same page-cache
// identity handle — rather than minting a second, cache-incoherent one
// via ReadInode.
func (sb *SuperBlock) InsertInode(in *Inode) {
	sb.mu.Lock()
	sb.inodes[in.ino] = in
	sb.mu.Unlock()
}

// GetInode answers the weak inode cache: a hit pins and returns the
// cached inode; a miss delegates to ReadInode and inserts the result.
func (sb *SuperBlock) GetInode(ino uint64) (*Inode, error) {
	sb.mu.Lock()
	if in, ok := sb.inodes[ino]; ok {
		in.Pin()
		sb.mu.Unlock()
		return in, nil
	}
	sb.mu.Unlock()

	in, err := sb.Ops.ReadInode(sb, ino)
	if err != nil {
		return nil, err
	}

	sb.mu.Lock()
	if existing, ok := sb.inodes[ino]; ok {
		// Lost the race to another loader; keep the winner.
		existing.Pin()
		sb.mu.Unlock()
		return existing, nil
	}
	sb.inodes[ino] = in
	sb.mu.Unlock()
	return in, nil
}

// evictInode is called by Inode.Unpin when the last strong reference
// drops. It removes the weak cache entry; the inode's pages, if any
// linger, are harmless since the page cache keys by identity handle and
// will be reclaimed independently by normal eviction pressure.
func (sb *SuperBlock) evictInode(in *Inode) {
	sb.mu.Lock()
	if cur, ok := sb.inodes[in.ino]; ok && cur == in {
		delete(sb.inodes, in.ino)
	}
	sb.mu.Unlock()
}

// Sync delegates to the filesystem's Sync operation. It does not flush
// page-cache pages (the cache doesn't index by superblock); content is
// flushed per inode through Inode.Sync or for the whole cache through
// VFS.Sync.
func (sb *SuperBlock) Sync() error {
	return sb.Ops.Sync(sb)
}

func (sb *SuperBlock) Statfs(out *StatfsResult) error {
	return sb.Ops.Statfs(sb, out)
}
