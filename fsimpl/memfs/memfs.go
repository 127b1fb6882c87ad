// Package memfs is a trivial, from-scratch, entirely in-memory
// filesystem type: it implements vfs.FileSystemType,
// vfs.InodeOperations, and vfs.SuperBlockOperations with a flat
// ino->metadata table instead of an on-disk layout, exercising the
// shared page cache the same way a real disk-backed filesystem would
// for file content while keeping directory structure in memory. It's
// the filesystem the vfs seed scenarios (S1, S2, S3, S6) mount.
package memfs

import (
	"sync"
	"time"

	"vfscore/block"
	"vfscore/logging"
	"vfscore/page"
	"vfscore/pagecache"
	"vfscore/vfs"
)

const rootIno = 1

// FS is the registrable vfs.FileSystemType. A single FS value may back
// several independent mounts; each Mount call gets its own mountState
// (the value that actually implements InodeOperations and
// SuperBlockOperations, per spec.md §9's note that one implementer may
// supply both capabilities).
type FS struct {
	cache *pagecache.Cache
	log   *logging.Logger
}

// New creates a memfs filesystem type bound to the given shared page
// cache — the single logical page-cache instance spec.md §4.C
// describes, shared across every mount.
func New(cache *pagecache.Cache, log *logging.Logger) *FS {
	if log == nil {
		log = logging.Nop()
	}
	return &FS{cache: cache, log: logging.Named(log, "memfs")}
}

func (f *FS) Name() string { return "memfs" }

func (f *FS) Mount(device block.Device, flags vfs.MountFlag, options string) (*vfs.SuperBlock, error) {
	ms := &mountState{
		metas:   make(map[uint64]*inodeMeta),
		nextIno: rootIno + 1,
		log:     f.log,
	}

	sb := vfs.NewSuperBlock(device, f, ms, f.cache, flags)
	ms.sb = sb

	now := time.Now()
	root := ms.registerMeta(rootIno, &inodeMeta{
		ino:        rootIno,
		mode:       vfs.ModeDir | 0o755,
		nlink:      1,
		blksize:    page.Size,
		dirEntries: make(map[string]uint64),
		xattrs:     make(map[string]string),
		atime:      now, mtime: now, ctime: now,
	})

	rootInode := sb.NewInode(rootIno, ms, root.attr())
	sb.InsertInode(rootInode)
	sb.SetRoot(vfs.NewDentry("", rootInode, nil))

	return sb, nil
}

func (f *FS) Unmount(sb *vfs.SuperBlock) error {
	return sb.Ops.Sync(sb)
}

func (f *FS) Statfs(sb *vfs.SuperBlock, out *vfs.StatfsResult) error {
	return sb.Ops.Statfs(sb, out)
}

// inodeMeta is the persistent (for the lifetime of the mount) record
// backing a memfs inode: attributes plus, for directories, the name->
// inode-number table that Lookup resolves names through.
type inodeMeta struct {
	mu sync.Mutex

	ino     uint64
	mode    vfs.FileMode
	uid     uint32
	gid     uint32
	size    int64
	blocks  int64
	nlink   uint32
	blksize int64
	atime   time.Time
	mtime   time.Time
	ctime   time.Time

	symlink    string
	dirEntries map[string]uint64 // valid when mode.IsDir()
	xattrs     map[string]string
}

func (m *inodeMeta) attr() vfs.Attr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return vfs.Attr{
		Mode: m.mode, Uid: m.uid, Gid: m.gid,
		Size: m.size, Blocks: m.blocks, Nlink: m.nlink, Blksize: m.blksize,
		Atime: m.atime, Mtime: m.mtime, Ctime: m.ctime,
	}
}

// mountState implements both vfs.SuperBlockOperations and
// vfs.InodeOperations for one mounted memfs instance.
type mountState struct {
	mu      sync.Mutex
	metas   map[uint64]*inodeMeta
	nextIno uint64

	sb  *vfs.SuperBlock
	log *logging.Logger
}

func (ms *mountState) registerMeta(ino uint64, m *inodeMeta) *inodeMeta {
	ms.mu.Lock()
	ms.metas[ino] = m
	ms.mu.Unlock()
	return m
}

func (ms *mountState) metaOf(ino uint64) *inodeMeta {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.metas[ino]
}

// --- vfs.SuperBlockOperations ---

func (ms *mountState) AllocInode(sb *vfs.SuperBlock, mode vfs.FileMode) (*vfs.Inode, error) {
	ms.mu.Lock()
	ino := ms.nextIno
	ms.nextIno++
	ms.mu.Unlock()

	now := time.Now()
	meta := &inodeMeta{
		ino: ino, mode: mode, nlink: 1, blksize: page.Size,
		xattrs: make(map[string]string),
		atime:  now, mtime: now, ctime: now,
	}
	if mode.IsDir() {
		meta.dirEntries = make(map[string]uint64)
	}
	ms.registerMeta(ino, meta)

	inode := sb.NewInode(ino, ms, meta.attr())
	sb.InsertInode(inode)
	return inode, nil
}

func (ms *mountState) FreeInode(sb *vfs.SuperBlock, ino uint64) error {
	ms.mu.Lock()
	delete(ms.metas, ino)
	ms.mu.Unlock()
	return nil
}

func (ms *mountState) ReadInode(sb *vfs.SuperBlock, ino uint64) (*vfs.Inode, error) {
	meta := ms.metaOf(ino)
	if meta == nil {
		return nil, vfs.ErrNotFound
	}
	inode := sb.NewInode(ino, ms, meta.attr())
	meta.mu.Lock()
	target := meta.symlink
	meta.mu.Unlock()
	if target != "" {
		inode.SetSymlinkTarget(target)
	}
	return inode, nil
}

func (ms *mountState) WriteInode(sb *vfs.SuperBlock, inode *vfs.Inode) error {
	meta := ms.metaOf(inode.Ino())
	if meta == nil {
		return vfs.ErrNotFound
	}
	attr := inode.Getattr()
	meta.mu.Lock()
	meta.mode, meta.uid, meta.gid = attr.Mode, attr.Uid, attr.Gid
	meta.size, meta.blocks, meta.nlink = attr.Size, attr.Blocks, attr.Nlink
	meta.atime, meta.mtime, meta.ctime = attr.Atime, attr.Mtime, attr.Ctime
	meta.mu.Unlock()
	if attr.Mode.IsSymlink() {
		if target, err := inode.Symlink(); err == nil {
			meta.mu.Lock()
			meta.symlink = target
			meta.mu.Unlock()
		}
	}
	return nil
}

func (ms *mountState) Sync(sb *vfs.SuperBlock) error { return nil }

func (ms *mountState) Statfs(sb *vfs.SuperBlock, out *vfs.StatfsResult) error {
	ms.mu.Lock()
	inodeCount := uint64(len(ms.metas))
	ms.mu.Unlock()

	dev := sb.Device()
	out.Blksize = page.Size
	out.TotalBlocks = uint64(dev.Size()) / uint64(page.Size)
	out.FreeBlocks = out.TotalBlocks // memfs tracks no allocation bitmap
	out.TotalInodes = inodeCount + 1<<20
	out.FreeInodes = out.TotalInodes - inodeCount
	return nil
}

func (ms *mountState) Remount(sb *vfs.SuperBlock, flags vfs.MountFlag) error {
	return nil
}

// --- vfs.InodeOperations ---

func (ms *mountState) Lookup(dir *vfs.Inode, name string) (*vfs.Inode, error) {
	meta := ms.metaOf(dir.Ino())
	if meta == nil || meta.dirEntries == nil {
		return nil, vfs.ErrNotADirectory
	}
	meta.mu.Lock()
	ino, ok := meta.dirEntries[name]
	meta.mu.Unlock()
	if !ok {
		return nil, vfs.ErrNotFound
	}
	return ms.sb.GetInode(ino)
}

func (ms *mountState) Create(dir *vfs.Inode, name string, mode vfs.FileMode) (*vfs.Inode, error) {
	meta := ms.metaOf(dir.Ino())
	if meta == nil || meta.dirEntries == nil {
		return nil, vfs.ErrNotADirectory
	}

	meta.mu.Lock()
	if _, exists := meta.dirEntries[name]; exists {
		meta.mu.Unlock()
		return nil, vfs.ErrExist
	}
	meta.mu.Unlock()

	child, err := ms.AllocInode(ms.sb, mode)
	if err != nil {
		return nil, err
	}

	meta.mu.Lock()
	meta.dirEntries[name] = child.Ino()
	now := time.Now()
	meta.mtime, meta.ctime = now, now
	meta.mu.Unlock()

	return child, nil
}

func (ms *mountState) Unlink(dir *vfs.Inode, name string) error {
	meta := ms.metaOf(dir.Ino())
	if meta == nil || meta.dirEntries == nil {
		return vfs.ErrNotADirectory
	}

	meta.mu.Lock()
	ino, ok := meta.dirEntries[name]
	if !ok {
		meta.mu.Unlock()
		return vfs.ErrNotFound
	}
	meta.mu.Unlock()

	target := ms.metaOf(ino)
	if target != nil {
		target.mu.Lock()
		isDir := target.mode.IsDir()
		target.mu.Unlock()
		if isDir {
			return vfs.ErrIsADirectory
		}
	}

	meta.mu.Lock()
	delete(meta.dirEntries, name)
	now := time.Now()
	meta.mtime, meta.ctime = now, now
	meta.mu.Unlock()

	if target != nil {
		target.mu.Lock()
		target.nlink--
		dead := target.nlink == 0
		target.mu.Unlock()
		if dead {
			ms.mu.Lock()
			delete(ms.metas, ino)
			ms.mu.Unlock()
		}
	}
	return nil
}

func (ms *mountState) Mkdir(dir *vfs.Inode, name string, mode vfs.FileMode) (*vfs.Inode, error) {
	return ms.Create(dir, name, mode|vfs.ModeDir)
}

func (ms *mountState) Rmdir(dir *vfs.Inode, name string) error {
	meta := ms.metaOf(dir.Ino())
	if meta == nil || meta.dirEntries == nil {
		return vfs.ErrNotADirectory
	}

	meta.mu.Lock()
	ino, ok := meta.dirEntries[name]
	meta.mu.Unlock()
	if !ok {
		return vfs.ErrNotFound
	}

	target := ms.metaOf(ino)
	if target == nil {
		return vfs.ErrNotFound
	}
	target.mu.Lock()
	if !target.mode.IsDir() {
		target.mu.Unlock()
		return vfs.ErrNotADirectory
	}
	empty := len(target.dirEntries) == 0
	target.mu.Unlock()
	if !empty {
		return vfs.ErrInvalidArgument
	}

	meta.mu.Lock()
	delete(meta.dirEntries, name)
	now := time.Now()
	meta.mtime, meta.ctime = now, now
	meta.mu.Unlock()

	ms.mu.Lock()
	delete(ms.metas, ino)
	ms.mu.Unlock()
	return nil
}

// Rename moves oldName out of oldDir's table into newDir's table under
// newName. The ascending-inode-number directory lock (spec.md §4.D/§5,
// property 7) is taken at the *vfs.Inode* level via
// vfs.LockDirsForRename; the meta-table mutation below only ever holds
// one meta's lock at a time, so it can't reintroduce a cross-directory
// deadlock independent of that ordering.
func (ms *mountState) Rename(oldDir *vfs.Inode, oldName string, newDir *vfs.Inode, newName string) error {
	unlock := vfs.LockDirsForRename(oldDir, newDir)
	defer unlock()

	oldMeta := ms.metaOf(oldDir.Ino())
	newMeta := ms.metaOf(newDir.Ino())
	if oldMeta == nil || newMeta == nil || oldMeta.dirEntries == nil || newMeta.dirEntries == nil {
		return vfs.ErrNotADirectory
	}

	oldMeta.mu.Lock()
	ino, ok := oldMeta.dirEntries[oldName]
	if !ok {
		oldMeta.mu.Unlock()
		return vfs.ErrNotFound
	}
	delete(oldMeta.dirEntries, oldName)
	now := time.Now()
	oldMeta.mtime, oldMeta.ctime = now, now
	oldMeta.mu.Unlock()

	newMeta.mu.Lock()
	newMeta.dirEntries[newName] = ino
	newMeta.mtime, newMeta.ctime = now, now
	newMeta.mu.Unlock()

	return nil
}

func (ms *mountState) Readdir(dir *vfs.Inode) ([]vfs.DirEntry, error) {
	meta := ms.metaOf(dir.Ino())
	if meta == nil || meta.dirEntries == nil {
		return nil, vfs.ErrNotADirectory
	}

	meta.mu.Lock()
	defer meta.mu.Unlock()

	entries := make([]vfs.DirEntry, 0, len(meta.dirEntries))
	for name, ino := range meta.dirEntries {
		childType := vfs.FileMode(0)
		if child := ms.metaOf(ino); child != nil {
			child.mu.Lock()
			childType = child.mode
			child.mu.Unlock()
		}
		entries = append(entries, vfs.DirEntry{Ino: ino, Name: name, Type: childType})
	}
	return entries, nil
}

func (ms *mountState) Getxattr(inode *vfs.Inode, name string) (string, error) {
	meta := ms.metaOf(inode.Ino())
	if meta == nil {
		return "", vfs.ErrNotFound
	}
	meta.mu.Lock()
	defer meta.mu.Unlock()
	v, ok := meta.xattrs[name]
	if !ok {
		return "", vfs.ErrNotFound
	}
	return v, nil
}

func (ms *mountState) Setxattr(inode *vfs.Inode, name, value string) error {
	meta := ms.metaOf(inode.Ino())
	if meta == nil {
		return vfs.ErrNotFound
	}
	meta.mu.Lock()
	meta.xattrs[name] = value
	meta.ctime = time.Now()
	meta.mu.Unlock()
	return nil
}

func (ms *mountState) Listxattr(inode *vfs.Inode) ([]string, error) {
	meta := ms.metaOf(inode.Ino())
	if meta == nil {
		return nil, vfs.ErrNotFound
	}
	meta.mu.Lock()
	defer meta.mu.Unlock()
	out := make([]string, 0, len(meta.xattrs))
	for k := range meta.xattrs {
		out = append(out, k)
	}
	return out, nil
}

func (ms *mountState) Removexattr(inode *vfs.Inode, name string) error {
	meta := ms.metaOf(inode.Ino())
	if meta == nil {
		return vfs.ErrNotFound
	}
	meta.mu.Lock()
	delete(meta.xattrs, name)
	meta.ctime = time.Now()
	meta.mu.Unlock()
	return nil
}
