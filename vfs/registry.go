package vfs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"vfscore/block"
	"vfscore/logging"
	"vfscore/pagecache"
)

// VfsMount binds a mounted superblock to its mount-point dentry.
type VfsMount struct {
	ID         uuid.UUID
	Device     block.Device
	SuperBlock *SuperBlock
	FsType     string
	MountPoint *Dentry
	Flags      MountFlag
}

// VFS is the top-level registry: a name->FileSystemType table, the
// shared page cache (spec.md §4.C: "Central data plane. One logical
// instance"), the process root dentry, and the list of active mounts.
type VFS struct {
	mu sync.Mutex

	fstypes map[string]FileSystemType
	mounts  []*VfsMount

	cache *pagecache.Cache
	root  *Dentry

	log *logging.Logger
}

// NewVFS creates a registry backed by the given shared page cache.
// Call Mount for the root filesystem before using any path operation.
func NewVFS(cache *pagecache.Cache, log *logging.Logger) *VFS {
	if log == nil {
		log = logging.Nop()
	}
	return &VFS{
		fstypes: make(map[string]FileSystemType),
		cache:   cache,
		log:     logging.Named(log, "vfs"),
	}
}

// RegisterFileSystem adds fstype to the registry, keyed by its Name().
func (v *VFS) RegisterFileSystem(fstype FileSystemType) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fstypes[fstype.Name()] = fstype
}

// Cache returns the shared page cache.
func (v *VFS) Cache() *pagecache.Cache { return v.cache }

// Mount resolves fstypeName, invokes its Mount, records a VfsMount, and
// installs the superblock's root dentry at mountpoint. Mounting the
// first filesystem at "/" establishes the process root. A device that
// is already mounted is refused with ErrBusy.
func (v *VFS) Mount(device block.Device, mountpoint, fstypeName string, flags MountFlag, options string) (*VfsMount, error) {
	v.mu.Lock()
	fstype, ok := v.fstypes[fstypeName]
	busy := false
	for _, m := range v.mounts {
		if m.Device == device {
			busy = true
		}
	}
	v.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("vfs: unknown filesystem type %q: %w", fstypeName, ErrInvalidArgument)
	}
	if busy {
		return nil, fmt.Errorf("vfs: device %q already mounted: %w", device.Name(), ErrBusy)
	}

	sb, err := fstype.Mount(device, flags, options)
	if err != nil {
		return nil, fmt.Errorf("vfs: mount %q: %w", fstypeName, err)
	}

	mount := &VfsMount{
		ID:         uuid.New(),
		Device:     device,
		SuperBlock: sb,
		FsType:     fstypeName,
		Flags:      flags,
	}

	v.mu.Lock()
	if v.root == nil && (mountpoint == "/" || mountpoint == "") {
		v.root = sb.Root()
		mount.MountPoint = v.root
		v.mounts = append(v.mounts, mount)
		v.mu.Unlock()
		v.log.Infow("mounted root filesystem", "fstype", fstypeName, "mount_id", mount.ID)
		return mount, nil
	}
	v.mu.Unlock()

	mountDentry, err := v.walk(v.root, mountpoint, true)
	if err != nil {
		_ = fstype.Unmount(sb)
		return nil, err
	}
	if !mountDentry.Inode().Getattr().Mode.IsDir() {
		_ = fstype.Unmount(sb)
		return nil, ErrNotADirectory
	}
	if mountDentry.mountedRoot() != nil {
		_ = fstype.Unmount(sb)
		return nil, ErrBusy
	}

	mountDentry.setMounted(sb.Root())
	mount.MountPoint = mountDentry

	v.mu.Lock()
	v.mounts = append(v.mounts, mount)
	v.mu.Unlock()

	v.log.Infow("mounted filesystem", "fstype", fstypeName, "mountpoint", mountpoint, "mount_id", mount.ID)
	return mount, nil
}

// Unmount tears down the mount rooted at mountpoint.
func (v *VFS) Unmount(mountpoint string) error {
	v.mu.Lock()
	var found *VfsMount
	var idx int
	for i, m := range v.mounts {
		if m.MountPoint != nil && m.MountPoint.GetPath() == mountpoint {
			found = m
			idx = i
			break
		}
	}
	if found == nil {
		v.mu.Unlock()
		return ErrNotMounted
	}
	v.mounts = append(v.mounts[:idx], v.mounts[idx+1:]...)
	v.mu.Unlock()

	if found.MountPoint != v.root {
		found.MountPoint.clearMounted()
	} else {
		v.mu.Lock()
		v.root = nil
		v.mu.Unlock()
	}

	return found.SuperBlock.FsType().Unmount(found.SuperBlock)
}

// Mounts returns a snapshot of the active mount table.
func (v *VFS) Mounts() []*VfsMount {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*VfsMount, len(v.mounts))
	copy(out, v.mounts)
	return out
}

// Lookup resolves path to a dentry, following a trailing symlink.
func (v *VFS) Lookup(path string) (*Dentry, error) {
	return v.walk(v.root, path, true)
}

// Lstat-style resolution: resolves path without following a trailing
// symlink.
func (v *VFS) lookupNoFollow(path string) (*Dentry, error) {
	return v.walk(v.root, path, false)
}

// Open resolves path (creating it if O_CREAT is set and it's absent)
// and returns a File handle.
func (v *VFS) Open(path string, flags OpenFlag, mode FileMode) (*File, error) {
	d, err := v.Lookup(path)
	if errors.Is(err, ErrNotFound) && flags&O_CREAT != 0 {
		parentPath, name := splitParent(path)
		parent, perr := v.Lookup(parentPath)
		if perr != nil {
			return nil, perr
		}
		parentInode := parent.Inode()
		if parentInode == nil || !parentInode.Getattr().Mode.IsDir() {
			return nil, ErrNotADirectory
		}
		childInode, cerr := parentInode.Create(name, mode)
		if cerr != nil {
			return nil, cerr
		}
		d = NewDentry(name, childInode, parent)
		parent.SetChild(name, d)
	} else if err != nil {
		return nil, err
	}

	if d.Inode() == nil {
		return nil, ErrNotFound
	}
	if d.Inode().Getattr().Mode.IsDir() && flags.writable() {
		return nil, ErrIsADirectory
	}
	if flags&O_TRUNC != 0 && flags.writable() {
		if err := d.Inode().Truncate(0); err != nil {
			return nil, err
		}
	}

	return NewFile(d, flags), nil
}

// Close is equivalent to File.Close; kept on VFS for symmetry with the
// exposed-operations table in spec.md §6.
func (v *VFS) Close(f *File) error { return f.Close() }

func (v *VFS) resolveDir(path string) (*Inode, *Dentry, error) {
	d, err := v.Lookup(path)
	if err != nil {
		return nil, nil, err
	}
	in := d.Inode()
	if in == nil {
		return nil, nil, ErrNotFound
	}
	if !in.Getattr().Mode.IsDir() {
		return nil, nil, ErrNotADirectory
	}
	return in, d, nil
}

func (v *VFS) Mkdir(path string, mode FileMode) error {
	parentPath, name := splitParent(path)
	parentInode, parentDentry, err := v.resolveDir(parentPath)
	if err != nil {
		return err
	}
	child, err := parentInode.Mkdir(name, mode|ModeDir)
	if err != nil {
		return err
	}
	parentDentry.SetChild(name, NewDentry(name, child, parentDentry))
	return nil
}

func (v *VFS) Rmdir(path string) error {
	parentPath, name := splitParent(path)
	parentInode, parentDentry, err := v.resolveDir(parentPath)
	if err != nil {
		return err
	}
	if err := parentInode.Rmdir(name); err != nil {
		return err
	}
	parentDentry.RemoveChild(name)
	return nil
}

func (v *VFS) Unlink(path string) error {
	parentPath, name := splitParent(path)
	parentInode, parentDentry, err := v.resolveDir(parentPath)
	if err != nil {
		return err
	}
	if err := parentInode.Unlink(name); err != nil {
		return err
	}
	parentDentry.RemoveChild(name)
	return nil
}

func (v *VFS) Rename(oldPath, newPath string) error {
	oldParentPath, oldName := splitParent(oldPath)
	newParentPath, newName := splitParent(newPath)

	oldParentInode, oldParentDentry, err := v.resolveDir(oldParentPath)
	if err != nil {
		return err
	}
	newParentInode, newParentDentry, err := v.resolveDir(newParentPath)
	if err != nil {
		return err
	}

	if err := oldParentInode.Rename(oldName, newParentInode, newName); err != nil {
		return err
	}

	moved := oldParentDentry.Child(oldName)
	oldParentDentry.RemoveChild(oldName)
	if moved != nil {
		moved.mu.Lock()
		moved.name = newName
		moved.parent = newParentDentry
		moved.mu.Unlock()
		newParentDentry.SetChild(newName, moved)
	} else {
		newParentDentry.RemoveChild(newName)
	}
	return nil
}

func (v *VFS) Symlink(target, linkpath string) error {
	parentPath, name := splitParent(linkpath)
	parentInode, parentDentry, err := v.resolveDir(parentPath)
	if err != nil {
		return err
	}
	child, err := parentInode.Create(name, ModeSymlink|0o777)
	if err != nil {
		return err
	}
	child.SetSymlinkTarget(target)
	if werr := parentInode.SuperBlock().Ops.WriteInode(parentInode.SuperBlock(), child); werr != nil {
		return werr
	}
	parentDentry.SetChild(name, NewDentry(name, child, parentDentry))
	return nil
}

func (v *VFS) Readlink(path string) (string, error) {
	d, err := v.lookupNoFollow(path)
	if err != nil {
		return "", err
	}
	if d.Inode() == nil {
		return "", ErrNotFound
	}
	return d.Inode().Symlink()
}

func (v *VFS) Stat(path string) (Attr, error) {
	d, err := v.Lookup(path)
	if err != nil {
		return Attr{}, err
	}
	if d.Inode() == nil {
		return Attr{}, ErrNotFound
	}
	return d.Inode().Getattr(), nil
}

func (v *VFS) Lstat(path string) (Attr, error) {
	d, err := v.lookupNoFollow(path)
	if err != nil {
		return Attr{}, err
	}
	if d.Inode() == nil {
		return Attr{}, ErrNotFound
	}
	return d.Inode().Getattr(), nil
}

func (v *VFS) Chmod(path string, mode FileMode) error {
	d, err := v.Lookup(path)
	if err != nil {
		return err
	}
	attr := d.Inode().Getattr()
	attr.Mode = (attr.Mode &^ ModePerm) | mode.Perm()
	return d.Inode().Setattr(attr)
}

func (v *VFS) Chown(path string, uid, gid uint32) error {
	d, err := v.Lookup(path)
	if err != nil {
		return err
	}
	attr := d.Inode().Getattr()
	attr.Uid, attr.Gid = uid, gid
	return d.Inode().Setattr(attr)
}

// Sync flushes the shared page cache and every mounted filesystem's
// metadata.
func (v *VFS) Sync() error {
	if err := v.cache.FlushAll(); err != nil {
		return err
	}
	for _, m := range v.Mounts() {
		if err := m.SuperBlock.Sync(); err != nil {
			return err
		}
	}
	return nil
}
