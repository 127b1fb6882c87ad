// Package ext4 is a stub filesystem type: it satisfies
// vfs.FileSystemType, vfs.InodeOperations, and vfs.SuperBlockOperations
// so the VFS contract is demonstrably satisfiable by a second
// filesystem implementation, but it parses no on-disk layout. Mount,
// Unmount and Name succeed; everything else returns
// vfs.ErrNotImplemented, matching
// the stub EXT4 component in original_source/fs/include/ext4.h.
package ext4

import (
	"vfscore/block"
	"vfscore/pagecache"
	"vfscore/vfs"
)

type FS struct {
	cache *pagecache.Cache
}

func New(cache *pagecache.Cache) *FS {
	return &FS{cache: cache}
}

func (f *FS) Name() string { return "ext4" }

func (f *FS) Mount(device block.Device, flags vfs.MountFlag, options string) (*vfs.SuperBlock, error) {
	sb := vfs.NewSuperBlock(device, f, f, f.cache, flags)
	root := sb.NewInode(1, f, vfs.Attr{Mode: vfs.ModeDir | 0o755, Nlink: 1, Blksize: int64(device.BlockSize())})
	sb.InsertInode(root)
	sb.SetRoot(vfs.NewDentry("", root, nil))
	return sb, nil
}

func (f *FS) Unmount(sb *vfs.SuperBlock) error { return nil }

func (f *FS) Statfs(sb *vfs.SuperBlock, out *vfs.StatfsResult) error {
	return vfs.ErrNotImplemented
}

func (f *FS) AllocInode(sb *vfs.SuperBlock, mode vfs.FileMode) (*vfs.Inode, error) {
	return nil, vfs.ErrNotImplemented
}
func (f *FS) FreeInode(sb *vfs.SuperBlock, ino uint64) error { return vfs.ErrNotImplemented }
func (f *FS) ReadInode(sb *vfs.SuperBlock, ino uint64) (*vfs.Inode, error) {
	return nil, vfs.ErrNotImplemented
}
func (f *FS) WriteInode(sb *vfs.SuperBlock, inode *vfs.Inode) error { return vfs.ErrNotImplemented }
func (f *FS) Sync(sb *vfs.SuperBlock) error                        { return vfs.ErrNotImplemented }
func (f *FS) Remount(sb *vfs.SuperBlock, flags vfs.MountFlag) error { return vfs.ErrNotImplemented }

func (f *FS) Lookup(dir *vfs.Inode, name string) (*vfs.Inode, error) {
	return nil, vfs.ErrNotImplemented
}
func (f *FS) Create(dir *vfs.Inode, name string, mode vfs.FileMode) (*vfs.Inode, error) {
	return nil, vfs.ErrNotImplemented
}
func (f *FS) Unlink(dir *vfs.Inode, name string) error { return vfs.ErrNotImplemented }
func (f *FS) Mkdir(dir *vfs.Inode, name string, mode vfs.FileMode) (*vfs.Inode, error) {
	return nil, vfs.ErrNotImplemented
}
func (f *FS) Rmdir(dir *vfs.Inode, name string) error { return vfs.ErrNotImplemented }
func (f *FS) Rename(oldDir *vfs.Inode, oldName string, newDir *vfs.Inode, newName string) error {
	return vfs.ErrNotImplemented
}
func (f *FS) Readdir(dir *vfs.Inode) ([]vfs.DirEntry, error) { return nil, vfs.ErrNotImplemented }

func (f *FS) Getxattr(inode *vfs.Inode, name string) (string, error) {
	return "", vfs.ErrNotImplemented
}
func (f *FS) Setxattr(inode *vfs.Inode, name, value string) error { return vfs.ErrNotImplemented }
func (f *FS) Listxattr(inode *vfs.Inode) ([]string, error)        { return nil, vfs.ErrNotImplemented }
func (f *FS) Removexattr(inode *vfs.Inode, name string) error     { return vfs.ErrNotImplemented }
