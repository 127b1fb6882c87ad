package vfs

import "time"

// OpenFlag is a bitmask of file-open flags. Values match Linux's
// syscall.O_* constants so a future libc/syscall shim can pass them
// through unchanged (spec.md §6).
type OpenFlag int

const (
	O_RDONLY OpenFlag = 0x0
	O_WRONLY OpenFlag = 0x1
	O_RDWR   OpenFlag = 0x2
	O_CREAT  OpenFlag = 0x40
	O_TRUNC  OpenFlag = 0x200
	O_APPEND OpenFlag = 0x400
)

func (f OpenFlag) writable() bool { return f&(O_WRONLY|O_RDWR) != 0 }

// Whence is a seek origin.
type Whence int

const (
	SeekSet Whence = 0
	SeekCur Whence = 1
	SeekEnd Whence = 2
)

// FileMode is a UNIX-style mode word: permission bits plus a type bit,
// shaped like os.FileMode without importing it (this core has no
// dependency on the host's filesystem package).
type FileMode uint32

const (
	ModeDir     FileMode = 1 << 31
	ModeSymlink FileMode = 1 << 27
	ModePerm    FileMode = 0o777
)

func (m FileMode) IsDir() bool     { return m&ModeDir != 0 }
func (m FileMode) IsSymlink() bool { return m&ModeSymlink != 0 }
func (m FileMode) IsRegular() bool { return !m.IsDir() && !m.IsSymlink() }
func (m FileMode) Perm() FileMode  { return m & ModePerm }

// MountFlag is a bitmask of mount-time flags.
type MountFlag int

const (
	MountReadOnly MountFlag = 1 << 0
)

// Attr is a file attribute record: the copy-in/copy-out payload for
// getattr/setattr.
type Attr struct {
	Mode    FileMode
	Uid     uint32
	Gid     uint32
	Size    int64
	Blocks  int64
	Nlink   uint32
	Blksize int64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
}

// DirEntry is one materialized row from Readdir: (inode number, name, type).
type DirEntry struct {
	Ino  uint64
	Name string
	Type FileMode
}

// StatfsResult reports filesystem-level capacity.
type StatfsResult struct {
	Blksize     int64
	TotalBlocks uint64
	FreeBlocks  uint64
	TotalInodes uint64
	FreeInodes  uint64
}
