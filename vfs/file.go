package vfs

import "sync"

// File is an open-file handle: a dentry, open flags, and a current byte
// position. Read/Write/Seek take the file's own lock; content and
// metadata operations delegate to the bound inode.
type File struct {
	mu sync.Mutex

	dentry *Dentry
	flags  OpenFlag
	pos    int64

	refCount int32
}

// NewFile is called by VFS.Open once a dentry has been resolved (or
// created).
func NewFile(dentry *Dentry, flags OpenFlag) *File {
	dentry.Pin()
	return &File{dentry: dentry, flags: flags, refCount: 1}
}

func (f *File) Dentry() *Dentry { return f.dentry }
func (f *File) Flags() OpenFlag { return f.flags }

func (f *File) inode() *Inode { return f.dentry.Inode() }

// Read reads into buf starting at the file's current position, then
// advances the position by the number of bytes read.
func (f *File) Read(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.inode().Read(f.pos, buf)
	f.pos += int64(n)
	return n, err
}

// Write writes buf at the file's current position (or at end-of-file if
// opened with O_APPEND), then advances the position.
func (f *File) Write(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.flags.writable() {
		return 0, ErrPermissionDenied
	}

	in := f.inode()
	pos := f.pos
	if f.flags&O_APPEND != 0 {
		pos = in.Getattr().Size
	}

	n, err := in.Write(pos, buf)
	f.pos = pos + int64(n)
	return n, err
}

// Seek repositions the file per whence and returns the new position.
func (f *File) Seek(offset int64, whence Whence) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var base int64
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = f.pos
	case SeekEnd:
		base = f.inode().Getattr().Size
	default:
		return 0, ErrInvalidArgument
	}

	newPos := base + offset
	if newPos < 0 {
		return 0, ErrInvalidArgument
	}
	f.pos = newPos
	return newPos, nil
}

// Fsync delegates to the inode's Sync.
func (f *File) Fsync() error { return f.inode().Sync() }

// Truncate delegates to the inode's Truncate.
func (f *File) Truncate(newSize int64) error { return f.inode().Truncate(newSize) }

// Readdir delegates to the inode's Readdir.
func (f *File) Readdir() ([]DirEntry, error) { return f.inode().Readdir() }

// Fstat returns the inode's attribute record.
func (f *File) Fstat() Attr { return f.inode().Getattr() }

// Close drops the file's reference to its dentry.
func (f *File) Close() error {
	f.dentry.Unpin()
	return nil
}
