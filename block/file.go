package block

import (
	"os"
	"sync"

	"vfscore/logging"
)

// FileDevice is a host-file backed block device. Synchronous operations
// use pread/pwrite-style positioned I/O; submitted BIOs run inline on the
// submitting goroutine before SubmitBio returns, since a file-backed
// device already blocks on the host OS for durability.
type FileDevice struct {
	mu   sync.Mutex
	file *os.File
	size int64

	sectorSize int
	blockSize  int
	readonly   bool
	name       string
	major      uint32
	minor      uint32

	closed bool
	log    *logging.Logger
}

// NewFileDevice opens (or creates, if create is true) a host file of the
// given size and wraps it as a block device.
func NewFileDevice(path string, size int64, sectorSize, blockSize int, readonly bool, create bool, name string, major, minor uint32, log *logging.Logger) (*FileDevice, error) {
	if log == nil {
		log = logging.Nop()
	}

	flag := os.O_RDWR
	if readonly {
		flag = os.O_RDONLY
	}
	if create {
		flag |= os.O_CREATE
	}

	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, err
	}

	if create && !readonly {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		size = info.Size()
	}

	return &FileDevice{
		file:       f,
		size:       size,
		sectorSize: sectorSize,
		blockSize:  blockSize,
		readonly:   readonly,
		name:       name,
		major:      major,
		minor:      minor,
		log:        logging.Named(log, "block.file"),
	}, nil
}

func (d *FileDevice) Size() int64     { return d.size }
func (d *FileDevice) SectorSize() int { return d.sectorSize }
func (d *FileDevice) BlockSize() int  { return d.blockSize }
func (d *FileDevice) ReadOnly() bool  { return d.readonly }
func (d *FileDevice) Name() string    { return d.name }
func (d *FileDevice) Major() uint32   { return d.major }
func (d *FileDevice) Minor() uint32   { return d.minor }

func (d *FileDevice) Read(sector Sector, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := int64(sector) * int64(d.sectorSize)
	n, ok := clampLen(d.size, start, len(buf))
	if !ok {
		return 0, ErrInvalidArgument
	}
	read, err := d.file.ReadAt(buf[:n], start)
	if err != nil {
		return read, ErrIO
	}
	return read, nil
}

func (d *FileDevice) Write(sector Sector, buf []byte) (int, error) {
	if d.readonly {
		return 0, ErrReadOnly
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	start := int64(sector) * int64(d.sectorSize)
	n, ok := clampLen(d.size, start, len(buf))
	if !ok {
		return 0, ErrInvalidArgument
	}
	written, err := d.file.WriteAt(buf[:n], start)
	if err != nil {
		return written, ErrIO
	}
	return written, nil
}

func (d *FileDevice) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.file.Sync(); err != nil {
		return ErrIO
	}
	return nil
}

func (d *FileDevice) Trim(sector Sector, length int) error {
	if d.readonly {
		return ErrReadOnly
	}
	// TRIM has no effect on a plain host file backing; the space isn't
	// reclaimed and the bytes aren't specified to become zero.
	return nil
}

// SubmitBio runs the request inline: the callback fires before this
// method returns.
func (d *FileDevice) SubmitBio(bio *Bio) {
	var err error
	switch bio.Kind {
	case BioRead:
		_, err = d.Read(bio.Sector, bio.Buffer[:bio.Len])
	case BioWrite:
		_, err = d.Write(bio.Sector, bio.Buffer[:bio.Len])
	case BioFlush:
		err = d.Flush()
	case BioDiscard:
		err = d.Trim(bio.Sector, bio.Len)
	default:
		err = ErrInvalidArgument
	}
	if err != nil {
		d.log.Debugw("bio failed", "kind", bio.Kind.String(), "sector", bio.Sector, "err", err)
	}
	bio.Done(err)
}

func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.file.Close()
}
