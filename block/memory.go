package block

import (
	"sync"

	"vfscore/logging"
)

// queueDepth bounds the in-memory device's FIFO request queue.
const queueDepth = 256

// MemoryDevice is an in-memory backed block device. Synchronous Read/Write
// operate directly on the backing slice under a mutex; asynchronous BIOs
// are served by a single dedicated worker goroutine draining a bounded
// FIFO queue in submission order, mirroring a condvar-guarded request
// queue with a dedicated worker thread.
type MemoryDevice struct {
	mu   sync.Mutex
	data []byte

	sectorSize int
	blockSize  int
	readonly   bool
	name       string
	major      uint32
	minor      uint32

	queue  chan *Bio
	done   chan struct{}
	closed bool
	wg     sync.WaitGroup

	log *logging.Logger
}

// NewMemoryDevice creates an in-memory block device of the given size in
// bytes. log may be nil, in which case a no-op logger is used.
func NewMemoryDevice(size int64, sectorSize, blockSize int, readonly bool, name string, major, minor uint32, log *logging.Logger) *MemoryDevice {
	if log == nil {
		log = logging.Nop()
	}
	dev := &MemoryDevice{
		data:       make([]byte, size),
		sectorSize: sectorSize,
		blockSize:  blockSize,
		readonly:   readonly,
		name:       name,
		major:      major,
		minor:      minor,
		queue:      make(chan *Bio, queueDepth),
		done:       make(chan struct{}),
		log:        logging.Named(log, "block.memory"),
	}
	dev.wg.Add(1)
	go dev.loop()
	return dev
}

func (d *MemoryDevice) Size() int64      { return int64(len(d.data)) }
func (d *MemoryDevice) SectorSize() int  { return d.sectorSize }
func (d *MemoryDevice) BlockSize() int   { return d.blockSize }
func (d *MemoryDevice) ReadOnly() bool   { return d.readonly }
func (d *MemoryDevice) Name() string     { return d.name }
func (d *MemoryDevice) Major() uint32    { return d.major }
func (d *MemoryDevice) Minor() uint32    { return d.minor }

func (d *MemoryDevice) Read(sector Sector, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := int64(sector) * int64(d.sectorSize)
	n, ok := clampLen(int64(len(d.data)), start, len(buf))
	if !ok {
		return 0, ErrInvalidArgument
	}
	copy(buf[:n], d.data[start:start+int64(n)])
	return n, nil
}

func (d *MemoryDevice) Write(sector Sector, buf []byte) (int, error) {
	if d.readonly {
		return 0, ErrReadOnly
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	start := int64(sector) * int64(d.sectorSize)
	n, ok := clampLen(int64(len(d.data)), start, len(buf))
	if !ok {
		return 0, ErrInvalidArgument
	}
	copy(d.data[start:start+int64(n)], buf[:n])
	return n, nil
}

// Flush is a no-op: the memory device has no durability boundary to cross.
func (d *MemoryDevice) Flush() error { return nil }

func (d *MemoryDevice) Trim(sector Sector, length int) error {
	if d.readonly {
		return ErrReadOnly
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	start := int64(sector) * int64(d.sectorSize)
	n, ok := clampLen(int64(len(d.data)), start, length)
	if !ok {
		return ErrInvalidArgument
	}
	for i := start; i < start+int64(n); i++ {
		d.data[i] = 0
	}
	return nil
}

// SubmitBio enqueues the request for the worker goroutine. Requests for
// this device complete in submission order.
func (d *MemoryDevice) SubmitBio(bio *Bio) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()

	if closed {
		bio.Done(ErrClosed)
		return
	}
	d.queue <- bio
}

// Close signals the worker to stop accepting new work, drains whatever is
// already queued, then joins the worker goroutine.
func (d *MemoryDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	close(d.queue)
	d.wg.Wait()
	return nil
}

func (d *MemoryDevice) loop() {
	defer d.wg.Done()
	defer close(d.done)

	for bio := range d.queue {
		d.process(bio)
	}
}

func (d *MemoryDevice) process(bio *Bio) {
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
