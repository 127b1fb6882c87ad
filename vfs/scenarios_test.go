package vfs_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vfscore/block"
	"vfscore/fsimpl/memfs"
	"vfscore/pagecache"
	"vfscore/vfs"
)

func mountMemfs(t *testing.T, maxPages int) (*vfs.VFS, block.Device) {
	dev := block.NewMemoryDevice(4*1024*1024, 512, 4096, false, "mem0", 8, 0, nil)
	t.Cleanup(func() { dev.Close() })

	cache := pagecache.New(maxPages, nil)
	v := vfs.NewVFS(cache, nil)
	fs := memfs.New(cache, nil)
	v.RegisterFileSystem(fs)

	_, err := v.Mount(dev, "/", "memfs", 0, "")
	require.NoError(t, err)

	return v, dev
}

// S1 — single-page write-then-read.
func TestScenarioS1SinglePageWriteThenRead(t *testing.T) {
	v, _ := mountMemfs(t, pagecache.DefaultMaxPages)

	f, err := v.Open("/a", vfs.O_CREAT|vfs.O_RDWR, 0o644)
	require.NoError(t, err)

	n, err := f.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	_, err = f.Seek(0, vfs.SeekSet)
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err = f.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))

	require.EqualValues(t, 5, f.Fstat().Size)
	require.NoError(t, f.Close())
}

// S2 — multi-page write crossing a page boundary.
func TestScenarioS2MultiPageWriteCrossesBoundary(t *testing.T) {
	v, _ := mountMemfs(t, pagecache.DefaultMaxPages)

	f, err := v.Open("/big", vfs.O_CREAT|vfs.O_RDWR, 0o644)
	require.NoError(t, err)

	payload := make([]byte, 5000)
	for i := range payload {
		payload[i] = byte(i & 0xFF)
	}
	n, err := f.Write(payload)
	require.NoError(t, err)
	require.Equal(t, 5000, n)
	require.EqualValues(t, 5000, f.Fstat().Size)

	in := f.Dentry().Inode()
	p0, ok := v.Cache().FindPage(in, 0)
	require.True(t, ok)
	require.True(t, p0.IsDirty())
	p0.Unpin()

	p1, ok := v.Cache().FindPage(in, 4096)
	require.True(t, ok)
	require.True(t, p1.IsDirty())
	p1.Unpin()

	before := v.Cache().Snapshot().Writebacks
	require.NoError(t, f.Fsync())
	require.EqualValues(t, 2, v.Cache().Snapshot().Writebacks-before)

	p0, ok = v.Cache().FindPage(in, 0)
	require.True(t, ok)
	require.True(t, p0.IsUptodate())
	p0.Unpin()

	require.NoError(t, f.Close())
}

// S3 — LRU eviction with a 2-page cache.
func TestScenarioS3LRUEviction(t *testing.T) {
	v, _ := mountMemfs(t, 2)

	f, err := v.Open("/lru", vfs.O_CREAT|vfs.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 3*4096))
	require.NoError(t, err)
	require.NoError(t, f.Fsync())

	in := f.Dentry().Inode()
	cache := v.Cache()

	for _, off := range []int64{0, 4096, 8192} {
		p, err := cache.ReadPage(in, off)
		require.NoError(t, err)
		p.Unpin()
	}

	statsAfter := cache.Snapshot()
	require.GreaterOrEqual(t, statsAfter.Evictions, uint64(1))

	_, ok := cache.FindPage(in, 0)
	require.False(t, ok, "offset 0 should have been evicted")

	before := cache.Snapshot().Misses
	p, err := cache.ReadPage(in, 0)
	require.NoError(t, err)
	p.Unpin()
	after := cache.Snapshot().Misses
	require.Greater(t, after, before)

	require.NoError(t, f.Close())
}

// S6 — rename deadlock freedom.
func TestScenarioS6RenameDeadlockFreedom(t *testing.T) {
	v, _ := mountMemfs(t, pagecache.DefaultMaxPages)

	require.NoError(t, v.Mkdir("/d1", 0o755))
	require.NoError(t, v.Mkdir("/d2", 0o755))
	f1, err := v.Open("/d1/a", vfs.O_CREAT|vfs.O_RDWR, 0o644)
	require.NoError(t, err)
	require.NoError(t, f1.Close())
	f2, err := v.Open("/d2/x", vfs.O_CREAT|vfs.O_RDWR, 0o644)
	require.NoError(t, err)
	require.NoError(t, f2.Close())

	var wg sync.WaitGroup
	wg.Add(2)
	errs := make([]error, 2)

	go func() {
		defer wg.Done()
		errs[0] = v.Rename("/d1/a", "/d2/b")
	}()
	go func() {
		defer wg.Done()
		errs[1] = v.Rename("/d2/x", "/d1/y")
	}()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("rename pair deadlocked")
	}

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	_, err = v.Stat("/d2/b")
	require.NoError(t, err)
	_, err = v.Stat("/d1/y")
	require.NoError(t, err)
}

// Property 2 — write-then-read round trip and size growth.
func TestPropertyWriteThenReadRoundTrip(t *testing.T) {
	v, _ := mountMemfs(t, pagecache.DefaultMaxPages)

	f, err := v.Open("/rt", vfs.O_CREAT|vfs.O_RDWR, 0o644)
	require.NoError(t, err)

	_, err = f.Write([]byte("0123456789"))
	require.NoError(t, err)

	_, err = f.Seek(20, vfs.SeekSet)
	require.NoError(t, err)
	_, err = f.Write([]byte("tail"))
	require.NoError(t, err)
	require.EqualValues(t, 24, f.Fstat().Size)

	_, err = f.Seek(0, vfs.SeekSet)
	require.NoError(t, err)
	buf := make([]byte, 10)
	n, err := f.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 10, n)
	require.Equal(t, "0123456789", string(buf))

	require.NoError(t, f.Close())
}

// Property 8 — path walk and `..` resolution.
func TestPropertyPathWalkDotDotAndNonDirectory(t *testing.T) {
	v, _ := mountMemfs(t, pagecache.DefaultMaxPages)

	require.NoError(t, v.Mkdir("/a", 0o755))
	require.NoError(t, v.Mkdir("/a/b", 0o755))

	viaDotDot, err := v.Lookup("/a/b/..")
	require.NoError(t, err)
	direct, err := v.Lookup("/a")
	require.NoError(t, err)
	require.Same(t, direct.Inode(), viaDotDot.Inode())

	f, err := v.Open("/a/file", vfs.O_CREAT|vfs.O_RDWR, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = v.Lookup("/a/file/nope")
	require.ErrorIs(t, err, vfs.ErrNotADirectory)
}

// Property 9 — truncate causes EOF reads beyond the new size.
func TestPropertyTruncateEOF(t *testing.T) {
	v, _ := mountMemfs(t, pagecache.DefaultMaxPages)

	f, err := v.Open("/trunc", vfs.O_CREAT|vfs.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 100))
	require.NoError(t, err)

	require.NoError(t, f.Truncate(40))

	buf := make([]byte, 10)
	n, err := f.Dentry().Inode().Read(50, buf)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	require.NoError(t, f.Close())
}

// Property 10 — hit rate converges to 1.0 when the working set fits.
func TestPropertyHitRateConverges(t *testing.T) {
	v, _ := mountMemfs(t, pagecache.DefaultMaxPages)

	f, err := v.Open("/hot", vfs.O_CREAT|vfs.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 4096))
	require.NoError(t, err)
	require.NoError(t, f.Fsync())

	in := f.Dentry().Inode()
	cache := v.Cache()
	for i := 0; i < 50; i++ {
		p, err := cache.ReadPage(in, 0)
		require.NoError(t, err)
		p.Unpin()
	}

	require.Greater(t, cache.Snapshot().HitRate(), 0.9)
	require.NoError(t, f.Close())
}
