package page

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPageLockBlocksConcurrentLockers(t *testing.T) {
	p := New(Key{Inode: 1, Offset: 0}, nil, nil, nil)
	p.Lock()

	unlocked := make(chan struct{})
	go func() {
		p.Lock()
		close(unlocked)
		p.Unlock()
	}()

	select {
	case <-unlocked:
		t.Fatal("second locker acquired lock while first held it")
	case <-time.After(20 * time.Millisecond):
	}

	p.Unlock()

	select {
	case <-unlocked:
	case <-time.After(time.Second):
		t.Fatal("second locker never acquired lock after unlock")
	}
}

func TestPageUnlockRestoresDirty(t *testing.T) {
	p := New(Key{Inode: 1, Offset: 0}, nil, nil, nil)
	p.MarkDirty()
	require.True(t, p.IsDirty())

	p.Lock()
	require.Equal(t, Locked, p.State())
	p.Unlock()
	require.True(t, p.IsDirty())
}

func TestPageUnlockWithoutDirtyGoesUptodate(t *testing.T) {
	p := New(Key{Inode: 1, Offset: 0}, nil, nil, nil)
	p.SetState(Uptodate)

	p.Lock()
	p.Unlock()
	require.True(t, p.IsUptodate())
}

func TestPageMarkDirtyNotifiesOnce(t *testing.T) {
	var calls int
	var mu sync.Mutex
	p := New(Key{Inode: 1, Offset: 0}, nil, func(*Page) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, nil)

	p.MarkDirty()
	p.MarkDirty() // already dirty, no duplicate notification
	mu.Lock()
	require.Equal(t, 1, calls)
	mu.Unlock()
}

func TestPageClearDirtyNotifies(t *testing.T) {
	var cleared bool
	p := New(Key{Inode: 1, Offset: 0}, nil, nil, func(*Page) { cleared = true })
	p.MarkDirty()
	p.ClearDirty()
	require.True(t, cleared)
	require.True(t, p.IsUptodate())
}

func TestPageUnpinNotifiesOnZero(t *testing.T) {
	var released bool
	p := New(Key{Inode: 1, Offset: 0}, func(*Page) { released = true }, nil, nil)
	p.Pin() // refcount 2
	p.Unpin()
	require.False(t, released)
	p.Unpin()
	require.True(t, released)
}
