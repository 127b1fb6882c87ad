package block

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// S4 — Read-only write refusal.
func TestMemoryDeviceReadOnlyWriteRefused(t *testing.T) {
	dev := NewMemoryDevice(4096, 512, 4096, true, "romem", 8, 0, nil)
	defer dev.Close()

	before := make([]byte, 512)
	_, _ = dev.Read(0, before)

	buf := make([]byte, 512)
	for i := range buf {
		buf[i] = 0xAA
	}
	n, err := dev.Write(0, buf)
	require.ErrorIs(t, err, ErrReadOnly)
	require.Equal(t, 0, n)

	after := make([]byte, 512)
	_, _ = dev.Read(0, after)
	require.Equal(t, before, after)
}

func TestMemoryDeviceReadWriteRoundTrip(t *testing.T) {
	dev := NewMemoryDevice(4096, 512, 4096, false, "mem", 8, 0, nil)
	defer dev.Close()

	payload := []byte("hello")
	n, err := dev.Write(0, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, 5)
	n, err = dev.Read(0, buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, payload, buf)
}

func TestMemoryDeviceClampsAtEnd(t *testing.T) {
	dev := NewMemoryDevice(1024, 512, 512, false, "mem", 8, 0, nil)
	defer dev.Close()

	buf := make([]byte, 600)
	n, err := dev.Read(1, buf) // sector 1 = byte 512, device ends at 1024
	require.NoError(t, err)
	require.Equal(t, 512, n)
}

func TestMemoryDeviceOutOfRangeStartFails(t *testing.T) {
	dev := NewMemoryDevice(1024, 512, 512, false, "mem", 8, 0, nil)
	defer dev.Close()

	buf := make([]byte, 16)
	_, err := dev.Read(100, buf)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMemoryDeviceTrimZeroFills(t *testing.T) {
	dev := NewMemoryDevice(1024, 512, 512, false, "mem", 8, 0, nil)
	defer dev.Close()

	buf := make([]byte, 512)
	for i := range buf {
		buf[i] = 0xFF
	}
	_, err := dev.Write(0, buf)
	require.NoError(t, err)

	require.NoError(t, dev.Trim(0, 512))

	out := make([]byte, 512)
	_, _ = dev.Read(0, out)
	for _, b := range out {
		require.EqualValues(t, 0, b)
	}
}

// Submission-order serialization: many concurrent async writes to disjoint
// sectors must all land, and submitBio must not race with Close.
func TestMemoryDeviceAsyncBioCompletes(t *testing.T) {
	dev := NewMemoryDevice(4096, 512, 512, false, "mem", 8, 0, nil)
	defer dev.Close()

	var wg sync.WaitGroup
	const n = 8
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		buf := make([]byte, 512)
		buf[0] = byte(i)
		idx := i
		dev.SubmitBio(&Bio{
			Kind:   BioWrite,
			Sector: Sector(i),
			Len:    512,
			Buffer: buf,
			Done: func(err error) {
				errs[idx] = err
				wg.Done()
			},
		})
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "bio %d", i)
	}

	for i := 0; i < n; i++ {
		out := make([]byte, 512)
		_, err := dev.Read(Sector(i), out)
		require.NoError(t, err)
		require.Equal(t, byte(i), out[0])
	}
}

func TestFileDeviceReadOnly(t *testing.T) {
	path := t.TempDir() + "/disk.img"
	dev, err := NewFileDevice(path, 4096, 512, 4096, false, true, "filedev", 8, 1, nil)
	require.NoError(t, err)
	buf := []byte("abcdefgh")
	_, err = dev.Write(0, buf)
	require.NoError(t, err)
	require.NoError(t, dev.Close())

	roDev, err := NewFileDevice(path, 0, 512, 4096, true, false, "filedev", 8, 1, nil)
	require.NoError(t, err)
	defer roDev.Close()

	out := make([]byte, 8)
	_, err = roDev.Read(0, out)
	require.NoError(t, err)
	require.Equal(t, buf, out)

	_, err = roDev.Write(0, buf)
	require.ErrorIs(t, err, ErrReadOnly)
}
