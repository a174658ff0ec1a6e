package ecsfs

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(seed int64, n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func openNew(t *testing.T, fsys *FS, name string) int {
	t.Helper()
	require.NoError(t, fsys.Create(name))
	fd, err := fsys.Open(name)
	require.NoError(t, err)
	return fd
}

func TestRoundTrip(t *testing.T) {
	for _, size := range []int{1, 100, BlockSize - 1, BlockSize, BlockSize + 1, 3*BlockSize + 17, 8 * BlockSize} {
		fsys, _ := newTestFS(t, 16)
		fd := openNew(t, fsys, "f")
		want := randomBytes(int64(size), size)
		n, err := fsys.Write(fd, want)
		require.NoError(t, err)
		require.Equal(t, size, n)

		require.NoError(t, fsys.Lseek(fd, 0))
		got := make([]byte, size+BlockSize)
		n, err = fsys.Read(fd, got)
		require.NoError(t, err)
		require.Equal(t, size, n, "read clamps to file size")
		assert.Equal(t, want, got[:n])

		info, _ := fsys.Info()
		assert.Equal(t, 16-(size+BlockSize-1)/BlockSize, info.FreeBlocks)
		assert.NoError(t, fsys.Check())
	}
}

func TestWriteInPieces(t *testing.T) {
	fsys, dev := newTestFS(t, 16)
	fd := openNew(t, fsys, "f")
	want := randomBytes(1, 5*BlockSize+123)
	for _, piece := range []int{7, BlockSize - 7, 1, 2*BlockSize + 3000, 999} {
		n, err := fsys.Write(fd, want[:piece])
		require.NoError(t, err)
		require.Equal(t, piece, n)
		want = want[piece:]
	}
	full := randomBytes(1, 5*BlockSize+123)
	full = full[:len(full)-len(want)]

	size, err := fsys.Stat(fd)
	require.NoError(t, err)
	require.EqualValues(t, len(full), size)

	// Read back in pieces that straddle block boundaries.
	require.NoError(t, fsys.Lseek(fd, 0))
	var got []byte
	buf := make([]byte, 1000)
	for {
		n, err := fsys.Read(fd, buf)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, full, got)
	require.NoError(t, fsys.Close(fd))

	remount(t, fsys, dev)
	fd, err = fsys.Open("f")
	require.NoError(t, err)
	got = make([]byte, len(full))
	_, err = fsys.Read(fd, got)
	require.NoError(t, err)
	assert.Equal(t, full, got)
}

func TestOverwrite(t *testing.T) {
	fsys, _ := newTestFS(t, 8)
	fd := openNew(t, fsys, "f")
	_, err := fsys.Write(fd, []byte("hello world"))
	require.NoError(t, err)

	require.NoError(t, fsys.Lseek(fd, 6))
	n, err := fsys.Write(fd, []byte("WORLD!"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	size, _ := fsys.Stat(fd)
	assert.EqualValues(t, 12, size)

	require.NoError(t, fsys.Lseek(fd, 0))
	n, err = fsys.Write(fd, []byte("J"))
	require.NoError(t, err)
	size, _ = fsys.Stat(fd)
	assert.EqualValues(t, 12, size, "writing never shrinks a file")

	require.NoError(t, fsys.Lseek(fd, 0))
	buf := make([]byte, 64)
	n, err = fsys.Read(fd, buf)
	require.NoError(t, err)
	assert.Equal(t, "Jello WORLD!", string(buf[:n]))
	info, _ := fsys.Info()
	assert.Equal(t, 7, info.FreeBlocks)
}

func TestOverwriteAcrossBlocks(t *testing.T) {
	fsys, _ := newTestFS(t, 8)
	fd := openNew(t, fsys, "f")
	want := randomBytes(2, 3*BlockSize)
	_, err := fsys.Write(fd, want)
	require.NoError(t, err)

	patch := bytes.Repeat([]byte{0xee}, BlockSize+200)
	off := BlockSize - 100
	require.NoError(t, fsys.Lseek(fd, int64(off)))
	_, err = fsys.Write(fd, patch)
	require.NoError(t, err)
	copy(want[off:], patch)

	require.NoError(t, fsys.Lseek(fd, 0))
	got := make([]byte, len(want))
	_, err = fsys.Read(fd, got)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	info, _ := fsys.Info()
	assert.Equal(t, 5, info.FreeBlocks)
}

func TestIndependentCursors(t *testing.T) {
	fsys, _ := newTestFS(t, 8)
	fd1 := openNew(t, fsys, "f")
	_, err := fsys.Write(fd1, []byte("abcdef"))
	require.NoError(t, err)

	fd2, err := fsys.Open("f")
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = fsys.Read(fd2, buf)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(buf))

	_, err = fsys.Write(fd1, []byte("gh"))
	require.NoError(t, err)
	_, err = fsys.Read(fd2, buf)
	require.NoError(t, err)
	assert.Equal(t, "cd", string(buf))

	off1, _ := fsys.Tell(fd1)
	off2, _ := fsys.Tell(fd2)
	assert.EqualValues(t, 8, off1)
	assert.EqualValues(t, 4, off2)
	size, _ := fsys.Stat(fd2)
	assert.EqualValues(t, 8, size)
}

func TestZeroLength(t *testing.T) {
	fsys, _ := newTestFS(t, 8)
	fd := openNew(t, fsys, "f")
	_, err := fsys.Read(fd, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = fsys.Write(fd, []byte{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	n, err := fsys.Read(fd, make([]byte, 10))
	require.NoError(t, err, "read of empty file")
	assert.Zero(t, n)
}

func TestShortWrite(t *testing.T) {
	fsys, _ := newTestFS(t, 3)
	fd := openNew(t, fsys, "f")
	data := randomBytes(3, 4*BlockSize)

	n, err := fsys.Write(fd, data)
	assert.ErrorIs(t, err, ErrNoSpace)
	assert.Equal(t, 3*BlockSize, n)
	size, _ := fsys.Stat(fd)
	assert.EqualValues(t, 3*BlockSize, size)
	off, _ := fsys.Tell(fd)
	assert.EqualValues(t, 3*BlockSize, off)
	info, _ := fsys.Info()
	assert.Zero(t, info.FreeBlocks)

	n, err = fsys.Write(fd, data[:1])
	assert.ErrorIs(t, err, ErrNoSpace)
	assert.Zero(t, n)
	size, _ = fsys.Stat(fd)
	assert.EqualValues(t, 3*BlockSize, size)

	require.NoError(t, fsys.Lseek(fd, 0))
	got := make([]byte, len(data))
	n, err = fsys.Read(fd, got)
	require.NoError(t, err)
	assert.Equal(t, data[:3*BlockSize], got[:n])
	assert.NoError(t, fsys.Check())
}

func TestShortWriteIntoSlack(t *testing.T) {
	fsys, _ := newTestFS(t, 2)
	fd := openNew(t, fsys, "a")
	_, err := fsys.Write(fd, make([]byte, BlockSize))
	require.NoError(t, err)
	fdb := openNew(t, fsys, "b")
	_, err = fsys.Write(fdb, []byte("0123456789"))
	require.NoError(t, err)

	// The only room left is the rest of b's single block.
	n, err := fsys.Write(fdb, make([]byte, BlockSize))
	assert.ErrorIs(t, err, ErrNoSpace)
	assert.Equal(t, BlockSize-10, n)
	size, _ := fsys.Stat(fdb)
	assert.EqualValues(t, BlockSize, size)

	fdc := openNew(t, fsys, "c")
	n, err = fsys.Write(fdc, []byte("x"))
	assert.ErrorIs(t, err, ErrNoSpace)
	assert.Zero(t, n)
	for fe := range fsys.List() {
		if fe.Name == "c" {
			assert.Equal(t, EOC, fe.FirstBlock)
			assert.Zero(t, fe.Size)
		}
	}
	assert.NoError(t, fsys.Check())
}

func TestWriteDeviceFailure(t *testing.T) {
	dev := newFaultDevice(formatMemory(t, 4))
	var fsys FS
	require.NoError(t, fsys.MountDevice(dev))
	fd := openNew(t, &fsys, "f")
	dataStart := int(fsys.sb.DataStartIndex())
	dev.failWrite = dataStart + 1

	n, err := fsys.Write(fd, randomBytes(4, 3*BlockSize))
	assert.ErrorIs(t, err, ErrIO)
	assert.True(t, errors.Is(err, errInjected))
	assert.Equal(t, BlockSize, n)

	size, _ := fsys.Stat(fd)
	assert.EqualValues(t, BlockSize, size)
	info, _ := fsys.Info()
	assert.Equal(t, 3, info.FreeBlocks, "unwritten blocks are released")
	assert.NoError(t, fsys.Check())

	// Failure on the very first block leaves an empty file empty.
	fd2 := openNew(t, &fsys, "g")
	dev.failWrite = dataStart + 1
	n, err = fsys.Write(fd2, []byte("x"))
	assert.ErrorIs(t, err, ErrIO)
	assert.Zero(t, n)
	size, _ = fsys.Stat(fd2)
	assert.Zero(t, size)
	info, _ = fsys.Info()
	assert.Equal(t, 3, info.FreeBlocks)
	assert.NoError(t, fsys.Check())
}

func TestReadDeviceFailure(t *testing.T) {
	dev := newFaultDevice(formatMemory(t, 4))
	var fsys FS
	require.NoError(t, fsys.MountDevice(dev))
	fd := openNew(t, &fsys, "f")
	_, err := fsys.Write(fd, make([]byte, 2*BlockSize))
	require.NoError(t, err)
	require.NoError(t, fsys.Lseek(fd, 0))

	dev.failRead = int(fsys.sb.DataStartIndex()) + 1
	n, err := fsys.Read(fd, make([]byte, 2*BlockSize))
	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, BlockSize, n)
	off, _ := fsys.Tell(fd)
	assert.EqualValues(t, BlockSize, off)
}

func TestReadCorruptChain(t *testing.T) {
	fsys, _ := newTestFS(t, 8)
	fd := openNew(t, fsys, "f")
	_, err := fsys.Write(fd, make([]byte, 2*BlockSize))
	require.NoError(t, err)
	fsys.fat.SetEntry(0, EOC) // Chain now shorter than the size says.

	require.NoError(t, fsys.Lseek(fd, BlockSize))
	_, err = fsys.Read(fd, make([]byte, 10))
	assert.ErrorIs(t, err, ErrCorruptFAT)

	require.NoError(t, fsys.Lseek(fd, 0))
	n, err := fsys.Read(fd, make([]byte, 2*BlockSize))
	assert.ErrorIs(t, err, ErrCorruptFAT)
	assert.Equal(t, BlockSize, n)

	fsys.fat.SetEntry(0, 0)
	_, err = fsys.Write(fd, []byte("x"))
	assert.ErrorIs(t, err, ErrCorruptFAT)
}

func TestCheck(t *testing.T) {
	fsys, _ := newTestFS(t, 8)
	fd := openNew(t, fsys, "a")
	_, err := fsys.Write(fd, make([]byte, 2*BlockSize))
	require.NoError(t, err)
	fdb := openNew(t, fsys, "b")
	_, err = fsys.Write(fdb, make([]byte, 10))
	require.NoError(t, err)
	require.NoError(t, fsys.Check())

	fsys.fat.SetEntry(5, EOC)     // Orphan.
	fsys.fat.SetEntry(2, 1)       // b's block now runs into a's chain.
	fsys.root.entry(1).setSize(1) // Size of b no longer matches.
	err = fsys.Check()
	require.ErrorIs(t, err, ErrCorruptFAT)

	var problems []*Inconsistency
	for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
		var inc *Inconsistency
		require.ErrorAs(t, e, &inc)
		problems = append(problems, inc)
	}
	assert.Contains(t, problems, &Inconsistency{File: "b", Block: 1, Msg: "also owned by `a`"})
	assert.Contains(t, problems, &Inconsistency{File: "", Block: 5, Msg: "allocated but owned by no file"})
	assert.Contains(t, problems, &Inconsistency{File: "b", Block: -1, Msg: "chain holds 2 blocks; size 1 needs 1"})
}

func TestFileAdapter(t *testing.T) {
	fsys, dev := newTestFS(t, 8)
	require.NoError(t, fsys.Create("io"))
	f, err := fsys.OpenFile("io")
	require.NoError(t, err)
	assert.Equal(t, "io", f.Name())

	want := randomBytes(5, 2*BlockSize+5)
	n, err := io.Copy(f, bytes.NewReader(want))
	require.NoError(t, err)
	assert.EqualValues(t, len(want), n)

	pos, err := f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	assert.Zero(t, pos)
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	pos, err = f.Seek(-5, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, len(want)-5, pos)
	pos, err = f.Seek(2, io.SeekCurrent)
	require.NoError(t, err)
	assert.EqualValues(t, len(want)-3, pos)
	_, err = f.Seek(4, io.SeekCurrent)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	_, err = f.Seek(0, 42)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	size, err := f.Size()
	require.NoError(t, err)
	assert.EqualValues(t, len(want), size)

	require.NoError(t, f.Close())
	assert.ErrorIs(t, f.Close(), ErrBadDescriptor)
	_, err = f.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrBadDescriptor)

	// A handle from a previous mount is stale even if its descriptor number
	// is reused.
	f, err = fsys.OpenFile("io")
	require.NoError(t, err)
	require.NoError(t, fsys.Close(f.Fd()))
	remount(t, fsys, dev)
	fd, err := fsys.Open("io")
	require.NoError(t, err)
	require.Equal(t, f.Fd(), fd)
	_, err = f.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrBadDescriptor)
	_, err = f.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrBadDescriptor)
}
