// Package disk provides fixed-size block devices backed by a host file or by
// memory. Devices perform no caching: every ReadBlock and WriteBlock call goes
// straight to the backing store.
package disk

import (
	"errors"
	"fmt"
	"os"
)

// BlockSize is the size in bytes of every block on a device.
const BlockSize = 4096

var (
	errBadBuffer = errors.New("buffer length must equal block size")
	errClosed    = errors.New("device closed")
)

// ErrOutOfRange is returned when a block index is outside the device.
type ErrOutOfRange struct {
	Block, Count int
}

func (err ErrOutOfRange) Error() string {
	return fmt.Sprintf("block `%d` out of range; device has `%d` blocks", err.Block, err.Count)
}

// File is a block device backed by a disk image on the host filesystem.
type File struct {
	file   *os.File
	blocks int
}

// Open opens an existing disk image for reading and writing. The image size
// must be a multiple of BlockSize. An exclusive advisory lock is held on the
// image until Close so two processes cannot mount the same volume.
func Open(name string) (*File, error) {
	f, err := os.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening disk `%s`: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening disk `%s`: %w", name, err)
	}
	if info.Size()%BlockSize != 0 {
		f.Close()
		return nil, fmt.Errorf(
			"opening disk `%s`: size `%d` is not a multiple of block size `%d`",
			name,
			info.Size(),
			BlockSize,
		)
	}
	if err := lock(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("opening disk `%s`: %w", name, err)
	}
	return &File{file: f, blocks: int(info.Size() / BlockSize)}, nil
}

// Create creates a zero-filled disk image of the given number of blocks,
// truncating any existing file, and returns it opened.
func Create(name string, blocks int) (*File, error) {
	if blocks <= 0 {
		return nil, fmt.Errorf("creating disk `%s`: invalid block count `%d`", name, blocks)
	}
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating disk `%s`: %w", name, err)
	}
	if err := f.Truncate(int64(blocks) * BlockSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("creating disk `%s`: %w", name, err)
	}
	if err := lock(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("creating disk `%s`: %w", name, err)
	}
	return &File{file: f, blocks: blocks}, nil
}

// Name returns the host path of the image.
func (d *File) Name() string { return d.file.Name() }

// BlockCount returns the number of blocks in the image.
func (d *File) BlockCount() int { return d.blocks }

func (d *File) ReadBlock(idx int, dst []byte) error {
	if err := d.check(idx, dst); err != nil {
		return err
	}
	if _, err := d.file.ReadAt(dst, int64(idx)*BlockSize); err != nil {
		return fmt.Errorf("reading block `%d` of `%s`: %w", idx, d.file.Name(), err)
	}
	return nil
}

func (d *File) WriteBlock(idx int, src []byte) error {
	if err := d.check(idx, src); err != nil {
		return err
	}
	if _, err := d.file.WriteAt(src, int64(idx)*BlockSize); err != nil {
		return fmt.Errorf("writing block `%d` of `%s`: %w", idx, d.file.Name(), err)
	}
	return nil
}

// Close releases the lock and closes the image. Closing twice is an error.
func (d *File) Close() error {
	if d.file == nil {
		return errClosed
	}
	unlock(d.file)
	err := d.file.Close()
	d.file = nil
	return err
}

func (d *File) check(idx int, buf []byte) error {
	switch {
	case d.file == nil:
		return errClosed
	case len(buf) != BlockSize:
		return errBadBuffer
	case idx < 0 || idx >= d.blocks:
		return ErrOutOfRange{Block: idx, Count: d.blocks}
	}
	return nil
}

// Memory is a block device held entirely in memory.
type Memory struct {
	buf    []byte
	closed bool
}

// NewMemory returns a zeroed in-memory device of the given number of blocks.
func NewMemory(blocks int) *Memory {
	return &Memory{buf: make([]byte, blocks*BlockSize)}
}

// BlockCount returns the number of blocks in the device.
func (m *Memory) BlockCount() int { return len(m.buf) / BlockSize }

func (m *Memory) ReadBlock(idx int, dst []byte) error {
	off, err := m.offset(idx, dst)
	if err != nil {
		return err
	}
	copy(dst, m.buf[off:off+BlockSize])
	return nil
}

func (m *Memory) WriteBlock(idx int, src []byte) error {
	off, err := m.offset(idx, src)
	if err != nil {
		return err
	}
	copy(m.buf[off:off+BlockSize], src)
	return nil
}

// Close marks the device closed. Contents are kept so the same device can be
// reopened with Reopen, which tests use to remount a volume.
func (m *Memory) Close() error {
	if m.closed {
		return errClosed
	}
	m.closed = true
	return nil
}

// Reopen makes a closed device usable again.
func (m *Memory) Reopen() { m.closed = false }

// Bytes returns the raw device contents.
func (m *Memory) Bytes() []byte { return m.buf }

func (m *Memory) offset(idx int, buf []byte) (int, error) {
	switch {
	case m.closed:
		return 0, errClosed
	case len(buf) != BlockSize:
		return 0, errBadBuffer
	case idx < 0 || idx >= m.BlockCount():
		return 0, ErrOutOfRange{Block: idx, Count: m.BlockCount()}
	}
	return idx * BlockSize, nil
}
