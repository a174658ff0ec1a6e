package ecsfs

import (
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/soypat/ecsfs/disk"
)

// VolumeStats is a snapshot of volume layout and occupancy.
type VolumeStats struct {
	TotalBlocks    int `yaml:"total_blk_count"`
	FATBlocks      int `yaml:"fat_blk_count"`
	RootDirIndex   int `yaml:"rdir_blk"`
	DataStartIndex int `yaml:"data_blk"`
	DataBlocks     int `yaml:"data_blk_count"`
	FreeBlocks     int `yaml:"fat_free"`
	FreeEntries    int `yaml:"rdir_free"`
}

// String returns the multi-line FS Info report.
func (vs VolumeStats) String() string {
	return string(vs.Appendf(nil))
}

func (vs VolumeStats) Appendf(dst []byte) []byte {
	dst = append(dst, "FS Info:\n"...)
	dst = labelAppendUint(dst, "total_blk_count", '=', uint64(vs.TotalBlocks), '\n')
	dst = labelAppendUint(dst, "fat_blk_count", '=', uint64(vs.FATBlocks), '\n')
	dst = labelAppendUint(dst, "rdir_blk", '=', uint64(vs.RootDirIndex), '\n')
	dst = labelAppendUint(dst, "data_blk", '=', uint64(vs.DataStartIndex), '\n')
	dst = labelAppendUint(dst, "data_blk_count", '=', uint64(vs.DataBlocks), '\n')
	dst = fmt.Appendf(dst, "fat_free_ratio=%d/%d\n", vs.FreeBlocks, vs.DataBlocks)
	dst = fmt.Appendf(dst, "rdir_free_ratio=%d/%d\n", vs.FreeEntries, MaxFiles)
	return dst
}

// FileEntry describes one file of the root directory.
type FileEntry struct {
	Name       string `yaml:"name"`
	Size       uint32 `yaml:"size"`
	FirstBlock uint16 `yaml:"data_blk"`
}

func (fe FileEntry) String() string {
	return fmt.Sprintf("file: %s, size: %d, data_blk: %d", fe.Name, fe.Size, fe.FirstBlock)
}

// Mount opens the disk image at name and mounts the volume on it. On failure
// the image is closed and the FS stays unmounted.
func (fsys *FS) Mount(name string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if fsys.device != nil {
		return &MountError{Device: name, Err: frAlreadyMounted}
	}
	dev, err := disk.Open(name)
	if err != nil {
		return &MountError{Device: name, Err: fmt.Errorf("%w: %w", ErrIO, err)}
	}
	fsys.name = name
	if err := fsys.mount_volume(dev); err != nil {
		fsys.name = ""
		dev.Close()
		fsys.warn("mount failed", slog.String("device", name), slog.String("err", err.Error()))
		return &MountError{Device: name, Err: err}
	}
	return nil
}

// MountDevice mounts the volume stored on bd. On failure bd is left open and
// owned by the caller. On success bd is closed by Unmount.
func (fsys *FS) MountDevice(bd BlockDevice) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if err := fsys.mount_volume(bd); err != nil {
		return &MountError{Err: err}
	}
	return nil
}

// Unmount writes the superblock, allocation table and root directory back to
// the device and closes it. It fails with ErrBusy while descriptors are open.
func (fsys *FS) Unmount() error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	return fsys.unmount()
}

// Mounted reports whether a volume is mounted.
func (fsys *FS) Mounted() bool {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()
	return fsys.device != nil
}

// Info returns the layout and occupancy of the mounted volume.
func (fsys *FS) Info() (VolumeStats, error) {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()
	if err := fsys.mounted(); err != nil {
		return VolumeStats{}, err
	}
	return VolumeStats{
		TotalBlocks:    int(fsys.sb.TotalBlocks()),
		FATBlocks:      int(fsys.sb.FATBlocks()),
		RootDirIndex:   int(fsys.sb.RootDirIndex()),
		DataStartIndex: int(fsys.sb.DataStartIndex()),
		DataBlocks:     fsys.fat.n,
		FreeBlocks:     fsys.fat.freeCount(),
		FreeEntries:    fsys.root.freeCount(),
	}, nil
}

// Create adds an empty file called name to the root directory.
func (fsys *FS) Create(name string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if err := fsys.mounted(); err != nil {
		return err
	}
	return fsys.create(name)
}

// Delete removes the file called name and frees its blocks. Open files
// cannot be deleted.
func (fsys *FS) Delete(name string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if err := fsys.mounted(); err != nil {
		return err
	}
	return fsys.delete(name)
}

// List returns the files of the root directory in slot order. Each step reads
// one slot under the lock, so the directory may be modified while iterating.
// Iteration stops early if the volume is unmounted or remounted.
func (fsys *FS) List() iter.Seq[FileEntry] {
	return func(yield func(FileEntry) bool) {
		fsys.mu.RLock()
		id, ok := fsys.id, fsys.device != nil
		fsys.mu.RUnlock()
		for slot := 0; ok && slot < MaxFiles; slot++ {
			fsys.mu.RLock()
			var fe FileEntry
			ok = fsys.device != nil && fsys.id == id
			used := ok && !fsys.root.entry(slot).isFree()
			if used {
				fe = fsys.root.entry(slot).fileEntry()
			}
			fsys.mu.RUnlock()
			if used && !yield(fe) {
				return
			}
		}
	}
}

// Open returns the lowest free descriptor positioned at the start of name.
func (fsys *FS) Open(name string) (int, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if err := fsys.mounted(); err != nil {
		return -1, err
	}
	return fsys.open(name)
}

// Close releases fd. Closing a closed descriptor fails with ErrBadDescriptor.
func (fsys *FS) Close(fd int) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if err := fsys.mounted(); err != nil {
		return err
	}
	return fsys.close(fd)
}

// Stat returns the size of the file open on fd.
func (fsys *FS) Stat(fd int) (uint32, error) {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()
	if err := fsys.mounted(); err != nil {
		return 0, err
	}
	return fsys.stat(fd)
}

// Lseek sets the cursor of fd. Offsets from 0 to the file size inclusive are
// valid.
func (fsys *FS) Lseek(fd int, offset int64) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if err := fsys.mounted(); err != nil {
		return err
	}
	return fsys.lseek(fd, offset)
}

// Tell returns the cursor of fd.
func (fsys *FS) Tell(fd int) (int64, error) {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()
	if err := fsys.mounted(); err != nil {
		return 0, err
	}
	return fsys.tell(fd)
}

// Read reads up to len(buf) bytes at the cursor of fd and advances it. At end
// of file Read returns 0 and a nil error.
func (fsys *FS) Read(fd int, buf []byte) (int, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if err := fsys.mounted(); err != nil {
		return 0, err
	}
	return fsys.read(fd, buf)
}

// Write writes buf at the cursor of fd, growing the file as needed, and
// advances the cursor. If the volume fills up Write returns the number of
// bytes that fit along with ErrNoSpace.
func (fsys *FS) Write(fd int, buf []byte) (int, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if err := fsys.mounted(); err != nil {
		return 0, err
	}
	return fsys.write(fd, buf)
}

// Check verifies the allocation table agrees with the root directory. Every
// problem found is returned as an *Inconsistency joined into one error.
func (fsys *FS) Check() error {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()
	if err := fsys.mounted(); err != nil {
		return err
	}
	return fsys.check()
}

// File is an open file. It implements io.Reader, io.Writer, io.Seeker and
// io.Closer on top of a descriptor. A File is invalidated by Unmount.
type File struct {
	fsys *FS
	fd   int
	id   uint16
	name string
}

// OpenFile opens name and wraps the descriptor in a File.
func (fsys *FS) OpenFile(name string) (*File, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if err := fsys.mounted(); err != nil {
		return nil, err
	}
	fd, err := fsys.open(name)
	if err != nil {
		return nil, err
	}
	return &File{fsys: fsys, fd: fd, id: fsys.id, name: name}, nil
}

// validate must be called with the FS lock held.
func (fp *File) validate() error {
	if fp.fsys == nil || fp.fsys.device == nil || fp.fsys.id != fp.id {
		return frBadDescriptor
	}
	return nil
}

// Name returns the name the file was opened with.
func (fp *File) Name() string { return fp.name }

// Fd returns the underlying descriptor.
func (fp *File) Fd() int { return fp.fd }

// Read reads up to len(buf) bytes from the File. It implements the [io.Reader] interface.
func (fp *File) Read(buf []byte) (int, error) {
	if fp.fsys == nil {
		return 0, frBadDescriptor
	}
	fp.fsys.mu.Lock()
	defer fp.fsys.mu.Unlock()
	if err := fp.validate(); err != nil {
		return 0, err
	} else if len(buf) == 0 {
		return 0, nil
	}
	n, err := fp.fsys.read(fp.fd, buf)
	if err == nil && n == 0 {
		return 0, io.EOF
	}
	return n, err
}

// Write writes len(buf) bytes to the File. It implements the [io.Writer] interface.
func (fp *File) Write(buf []byte) (int, error) {
	if fp.fsys == nil {
		return 0, frBadDescriptor
	}
	fp.fsys.mu.Lock()
	defer fp.fsys.mu.Unlock()
	if err := fp.validate(); err != nil {
		return 0, err
	} else if len(buf) == 0 {
		return 0, nil
	}
	return fp.fsys.write(fp.fd, buf)
}

// Seek implements the [io.Seeker] interface. Seeking past the end of the file
// fails with ErrOutOfBounds.
func (fp *File) Seek(offset int64, whence int) (int64, error) {
	if fp.fsys == nil {
		return 0, frBadDescriptor
	}
	fp.fsys.mu.Lock()
	defer fp.fsys.mu.Unlock()
	if err := fp.validate(); err != nil {
		return 0, err
	}
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		cur, err := fp.fsys.tell(fp.fd)
		if err != nil {
			return 0, err
		}
		offset += cur
	case io.SeekEnd:
		size, err := fp.fsys.stat(fp.fd)
		if err != nil {
			return 0, err
		}
		offset += int64(size)
	default:
		return 0, frInvalidParameter
	}
	if err := fp.fsys.lseek(fp.fd, offset); err != nil {
		return 0, err
	}
	return offset, nil
}

// Size returns the current size of the file.
func (fp *File) Size() (int64, error) {
	if fp.fsys == nil {
		return 0, frBadDescriptor
	}
	fp.fsys.mu.RLock()
	defer fp.fsys.mu.RUnlock()
	if err := fp.validate(); err != nil {
		return 0, err
	}
	size, err := fp.fsys.stat(fp.fd)
	return int64(size), err
}

// Close releases the descriptor. Further calls fail with ErrBadDescriptor.
func (fp *File) Close() error {
	if fp.fsys == nil {
		return frBadDescriptor
	}
	fp.fsys.mu.Lock()
	defer fp.fsys.mu.Unlock()
	if err := fp.validate(); err != nil {
		return err
	}
	err := fp.fsys.close(fp.fd)
	fp.fsys = nil
	return err
}
