package ecsfs

import "log/slog"

// descriptor is an open file handle. It references its file by directory
// slot, which cannot change while the descriptor is open since delete is
// refused for open files.
type descriptor struct {
	used bool
	slot int
	off  int64
}

func (fsys *FS) desc(fd int) (*descriptor, error) {
	if fd < 0 || fd >= MaxOpenFiles || !fsys.fds[fd].used {
		return nil, frBadDescriptor
	}
	return &fsys.fds[fd], nil
}

// openCount returns the number of open descriptors.
func (fsys *FS) openCount() (n int) {
	for i := range fsys.fds {
		if fsys.fds[i].used {
			n++
		}
	}
	return n
}

// isOpen reports whether any descriptor references directory slot.
func (fsys *FS) isOpen(slot int) bool {
	for i := range fsys.fds {
		if fsys.fds[i].used && fsys.fds[i].slot == slot {
			return true
		}
	}
	return false
}

// open binds the lowest free descriptor to name at offset 0.
func (fsys *FS) open(name string) (int, error) {
	slot := fsys.root.lookup(name)
	if slot < 0 {
		return -1, frNoFile
	}
	for fd := range fsys.fds {
		if !fsys.fds[fd].used {
			fsys.fds[fd] = descriptor{used: true, slot: slot}
			fsys.debug("open", slog.String("name", name), slog.Int("fd", fd))
			return fd, nil
		}
	}
	return -1, frTooManyOpenFiles
}

func (fsys *FS) close(fd int) error {
	d, err := fsys.desc(fd)
	if err != nil {
		return err
	}
	*d = descriptor{}
	fsys.debug("close", slog.Int("fd", fd))
	return nil
}

func (fsys *FS) stat(fd int) (uint32, error) {
	d, err := fsys.desc(fd)
	if err != nil {
		return 0, err
	}
	return fsys.root.entry(d.slot).size(), nil
}

// lseek moves the cursor of fd. The end of file is a valid position.
func (fsys *FS) lseek(fd int, off int64) error {
	d, err := fsys.desc(fd)
	if err != nil {
		return err
	}
	if off < 0 || off > int64(fsys.root.entry(d.slot).size()) {
		return frOutOfBounds
	}
	d.off = off
	return nil
}

// tell returns the cursor of fd.
func (fsys *FS) tell(fd int) (int64, error) {
	d, err := fsys.desc(fd)
	if err != nil {
		return 0, err
	}
	return d.off, nil
}
