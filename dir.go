package ecsfs

import "log/slog"

// validName checks name fits a directory record: 1 to FilenameLen-1 bytes of
// printable ASCII.
func validName(name string) error {
	if len(name) == 0 {
		return frInvalidName
	} else if len(name) >= FilenameLen {
		return frNameTooLong
	}
	for i := 0; i < len(name); i++ {
		if name[i] < ' ' || name[i] > '~' {
			return frInvalidName
		}
	}
	return nil
}

// lookup returns the slot of the in-use entry called name, or -1.
func (rd *rootDir) lookup(name string) int {
	for i := 0; i < MaxFiles; i++ {
		de := rd.entry(i)
		if !de.isFree() && de.nameEquals(name) {
			return i
		}
	}
	return -1
}

// freeSlot returns the lowest free slot, or -1 if the directory is full.
func (rd *rootDir) freeSlot() int {
	for i := 0; i < MaxFiles; i++ {
		if rd.entry(i).isFree() {
			return i
		}
	}
	return -1
}

func (rd *rootDir) freeCount() (free int) {
	for i := 0; i < MaxFiles; i++ {
		if rd.entry(i).isFree() {
			free++
		}
	}
	return free
}

func (fsys *FS) create(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if fsys.root.lookup(name) >= 0 {
		return frExist
	}
	slot := fsys.root.freeSlot()
	if slot < 0 {
		return frDirFull
	}
	fsys.root.entry(slot).reset(name)
	fsys.debug("create", slog.String("name", name), slog.Int("slot", slot))
	return nil
}

// delete removes name and frees its chain. The chain is validated before the
// entry is touched so a corrupt table leaves the directory unchanged.
func (fsys *FS) delete(name string) error {
	slot := fsys.root.lookup(name)
	if slot < 0 {
		return frNoFile
	}
	if fsys.isOpen(slot) {
		return frFileOpen
	}
	de := fsys.root.entry(slot)
	first := de.firstBlock()
	if err := fsys.fat.releaseChain(first); err != nil {
		fsys.logerror("delete:chain", slog.String("name", name), slog.Int("first", int(first)))
		return err
	}
	de.release()
	fsys.debug("delete", slog.String("name", name), slog.Int("slot", slot))
	return nil
}
