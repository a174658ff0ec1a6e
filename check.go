package ecsfs

import (
	"errors"
	"fmt"
	"log/slog"
)

// Inconsistency is one problem found by Check. It matches ErrCorruptFAT
// under errors.Is.
type Inconsistency struct {
	File  string // Empty for blocks owned by no file.
	Block int    // -1 when the problem is not about a single block.
	Msg   string
}

func (err *Inconsistency) Error() string {
	switch {
	case err.File == "":
		return fmt.Sprintf("block `%d`: %s", err.Block, err.Msg)
	case err.Block < 0:
		return fmt.Sprintf("file `%s`: %s", err.File, err.Msg)
	}
	return fmt.Sprintf("file `%s` block `%d`: %s", err.File, err.Block, err.Msg)
}

func (err *Inconsistency) Unwrap() error { return frCorruptFAT }

// check cross-references the root directory and the allocation table: every
// data block must belong to at most one chain or be free, every chain must be
// exactly as long as its file's size requires and names must be unique.
func (fsys *FS) check() error {
	var errs []error
	report := func(file string, block int, format string, args ...any) {
		errs = append(errs, &Inconsistency{File: file, Block: block, Msg: fmt.Sprintf(format, args...)})
	}
	owner := make([]int, fsys.fat.n)
	for i := range owner {
		owner[i] = -1
	}
	names := make(map[string]int, MaxFiles)
	for slot := 0; slot < MaxFiles; slot++ {
		de := fsys.root.entry(slot)
		if de.isFree() {
			continue
		}
		name := de.name()
		if other, dup := names[name]; dup {
			report(name, -1, "name also used by slot %d", other)
		}
		names[name] = slot
		if err := validName(name); err != nil {
			report(name, -1, "%v", err)
		}

		blocks, err := fsys.fat.chain(de.firstBlock())
		if err != nil {
			report(name, -1, "unreadable chain from block %d: %v", de.firstBlock(), err)
			continue
		}
		for _, blk := range blocks {
			if prev := owner[blk]; prev >= 0 {
				report(name, int(blk), "also owned by `%s`", fsys.root.entry(prev).name())
				continue
			}
			owner[blk] = slot
		}
		if want := int(fsys.blk.count(int64(de.size()))); len(blocks) != want {
			report(name, -1, "chain holds %d blocks; size %d needs %d", len(blocks), de.size(), want)
		}
	}
	for i, slot := range owner {
		if slot < 0 && fsys.fat.Entry(uint16(i)) != 0 {
			report("", i, "allocated but owned by no file")
		}
	}
	if len(errs) > 0 {
		fsys.warn("check", slog.Int("problems", len(errs)))
	}
	return errors.Join(errs...)
}
