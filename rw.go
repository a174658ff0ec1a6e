package ecsfs

import "log/slog"

// read copies up to len(buf) bytes from the cursor of fd into buf. Reading at
// the end of file returns 0 and no error.
func (fsys *FS) read(fd int, buf []byte) (int, error) {
	d, err := fsys.desc(fd)
	if err != nil {
		return 0, err
	} else if len(buf) == 0 {
		return 0, frInvalidParameter
	}
	de := fsys.root.entry(d.slot)
	remain := min(int64(len(buf)), int64(de.size())-d.off)
	if remain <= 0 {
		return 0, nil
	}
	blk, err := fsys.fat.walk(de.firstBlock(), int(fsys.blk.idx(d.off)))
	if err == frChainTooShort {
		err = frCorruptFAT // The size claims more data than the chain holds.
	}
	if err != nil {
		fsys.logerror("read:walk", slog.Int("fd", fd), slog.String("err", err.Error()))
		return 0, err
	}

	n := 0
	off := d.off
	for remain > 0 {
		boff := fsys.blk.off(off)
		chunk := min(fsys.blk.size()-boff, remain)
		dst := buf[n : n+int(chunk)]
		if chunk == BlockSize {
			err = fsys.readData(blk, dst)
		} else if err = fsys.readData(blk, fsys.bounce[:]); err == nil {
			copy(dst, fsys.bounce[boff:])
		}
		if err != nil {
			break
		}
		n += int(chunk)
		off += chunk
		remain -= chunk
		if remain > 0 {
			if blk, err = fsys.nextData(blk); err != nil {
				break
			}
		}
	}
	d.off += int64(n)
	return n, err
}

// write copies buf to the cursor of fd, growing the chain as needed. When the
// volume runs out of blocks the write is cut short at the capacity of the
// blocks it could claim and ErrNoSpace is returned with the short count.
func (fsys *FS) write(fd int, buf []byte) (int, error) {
	d, err := fsys.desc(fd)
	if err != nil {
		return 0, err
	} else if len(buf) == 0 {
		return 0, frInvalidParameter
	}
	de := fsys.root.entry(d.slot)
	first := de.firstBlock()
	have, err := fsys.fat.chainLength(first)
	if err != nil {
		fsys.logerror("write:chain", slog.Int("fd", fd), slog.String("err", err.Error()))
		return 0, err
	}

	// Size the write against free space before touching the table.
	off := d.off
	end := off + int64(len(buf))
	var fresh []uint16
	if need := int(fsys.blk.count(end)); need > have {
		fresh = fsys.fat.allocate(need-have, have == 0)
	}
	n := len(buf)
	short := false
	if capacity := int64(have+len(fresh)) * BlockSize; end > capacity {
		short = true
		n = int(capacity - off)
		if n <= 0 {
			fsys.warn("write:nospace", slog.Int("fd", fd), slog.Int("requested", len(buf)))
			return 0, frNoSpace
		}
	}

	if len(fresh) > 0 {
		if have == 0 {
			fsys.fat.link(fresh)
			first = fresh[0]
			de.setFirstBlock(first)
		} else {
			tail, err := fsys.fat.walk(first, have-1)
			if err != nil {
				return 0, err
			}
			fsys.fat.extend(tail, fresh)
		}
	}

	blk, err := fsys.fat.walk(first, int(fsys.blk.idx(off)))
	written := 0
	pos := off
	for err == nil && written < n {
		boff := fsys.blk.off(pos)
		chunk := min(fsys.blk.size()-boff, int64(n-written))
		src := buf[written : written+int(chunk)]
		if chunk == BlockSize {
			err = fsys.writeData(blk, src)
		} else {
			if int(fsys.blk.idx(pos)) < have {
				err = fsys.readData(blk, fsys.bounce[:])
			} else {
				clear(fsys.bounce[:])
			}
			if err == nil {
				copy(fsys.bounce[boff:], src)
				err = fsys.writeData(blk, fsys.bounce[:])
			}
		}
		if err != nil {
			break
		}
		written += int(chunk)
		pos += chunk
		if written < n {
			blk, err = fsys.nextData(blk)
		}
	}

	if err != nil {
		// Give back blocks claimed for bytes that never reached the device.
		keep := max(have, int(fsys.blk.count(off+int64(written))))
		if head, terr := fsys.fat.truncate(first, keep); terr == nil {
			de.setFirstBlock(head)
		}
	}
	if newSize := off + int64(written); newSize > int64(de.size()) {
		de.setSize(uint32(newSize))
	}
	d.off += int64(written)
	if err == nil && short {
		fsys.warn("write:short", slog.Int("fd", fd), slog.Int("requested", len(buf)), slog.Int("written", written))
		err = frNoSpace
	}
	return written, err
}

// nextData follows the chain from blk where the caller expects more blocks.
func (fsys *FS) nextData(blk uint16) (uint16, error) {
	next, err := fsys.fat.next(blk)
	if err == nil && next == EOC {
		err = frCorruptFAT
	}
	return next, err
}
