package ecsfs

// next returns the entry following blk in its chain, or EOC if blk is the last
// block. A link to 0 or past the table is corrupt since 0 doubles as the free
// marker and can only ever head a chain.
func (ft *fatTable) next(blk uint16) (uint16, error) {
	if int(blk) >= ft.n {
		return 0, frCorruptFAT
	}
	v := ft.Entry(blk)
	if v == EOC {
		return EOC, nil
	}
	if v == 0 || int(v) >= ft.n {
		return 0, frCorruptFAT
	}
	return v, nil
}

// freeCount returns the number of free entries in [0, n).
func (ft *fatTable) freeCount() (free int) {
	for i := 0; i < ft.n; i++ {
		if ft.Entry(uint16(i)) == 0 {
			free++
		}
	}
	return free
}

// chainLength returns the number of blocks in the chain starting at start.
// Traversal is bounded at n steps so a cycle is reported as corruption.
func (ft *fatTable) chainLength(start uint16) (int, error) {
	if start == EOC {
		return 0, nil
	}
	length := 0
	for blk := start; blk != EOC; length++ {
		if length >= ft.n {
			return 0, frCorruptFAT
		}
		var err error
		blk, err = ft.next(blk)
		if err != nil {
			return 0, err
		}
	}
	return length, nil
}

// walk returns the index of the n'th (zero based) block of the chain starting
// at start.
func (ft *fatTable) walk(start uint16, n int) (uint16, error) {
	if start == EOC {
		return 0, frChainTooShort
	}
	if int(start) >= ft.n || n >= ft.n {
		return 0, frCorruptFAT
	}
	blk := start
	for i := 0; i < n; i++ {
		next, err := ft.next(blk)
		if err != nil {
			return 0, err
		} else if next == EOC {
			return 0, frChainTooShort
		}
		blk = next
	}
	return blk, nil
}

// chain returns every block of the chain starting at start, in order.
func (ft *fatTable) chain(start uint16) ([]uint16, error) {
	length, err := ft.chainLength(start)
	if err != nil {
		return nil, err
	}
	blocks := make([]uint16, 0, length)
	for blk := start; blk != EOC; blk, _ = ft.next(blk) {
		blocks = append(blocks, blk)
	}
	return blocks, nil
}

// allocate returns up to n free block indices, lowest first. The table is not
// modified. Index 0 is only returned when head is set since it can never be
// the target of a link.
func (ft *fatTable) allocate(n int, head bool) []uint16 {
	if n <= 0 {
		return nil
	}
	start := 1
	if head {
		start = 0
	}
	var blocks []uint16
	for i := start; i < ft.n && len(blocks) < n; i++ {
		if ft.Entry(uint16(i)) == 0 {
			blocks = append(blocks, uint16(i))
		}
	}
	return blocks
}

// link claims blocks as a chain in slice order terminated by EOC.
func (ft *fatTable) link(blocks []uint16) {
	for i, blk := range blocks {
		if i == len(blocks)-1 {
			ft.SetEntry(blk, EOC)
		} else {
			ft.SetEntry(blk, blocks[i+1])
		}
	}
}

// extend appends blocks to the chain ending at tail.
func (ft *fatTable) extend(tail uint16, blocks []uint16) {
	if len(blocks) == 0 {
		return
	}
	ft.link(blocks)
	ft.SetEntry(tail, blocks[0])
}

// releaseChain frees every block of the chain starting at start. The chain is
// validated in full before any entry is cleared.
func (ft *fatTable) releaseChain(start uint16) error {
	if _, err := ft.chainLength(start); err != nil {
		return err
	}
	for blk := start; blk != EOC; {
		next := ft.Entry(blk)
		ft.SetEntry(blk, 0)
		blk = next
	}
	return nil
}

// truncate keeps the first keep blocks of the chain starting at start and
// frees the rest. It returns the new head, which is EOC when keep is 0.
func (ft *fatTable) truncate(start uint16, keep int) (uint16, error) {
	if keep <= 0 {
		return EOC, ft.releaseChain(start)
	}
	last, err := ft.walk(start, keep-1)
	if err != nil {
		return start, err
	}
	rest, err := ft.next(last)
	if err != nil {
		return start, err
	} else if rest == EOC {
		return start, nil
	}
	if err := ft.releaseChain(rest); err != nil {
		return start, err
	}
	ft.SetEntry(last, EOC)
	return start, nil
}
