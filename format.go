package ecsfs

import (
	"errors"
	"fmt"
	"math"
)

// Formatter writes empty volumes to block devices. Its block buffer is
// reused between calls. The zero value is ready to use.
type Formatter struct {
	window []byte
	bd     BlockDevice
}

type FormatConfig struct {
	// DataBlocks is the size of the data region in blocks. Zero uses every
	// device block not needed for metadata.
	DataBlocks int
}

// VolumeBlocks returns the number of device blocks occupied by a volume with
// dataBlocks data blocks: superblock, allocation table, root directory and
// data region.
func VolumeBlocks(dataBlocks int) int {
	return 2 + fatBlocksFor(dataBlocks) + dataBlocks
}

// Format writes an empty volume spanning all of bd.
func Format(bd BlockDevice) error {
	var f Formatter
	return f.Format(bd, FormatConfig{})
}

// Format writes an empty volume to bd. The superblock records the device
// block count, so a volume smaller than the device leaves the trailing blocks
// unused.
func (f *Formatter) Format(bd BlockDevice, cfg FormatConfig) error {
	if bd == nil {
		return errors.New("nil block device")
	}
	total := bd.BlockCount()
	if total > math.MaxUint16 {
		return fmt.Errorf("device has `%d` blocks; at most `%d` are addressable: %w", total, math.MaxUint16, ErrInvalidArgument)
	}
	ndata := cfg.DataBlocks
	if ndata == 0 {
		ndata = maxDataBlocks(total)
	}
	if ndata <= 0 || VolumeBlocks(ndata) > total {
		return fmt.Errorf("`%d` data blocks do not fit a `%d` block device: %w", ndata, total, ErrInvalidArgument)
	}
	if len(f.window) < BlockSize {
		f.window = make([]byte, BlockSize)
	}
	f.bd = bd
	defer func() { f.bd = nil }()

	nfat := fatBlocksFor(ndata)
	clear(f.window)
	sb := superblock{data: f.window[:BlockSize]}
	sb.SetSignature(Signature)
	sb.SetTotalBlocks(uint16(total))
	sb.SetFATBlocks(uint8(nfat))
	sb.SetRootDirIndex(uint16(nfat + 1))
	sb.SetDataStartIndex(uint16(nfat + 2))
	sb.SetDataBlocks(uint16(ndata))
	if err := f.write(0); err != nil {
		return err
	}
	clear(f.window)
	for blk := 1; blk <= nfat+1; blk++ {
		if err := f.write(blk); err != nil {
			return err
		}
	}
	return nil
}

func (f *Formatter) write(blk int) error {
	if err := f.bd.WriteBlock(blk, f.window[:BlockSize]); err != nil {
		return ioErr("formatting", blk, err)
	}
	return nil
}

// maxDataBlocks returns the largest data region that fits total blocks.
func maxDataBlocks(total int) int {
	ndata := total - 2 - fatBlocksFor(total)
	for ndata >= 0 && VolumeBlocks(ndata+1) <= total {
		ndata++
	}
	return ndata
}
