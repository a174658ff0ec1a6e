package ecsfs

import (
	"bytes"
	"encoding/binary"
	"strconv"
)

// Superblock field offsets.
const (
	sbSignature   = 0x00
	sbTotalBlocks = 0x08
	sbRootDir     = 0x0A
	sbDataStart   = 0x0C
	sbDataBlocks  = 0x0E
	sbFATBlocks   = 0x10
	sbPadding     = 0x11
)

// Directory record field offsets.
const (
	dirNameOff      = 0x00
	dirSizeOff      = 0x10
	dirFirstBlkOff  = 0x14
	dirPaddingOff   = 0x16
	sizeDirEntry    = 32
	sizeFATEntry    = 2
	fatEntriesBlock = BlockSize / sizeFATEntry
)

// superblock is the first block of the volume. Bytes past sbPadding are never
// interpreted and are written back exactly as read.
type superblock struct {
	data []byte
}

// fatTable is the in-memory copy of the allocation table region: packed
// little-endian 16-bit entries, contiguous across block boundaries.
type fatTable struct {
	data []byte
	n    int // Number of entries, equal to the number of data blocks.
}

// rootDir is the in-memory copy of the root directory block.
type rootDir struct {
	data []byte
}

// dirEntry is one fixed-size record of the root directory.
type dirEntry struct {
	data []byte
}

// Signature returns the 8 byte volume signature.
func (sb *superblock) Signature() (sig [8]byte) {
	copy(sig[:], sb.data[sbSignature:])
	return sig
}

func (sb *superblock) SetSignature(sig string) {
	n := copy(sb.data[sbSignature:sbSignature+8], sig)
	clear(sb.data[sbSignature+n : sbSignature+8])
}

// TotalBlocks returns the total number of blocks on the volume.
func (sb *superblock) TotalBlocks() uint16 {
	return binary.LittleEndian.Uint16(sb.data[sbTotalBlocks:])
}

func (sb *superblock) SetTotalBlocks(n uint16) {
	binary.LittleEndian.PutUint16(sb.data[sbTotalBlocks:], n)
}

// RootDirIndex returns the block index of the root directory.
func (sb *superblock) RootDirIndex() uint16 {
	return binary.LittleEndian.Uint16(sb.data[sbRootDir:])
}

func (sb *superblock) SetRootDirIndex(idx uint16) {
	binary.LittleEndian.PutUint16(sb.data[sbRootDir:], idx)
}

// DataStartIndex returns the block index of the first data block.
func (sb *superblock) DataStartIndex() uint16 {
	return binary.LittleEndian.Uint16(sb.data[sbDataStart:])
}

func (sb *superblock) SetDataStartIndex(idx uint16) {
	binary.LittleEndian.PutUint16(sb.data[sbDataStart:], idx)
}

// DataBlocks returns the number of data blocks, which is also the number of
// allocation table entries.
func (sb *superblock) DataBlocks() uint16 {
	return binary.LittleEndian.Uint16(sb.data[sbDataBlocks:])
}

func (sb *superblock) SetDataBlocks(n uint16) {
	binary.LittleEndian.PutUint16(sb.data[sbDataBlocks:], n)
}

// FATBlocks returns the number of blocks occupied by the allocation table.
func (sb *superblock) FATBlocks() uint8 {
	return sb.data[sbFATBlocks]
}

func (sb *superblock) SetFATBlocks(n uint8) {
	sb.data[sbFATBlocks] = n
}

// validate checks the region indices agree with each other: the allocation
// table follows the superblock, the root directory follows the table and the
// data region follows the root directory.
func (sb *superblock) validate() error {
	ndata := int(sb.DataBlocks())
	nfat := int(sb.FATBlocks())
	switch {
	case ndata == 0:
		return ErrBadLayout{Field: "data block count", Found: 0, Want: 1}
	case nfat != fatBlocksFor(ndata):
		return ErrBadLayout{Field: "fat block count", Found: nfat, Want: fatBlocksFor(ndata)}
	case int(sb.RootDirIndex()) != nfat+1:
		return ErrBadLayout{Field: "root directory index", Found: int(sb.RootDirIndex()), Want: nfat + 1}
	case int(sb.DataStartIndex()) != nfat+2:
		return ErrBadLayout{Field: "data start index", Found: int(sb.DataStartIndex()), Want: nfat + 2}
	case int(sb.DataStartIndex())+ndata > int(sb.TotalBlocks()):
		return ErrBadLayout{Field: "total blocks", Found: int(sb.TotalBlocks()), Want: int(sb.DataStartIndex()) + ndata}
	}
	return nil
}

func (sb *superblock) String() string {
	return string(sb.Appendf(nil, '\n'))
}

func (sb *superblock) Appendf(dst []byte, separator byte) []byte {
	sig := sb.Signature()
	dst = labelAppend(dst, "Signature", ':', clipname(sig[:]), separator)
	dst = labelAppendUint(dst, "TotalBlocks", ':', uint64(sb.TotalBlocks()), separator)
	dst = labelAppendUint(dst, "FATBlocks", ':', uint64(sb.FATBlocks()), separator)
	dst = labelAppendUint(dst, "RootDirIndex", ':', uint64(sb.RootDirIndex()), separator)
	dst = labelAppendUint(dst, "DataStartIndex", ':', uint64(sb.DataStartIndex()), separator)
	dst = labelAppendUint(dst, "DataBlocks", ':', uint64(sb.DataBlocks()), separator)
	return dst
}

// fatBlocksFor returns the number of blocks needed to hold n table entries.
func fatBlocksFor(n int) int {
	return (n*sizeFATEntry + BlockSize - 1) / BlockSize
}

// Entry returns the table value for data block idx.
func (ft *fatTable) Entry(idx uint16) uint16 {
	return binary.LittleEndian.Uint16(ft.data[int(idx)*sizeFATEntry:])
}

func (ft *fatTable) SetEntry(idx, value uint16) {
	binary.LittleEndian.PutUint16(ft.data[int(idx)*sizeFATEntry:], value)
}

// block returns the bytes of the i'th block of the table region.
func (ft *fatTable) block(i int) []byte {
	return ft.data[i*BlockSize : (i+1)*BlockSize]
}

func (ft *fatTable) String() string {
	return string(ft.AppendfChains(nil, " -> ", '\n'))
}

// AppendfChains appends every in-use entry as idx:value, breaking the line
// after each end of chain.
func (ft *fatTable) AppendfChains(dst []byte, entrySep string, chainSep byte) []byte {
	var inChain bool
	for i := 0; i < ft.n; i++ {
		v := ft.Entry(uint16(i))
		if v == 0 {
			continue
		}
		if inChain {
			dst = append(dst, entrySep...)
		}
		dst = strconv.AppendUint(dst, uint64(i), 10)
		if v == EOC {
			dst = append(dst, ":EOC"...)
			dst = append(dst, chainSep)
			inChain = false
			continue
		}
		dst = append(dst, ':')
		dst = strconv.AppendUint(dst, uint64(v), 10)
		inChain = true
	}
	return dst
}

// entry returns the i'th directory record.
func (rd *rootDir) entry(i int) dirEntry {
	return dirEntry{data: rd.data[i*sizeDirEntry : (i+1)*sizeDirEntry]}
}

// isFree reports whether the record is unused.
func (de dirEntry) isFree() bool {
	return de.data[dirNameOff] == 0
}

// name returns the filename up to its null terminator.
func (de dirEntry) name() string {
	return string(clipname(de.data[dirNameOff : dirNameOff+FilenameLen]))
}

// nameEquals reports whether the record holds exactly name: every byte of
// name must match and be followed by the terminator, so a name is never
// matched by one of its prefixes.
func (de dirEntry) nameEquals(name string) bool {
	field := de.data[dirNameOff : dirNameOff+FilenameLen]
	return len(name) > 0 && len(name) < FilenameLen &&
		string(field[:len(name)]) == name && field[len(name)] == 0
}

func (de dirEntry) setName(name string) {
	field := de.data[dirNameOff : dirNameOff+FilenameLen]
	n := copy(field, name)
	clear(field[n:])
}

func (de dirEntry) size() uint32 {
	return binary.LittleEndian.Uint32(de.data[dirSizeOff:])
}

func (de dirEntry) setSize(size uint32) {
	binary.LittleEndian.PutUint32(de.data[dirSizeOff:], size)
}

func (de dirEntry) firstBlock() uint16 {
	return binary.LittleEndian.Uint16(de.data[dirFirstBlkOff:])
}

func (de dirEntry) setFirstBlock(idx uint16) {
	binary.LittleEndian.PutUint16(de.data[dirFirstBlkOff:], idx)
}

// reset turns the record into an empty file called name.
func (de dirEntry) reset(name string) {
	de.setName(name)
	de.setSize(0)
	de.setFirstBlock(EOC)
}

// release marks the record free. Padding is left untouched.
func (de dirEntry) release() {
	clear(de.data[dirNameOff : dirNameOff+FilenameLen])
	de.setSize(0)
	de.setFirstBlock(EOC)
}

func (de dirEntry) fileEntry() FileEntry {
	return FileEntry{Name: de.name(), Size: de.size(), FirstBlock: de.firstBlock()}
}

// clipname returns b up to the first null byte.
func clipname(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i]
	}
	return b
}

func labelAppend(dst []byte, label string, delim byte, data []byte, sep byte) []byte {
	dst = append(dst, label...)
	dst = append(dst, delim)
	dst = append(dst, data...)
	dst = append(dst, sep)
	return dst
}

func labelAppendUint(dst []byte, label string, delim byte, data uint64, sep byte) []byte {
	dst = append(dst, label...)
	dst = append(dst, delim)
	dst = strconv.AppendUint(dst, data, 10)
	dst = append(dst, sep)
	return dst
}
