package ecsfs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sync"

	"github.com/google/uuid"
)

const (
	// BlockSize is the size of every block on the volume, in bytes.
	BlockSize = 4096
	// Signature is the magic string stored at the start of the superblock.
	Signature = "ECS150FS"
	// EOC is the allocation table value terminating a chain. A directory entry
	// with FirstBlock == EOC owns no data blocks.
	EOC uint16 = 0xFFFF
	// MaxFiles is the capacity of the root directory.
	MaxFiles = 128
	// MaxOpenFiles is the capacity of the file descriptor table.
	MaxOpenFiles = 32
	// FilenameLen is the size of the on-disk filename field including the
	// required null terminator.
	FilenameLen = 16
)

// BlockDevice is a fixed-size block store. Implementations must not cache;
// the filesystem treats the device as its sole source of persistence.
type BlockDevice interface {
	// BlockCount returns the number of blocks on the device.
	BlockCount() int
	// ReadBlock reads block idx into dst, which is BlockSize long.
	ReadBlock(idx int, dst []byte) error
	// WriteBlock writes src, which is BlockSize long, to block idx.
	WriteBlock(idx int, src []byte) error
	Close() error
}

// FS is a mounted (or not yet mounted) volume. The zero value is an unmounted
// filesystem ready for Mount. All methods are safe for concurrent use.
type FS struct {
	mu     sync.RWMutex
	device BlockDevice // nil when not mounted.
	name   string

	blk  blkIdxer
	sb   superblock
	fat  fatTable
	root rootDir
	fds  [MaxOpenFiles]descriptor

	// Bounce buffer for partial block transfers.
	bounce [BlockSize]byte

	id      uint16 // Mount ID. Invalidates File handles from previous mounts.
	session uuid.UUID
	log     *slog.Logger
}

// fileResult is a filesystem error code.
type fileResult uint8

const (
	frIO               fileResult = iota + 1 // underlying block device failed
	frNotMounted                             // no volume is mounted
	frAlreadyMounted                         // a volume is already mounted
	frNameTooLong                            // filename does not fit the directory record
	frInvalidName                            // filename empty or not printable ASCII
	frExist                                  // file already exists
	frDirFull                                // no free directory entry
	frNoFile                                 // could not find the file
	frFileOpen                               // file is referenced by an open descriptor
	frTooManyOpenFiles                       // descriptor table full
	frBadDescriptor                          // descriptor out of range or closed
	frOutOfBounds                            // offset beyond end of file
	frInvalidParameter                       // zero length transfer
	frNoSpace                                // no free data blocks
	frCorruptFAT                             // cycle or out of range pointer in a chain
	frChainTooShort                          // chain ended before the requested block
	frBusy                                   // descriptors still open
)

var frStrings = [...]string{
	frIO:               "i/o failure",
	frNotMounted:       "no volume mounted",
	frAlreadyMounted:   "volume already mounted",
	frNameTooLong:      "filename too long",
	frInvalidName:      "invalid filename",
	frExist:            "file already exists",
	frDirFull:          "root directory full",
	frNoFile:           "file not found",
	frFileOpen:         "file is open",
	frTooManyOpenFiles: "too many open files",
	frBadDescriptor:    "bad file descriptor",
	frOutOfBounds:      "offset out of bounds",
	frInvalidParameter: "invalid argument",
	frNoSpace:          "no space left on volume",
	frCorruptFAT:       "corrupt allocation table",
	frChainTooShort:    "block chain too short",
	frBusy:             "volume busy: descriptors still open",
}

func (fr fileResult) Error() string {
	if int(fr) < len(frStrings) && frStrings[fr] != "" {
		return "ecsfs: " + frStrings[fr]
	}
	return fmt.Sprintf("ecsfs: error %d", uint8(fr))
}

// Errors returned by FS methods. Compare with errors.Is.
var (
	ErrIO              error = frIO
	ErrNotMounted      error = frNotMounted
	ErrAlreadyMounted  error = frAlreadyMounted
	ErrNameTooLong     error = frNameTooLong
	ErrInvalidName     error = frInvalidName
	ErrAlreadyExists   error = frExist
	ErrDirectoryFull   error = frDirFull
	ErrNotFound        error = frNoFile
	ErrFileOpen        error = frFileOpen
	ErrTooManyOpen     error = frTooManyOpenFiles
	ErrBadDescriptor   error = frBadDescriptor
	ErrOutOfBounds     error = frOutOfBounds
	ErrInvalidArgument error = frInvalidParameter
	ErrNoSpace         error = frNoSpace
	ErrCorruptFAT      error = frCorruptFAT
	ErrChainTooShort   error = frChainTooShort
	ErrBusy            error = frBusy
)

// MountError reports why a volume could not be mounted. Err is one of
// ErrBadSignature, ErrBlockCountMismatch, ErrBadLayout, ErrAlreadyMounted or
// an error wrapping ErrIO.
type MountError struct {
	Device string
	Err    error
}

func (err *MountError) Error() string {
	if err.Device == "" {
		return fmt.Sprintf("mounting volume: %v", err.Err)
	}
	return fmt.Sprintf("mounting volume `%s`: %v", err.Device, err.Err)
}

func (err *MountError) Unwrap() error { return err.Err }

// ErrBadSignature is returned when the superblock does not start with Signature.
type ErrBadSignature struct {
	Found [8]byte
}

func (err ErrBadSignature) Error() string {
	return fmt.Sprintf("bad signature: wanted %q; found %q", Signature, err.Found[:])
}

// ErrBlockCountMismatch is returned when the superblock's total block count
// disagrees with the device.
type ErrBlockCountMismatch struct {
	Superblock, Device int
}

func (err ErrBlockCountMismatch) Error() string {
	return fmt.Sprintf(
		"block count mismatch: superblock has `%d`; device has `%d`",
		err.Superblock,
		err.Device,
	)
}

// ErrBadLayout is returned when the superblock's region indices are
// inconsistent with each other.
type ErrBadLayout struct {
	Field       string
	Found, Want int
}

func (err ErrBadLayout) Error() string {
	return fmt.Sprintf("bad layout: %s is `%d`; wanted `%d`", err.Field, err.Found, err.Want)
}

func ioErr(op string, block int, err error) error {
	return fmt.Errorf("%s block `%d`: %w: %w", op, block, ErrIO, err)
}

// SetLogger sets the logger used for filesystem diagnostics. A nil logger
// disables logging.
func (fsys *FS) SetLogger(l *slog.Logger) {
	fsys.mu.Lock()
	fsys.log = l
	fsys.mu.Unlock()
}

// mount_volume loads the superblock, allocation table and root directory of
// bd into memory. State is only committed once every check and read succeeds.
func (fsys *FS) mount_volume(bd BlockDevice) error {
	if fsys.device != nil {
		return frAlreadyMounted
	}
	blk, err := makeBlockIndexer(BlockSize)
	if err != nil {
		return err
	}
	sb := superblock{data: make([]byte, BlockSize)}
	if err := bd.ReadBlock(0, sb.data); err != nil {
		return ioErr("reading superblock", 0, err)
	}
	if sig := sb.Signature(); string(sig[:]) != Signature {
		return ErrBadSignature{Found: sig}
	}
	if total, devTotal := int(sb.TotalBlocks()), bd.BlockCount(); total != devTotal {
		return ErrBlockCountMismatch{Superblock: total, Device: devTotal}
	}
	if err := sb.validate(); err != nil {
		return err
	}

	nfat := int(sb.FATBlocks())
	fat := fatTable{data: make([]byte, nfat*BlockSize), n: int(sb.DataBlocks())}
	for i := 0; i < nfat; i++ {
		if err := bd.ReadBlock(1+i, fat.block(i)); err != nil {
			return ioErr("reading allocation table", 1+i, err)
		}
	}
	root := rootDir{data: make([]byte, BlockSize)}
	rootIdx := int(sb.RootDirIndex())
	if err := bd.ReadBlock(rootIdx, root.data); err != nil {
		return ioErr("reading root directory", rootIdx, err)
	}

	fsys.device = bd
	fsys.blk = blk
	fsys.sb = sb
	fsys.fat = fat
	fsys.root = root
	fsys.fds = [MaxOpenFiles]descriptor{}
	fsys.id++
	fsys.session = uuid.New()
	fsys.info("mounted",
		slog.String("device", fsys.name),
		slog.Int("blocks", int(sb.TotalBlocks())),
		slog.Int("data_blocks", fat.n),
		slog.Int("free", fat.freeCount()),
	)
	return nil
}

// unmount writes the superblock, allocation table and root directory back in
// that order, then closes the device.
func (fsys *FS) unmount() error {
	if fsys.device == nil {
		return frNotMounted
	}
	if n := fsys.openCount(); n > 0 {
		fsys.warn("unmount refused", slog.Int("open", n))
		return frBusy
	}
	if err := fsys.device.WriteBlock(0, fsys.sb.data); err != nil {
		fsys.logerror("unmount:superblock", slog.String("err", err.Error()))
		return ioErr("writing superblock", 0, err)
	}
	for i := 0; i < int(fsys.sb.FATBlocks()); i++ {
		if err := fsys.device.WriteBlock(1+i, fsys.fat.block(i)); err != nil {
			fsys.logerror("unmount:fat", slog.Int("block", 1+i), slog.String("err", err.Error()))
			return ioErr("writing allocation table", 1+i, err)
		}
	}
	rootIdx := int(fsys.sb.RootDirIndex())
	if err := fsys.device.WriteBlock(rootIdx, fsys.root.data); err != nil {
		fsys.logerror("unmount:rootdir", slog.String("err", err.Error()))
		return ioErr("writing root directory", rootIdx, err)
	}
	dev := fsys.device
	fsys.info("unmounted", slog.String("device", fsys.name))
	fsys.device = nil
	fsys.name = ""
	fsys.sb = superblock{}
	fsys.fat = fatTable{}
	fsys.root = rootDir{}
	fsys.fds = [MaxOpenFiles]descriptor{}
	if err := dev.Close(); err != nil {
		return fmt.Errorf("closing device: %w: %w", ErrIO, err)
	}
	return nil
}

func (fsys *FS) mounted() error {
	if fsys.device == nil {
		return frNotMounted
	}
	return nil
}

// dataBlock returns the device block index of data block idx.
func (fsys *FS) dataBlock(idx uint16) int {
	return int(fsys.sb.DataStartIndex()) + int(idx)
}

func (fsys *FS) readData(idx uint16, dst []byte) error {
	blk := fsys.dataBlock(idx)
	if err := fsys.device.ReadBlock(blk, dst); err != nil {
		fsys.logerror("readData", slog.Int("block", blk), slog.String("err", err.Error()))
		return ioErr("reading data", blk, err)
	}
	return nil
}

func (fsys *FS) writeData(idx uint16, src []byte) error {
	blk := fsys.dataBlock(idx)
	if err := fsys.device.WriteBlock(blk, src); err != nil {
		fsys.logerror("writeData", slog.Int("block", blk), slog.String("err", err.Error()))
		return ioErr("writing data", blk, err)
	}
	return nil
}

func (fsys *FS) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if fsys.log == nil || !fsys.log.Enabled(context.Background(), level) {
		return
	}
	if fsys.device != nil {
		attrs = append(attrs, slog.String("session", fsys.session.String()))
	}
	fsys.log.LogAttrs(context.Background(), level, msg, attrs...)
}

func (fsys *FS) debug(msg string, attrs ...slog.Attr) {
	fsys.logattrs(slog.LevelDebug, msg, attrs...)
}
func (fsys *FS) info(msg string, attrs ...slog.Attr) {
	fsys.logattrs(slog.LevelInfo, msg, attrs...)
}
func (fsys *FS) warn(msg string, attrs ...slog.Attr) {
	fsys.logattrs(slog.LevelWarn, msg, attrs...)
}
func (fsys *FS) logerror(msg string, attrs ...slog.Attr) {
	fsys.logattrs(slog.LevelError, msg, attrs...)
}

// blkIdxer is a helper for calculating block indexes and offsets.
type blkIdxer struct {
	blockshift int64
	blockmask  int64
}

func makeBlockIndexer(blockSize int) (blkIdxer, error) {
	if blockSize <= 0 {
		return blkIdxer{}, errors.New("blockSize must be positive and non-zero")
	}
	tz := bits.TrailingZeros(uint(blockSize))
	if blockSize>>tz != 1 {
		return blkIdxer{}, errors.New("blockSize must be a power of 2")
	}
	blk := blkIdxer{
		blockshift: int64(tz),
		blockmask:  (1 << tz) - 1,
	}
	return blk, nil
}

// size returns the size of a block in bytes.
func (blk *blkIdxer) size() int64 {
	return 1 << blk.blockshift
}

// off gets the offset of the byte at byteIdx from the start of its block.
func (blk *blkIdxer) off(byteIdx int64) int64 {
	return byteIdx & blk.blockmask
}

// idx gets the block index that contains the byte at byteIdx.
func (blk *blkIdxer) idx(byteIdx int64) int64 {
	return byteIdx >> blk.blockshift
}

// count returns the number of blocks needed to hold n bytes.
func (blk *blkIdxer) count(n int64) int64 {
	return (n + blk.blockmask) >> blk.blockshift
}
