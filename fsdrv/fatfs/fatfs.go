// Package fatfs binds the FAT12/16/32 and exFAT driver
// (github.com/soypat/fat) to the fsdrv contract.
//
// The library is a FatFs port: open flags translate to its FA_*-style
// access mode bits, and the block device bridge maps its sector
// addressing onto the partition window. Operations the library does not
// expose surface ENOTSUP.
package fatfs

import (
	"context"
	"fmt"
	"io/fs"
	"syscall"

	"github.com/soypat/fat"

	"github.com/ardnew/usbms/blockdev"
	"github.com/ardnew/usbms/fsdrv"
	"github.com/ardnew/usbms/part"
	"github.com/ardnew/usbms/pkg"
)

// FatFs access mode bits, as consumed by fat.FS.OpenFile.
const (
	faRead         fat.Mode = 0x01
	faWrite        fat.Mode = 0x02
	faCreateNew    fat.Mode = 0x04
	faCreateAlways fat.Mode = 0x08
	faOpenAlways   fat.Mode = 0x10
	faOpenAppend   fat.Mode = 0x30
)

func init() {
	fsdrv.Register(&Driver{})
}

// Driver mounts FAT-family partitions.
type Driver struct{}

// Name implements fsdrv.Driver.
func (*Driver) Name() string { return "fat" }

// Supports implements fsdrv.Driver.
func (*Driver) Supports(t part.FSType) bool { return t.IsFAT() }

// Mount implements fsdrv.Driver.
func (*Driver) Mount(ctx context.Context, dev *blockdev.Window, flags fsdrv.MountFlags) (fsdrv.Volume, error) {
	readOnly := dev.ReadOnly() || flags&fsdrv.FlagReadOnly != 0

	blk := &bridge{win: dev, readOnly: readOnly}
	v := &volume{dev: dev, readOnly: readOnly}

	mode := fat.ModeRead
	if !readOnly {
		mode |= fat.ModeWrite
	}
	if err := v.fsys.Mount(blk, int(dev.SectorSize()), mode); err != nil {
		return nil, fmt.Errorf("fat mount: %w", err)
	}
	return v, nil
}

// bridge adapts a partition window to fat.BlockDevice.
type bridge struct {
	win      *blockdev.Window
	readOnly bool
}

func (b *bridge) ReadBlocks(dst []byte, startBlock int64) (int, error) {
	count := uint32(len(dst)) / b.win.SectorSize()
	if err := b.win.ReadSectors(context.Background(), uint64(startBlock), count, dst); err != nil {
		return 0, syscall.EIO
	}
	return len(dst), nil
}

func (b *bridge) WriteBlocks(data []byte, startBlock int64) (int, error) {
	count := uint32(len(data)) / b.win.SectorSize()
	if err := b.win.WriteSectors(context.Background(), uint64(startBlock), count, data); err != nil {
		if errno, ok := err.(syscall.Errno); ok {
			return 0, errno
		}
		return 0, syscall.EIO
	}
	return len(data), nil
}

func (b *bridge) EraseBlocks(startBlock, numBlocks int64) error {
	// USB drives have no erase primitive; the library tolerates a no-op.
	return nil
}

func (b *bridge) Mode() uint8 {
	if b.readOnly {
		return 1
	}
	return 3
}

// volume is one mounted FAT filesystem.
type volume struct {
	fsys     fat.FS
	dev      *blockdev.Window
	readOnly bool
}

// Open implements fsdrv.Volume.
func (v *volume) Open(name string, flag int, perm fs.FileMode) (fsdrv.File, error) {
	if fsdrv.Writes(flag) && v.readOnly {
		return nil, syscall.EROFS
	}

	mode := faRead
	if fsdrv.Writes(flag) {
		mode |= faWrite
	}
	switch {
	case flag&syscall.O_CREAT != 0 && flag&syscall.O_EXCL != 0:
		mode |= faCreateNew
	case flag&syscall.O_CREAT != 0 && flag&syscall.O_TRUNC != 0:
		mode |= faCreateAlways
	case flag&syscall.O_APPEND != 0:
		mode |= faOpenAppend
	case flag&syscall.O_CREAT != 0:
		mode |= faOpenAlways
	}

	f := &file{name: name}
	if err := v.fsys.OpenFile(&f.f, name, mode); err != nil {
		return nil, mapErr(err)
	}
	return f, nil
}

// Stat implements fsdrv.Volume. The library exposes no standalone stat;
// a read-only open probes existence.
func (v *volume) Stat(name string) (fs.FileInfo, error) {
	var f fat.File
	if err := v.fsys.OpenFile(&f, name, faRead); err != nil {
		return nil, mapErr(err)
	}
	defer f.Close()

	return &fsdrv.Info{FileName: name, FileMode: 0o644}, nil
}

// Unlink implements fsdrv.Volume.
func (v *volume) Unlink(name string) error { return syscall.ENOTSUP }

// Rename implements fsdrv.Volume.
func (v *volume) Rename(oldName, newName string) error { return syscall.ENOTSUP }

// Mkdir implements fsdrv.Volume.
func (v *volume) Mkdir(name string, perm fs.FileMode) error { return syscall.ENOTSUP }

// Rmdir implements fsdrv.Volume.
func (v *volume) Rmdir(name string) error { return syscall.ENOTSUP }

// OpenDir implements fsdrv.Volume.
func (v *volume) OpenDir(name string) (fsdrv.Dir, error) { return nil, syscall.ENOTSUP }

// StatFS implements fsdrv.Volume.
func (v *volume) StatFS() (fsdrv.StatFS, error) {
	return fsdrv.StatFS{
		BlockSize: v.dev.SectorSize(),
		Blocks:    v.dev.SectorCount(),
		NameMax:   255,
	}, nil
}

// Truncate implements fsdrv.Volume.
func (v *volume) Truncate(name string, size int64) error { return syscall.ENOTSUP }

// Sync implements fsdrv.Volume. The library writes through its sector
// window on file sync/close; there is no volume-level flush beyond that.
func (v *volume) Sync() error { return nil }

// ReadOnly implements fsdrv.Volume.
func (v *volume) ReadOnly() bool { return v.readOnly }

// Unmount implements fsdrv.Volume.
func (v *volume) Unmount() error { return nil }

// file is one open FAT file.
type file struct {
	f    fat.File
	name string
}

// Read implements fsdrv.File.
func (f *file) Read(p []byte) (int, error) {
	n, err := f.f.Read(p)
	if err != nil {
		return n, mapErr(err)
	}
	return n, nil
}

// Write implements fsdrv.File.
func (f *file) Write(p []byte) (int, error) {
	n, err := f.f.Write(p)
	if err != nil {
		return n, mapErr(err)
	}
	return n, nil
}

// Seek implements fsdrv.File.
func (f *file) Seek(offset int64, whence int) (int64, error) {
	return 0, syscall.ENOTSUP
}

// Close implements fsdrv.File.
func (f *file) Close() error {
	if err := f.f.Close(); err != nil {
		return mapErr(err)
	}
	return nil
}

// Stat implements fsdrv.File.
func (f *file) Stat() (fs.FileInfo, error) {
	return &fsdrv.Info{FileName: f.name, FileMode: 0o644}, nil
}

// Sync implements fsdrv.File.
func (f *file) Sync() error {
	if err := f.f.Sync(); err != nil {
		return mapErr(err)
	}
	return nil
}

// Truncate implements fsdrv.File.
func (f *file) Truncate(size int64) error { return syscall.ENOTSUP }

// mapErr folds library errors into errno space.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errno, ok := err.(syscall.Errno); ok {
		return errno
	}
	switch err.Error() {
	case "no file":
		return syscall.ENOENT
	case "exist":
		return syscall.EEXIST
	case "write protected":
		return syscall.EROFS
	case "denied":
		return syscall.EACCES
	case "invalid name":
		return fmt.Errorf("%w: %v", pkg.ErrInvalidParameter, err)
	default:
		return syscall.EIO
	}
}
