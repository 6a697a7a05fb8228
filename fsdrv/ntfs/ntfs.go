// Package ntfs binds the NTFS reader (www.velocidex.com/golang/go-ntfs)
// to the fsdrv contract.
//
// The library is read-only; modifying operations report EROFS. Paths
// with more than fsdrv.MaxSymlinkDepth*8 separators report ELOOP before
// any lookup. Path resolution is left to the library; this package does
// not follow or count reparse points (symlinks and junctions) itself.
package ntfs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"syscall"

	ntfs "www.velocidex.com/golang/go-ntfs/parser"

	"github.com/ardnew/usbms/blockdev"
	"github.com/ardnew/usbms/fsdrv"
	"github.com/ardnew/usbms/part"
)

// rootMFTEntry is the MFT record number of the volume root directory.
const rootMFTEntry = 5

// pagedReaderPageSize tunes the library's read cache to a multiple of
// the largest supported sector size.
const pagedReaderPageSize = 0x10000

func init() {
	fsdrv.Register(&Driver{})
}

// Driver mounts NTFS partitions read-only.
type Driver struct{}

// Name implements fsdrv.Driver.
func (*Driver) Name() string { return "ntfs" }

// Supports implements fsdrv.Driver.
func (*Driver) Supports(t part.FSType) bool { return t == part.TypeNTFS }

// Mount implements fsdrv.Driver.
func (*Driver) Mount(ctx context.Context, dev *blockdev.Window, flags fsdrv.MountFlags) (fsdrv.Volume, error) {
	reader, err := ntfs.NewPagedReader(blockdev.NewReader(dev), pagedReaderPageSize, 256)
	if err != nil {
		return nil, fmt.Errorf("ntfs reader: %w", err)
	}

	nc, err := ntfs.GetNTFSContext(reader, 0)
	if err != nil {
		return nil, fmt.Errorf("ntfs mount: %w", err)
	}

	return &volume{dev: dev, nc: nc}, nil
}

// volume is one mounted NTFS filesystem.
type volume struct {
	dev *blockdev.Window
	nc  *ntfs.NTFSContext
}

func cleanPath(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return strings.Trim(path.Clean("/"+name), "/")
}

// resolve opens the MFT entry for name. The library follows reparse
// points during its path walk; the component bound below keeps a
// junction cycle from walking forever.
func (v *volume) resolve(name string) (*ntfs.MFT_ENTRY, error) {
	if strings.Count(cleanPath(name), "/") > fsdrv.MaxSymlinkDepth*8 {
		return nil, syscall.ELOOP
	}

	root, err := v.nc.GetMFT(rootMFTEntry)
	if err != nil {
		return nil, syscall.EIO
	}

	entry, err := root.Open(v.nc, cleanPath(name))
	if err != nil {
		return nil, syscall.ENOENT
	}
	return entry, nil
}

// Open implements fsdrv.Volume.
func (v *volume) Open(name string, flag int, perm fs.FileMode) (fsdrv.File, error) {
	if fsdrv.Writes(flag) || flag&syscall.O_CREAT != 0 {
		return nil, syscall.EROFS
	}

	entry, err := v.resolve(name)
	if err != nil {
		return nil, err
	}

	infos := ntfs.Stat(v.nc, entry)
	if len(infos) == 0 {
		return nil, syscall.EIO
	}
	if infos[0].IsDir {
		return nil, syscall.EISDIR
	}

	data, err := ntfs.GetDataForPath(v.nc, cleanPath(name))
	if err != nil {
		return nil, syscall.EIO
	}

	return &file{
		name: path.Base("/" + cleanPath(name)),
		size: infos[0].Size,
		data: data,
	}, nil
}

// Stat implements fsdrv.Volume.
func (v *volume) Stat(name string) (fs.FileInfo, error) {
	entry, err := v.resolve(name)
	if err != nil {
		return nil, err
	}

	infos := ntfs.Stat(v.nc, entry)
	if len(infos) == 0 {
		return nil, syscall.EIO
	}
	return statInfo(path.Base("/"+cleanPath(name)), infos[0]), nil
}

// Unlink implements fsdrv.Volume.
func (v *volume) Unlink(name string) error { return syscall.EROFS }

// Rename implements fsdrv.Volume.
func (v *volume) Rename(oldName, newName string) error { return syscall.EROFS }

// Mkdir implements fsdrv.Volume.
func (v *volume) Mkdir(name string, perm fs.FileMode) error { return syscall.EROFS }

// Rmdir implements fsdrv.Volume.
func (v *volume) Rmdir(name string) error { return syscall.EROFS }

// OpenDir implements fsdrv.Volume.
func (v *volume) OpenDir(name string) (fsdrv.Dir, error) {
	entry, err := v.resolve(name)
	if err != nil {
		return nil, err
	}

	var entries []fs.DirEntry
	for _, info := range ntfs.ListDir(v.nc, entry) {
		if info.Name == "" || info.Name == "." {
			continue
		}
		entries = append(entries, &fsdrv.Entry{Inf: *statInfo(info.Name, info)})
	}
	return &dir{entries: entries}, nil
}

// StatFS implements fsdrv.Volume.
func (v *volume) StatFS() (fsdrv.StatFS, error) {
	return fsdrv.StatFS{
		BlockSize: v.dev.SectorSize(),
		Blocks:    v.dev.SectorCount(),
		NameMax:   255,
	}, nil
}

// Truncate implements fsdrv.Volume.
func (v *volume) Truncate(name string, size int64) error { return syscall.EROFS }

// Sync implements fsdrv.Volume.
func (v *volume) Sync() error { return nil }

// ReadOnly implements fsdrv.Volume.
func (v *volume) ReadOnly() bool { return true }

// Unmount implements fsdrv.Volume.
func (v *volume) Unmount() error { return nil }

func statInfo(name string, info *ntfs.FileInfo) *fsdrv.Info {
	out := &fsdrv.Info{
		FileName:    name,
		FileSize:    info.Size,
		FileMode:    0o444,
		FileModTime: info.Mtime,
	}
	if info.IsDir {
		out.FileMode = fs.ModeDir | 0o555
	}
	return out
}

// file is one open NTFS file over the library's data attribute reader.
type file struct {
	name string
	size int64
	data io.ReaderAt
	off  int64
}

// Read implements fsdrv.File.
func (f *file) Read(p []byte) (int, error) {
	if f.off >= f.size {
		return 0, io.EOF
	}
	if max := f.size - f.off; int64(len(p)) > max {
		p = p[:max]
	}
	n, err := f.data.ReadAt(p, f.off)
	f.off += int64(n)
	if err != nil && err != io.EOF {
		return n, syscall.EIO
	}
	return n, nil
}

// Write implements fsdrv.File.
func (f *file) Write(p []byte) (int, error) { return 0, syscall.EROFS }

// Seek implements fsdrv.File.
func (f *file) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = f.off + offset
	case io.SeekEnd:
		target = f.size + offset
	default:
		return 0, syscall.EINVAL
	}
	if target < 0 {
		return 0, syscall.EINVAL
	}
	f.off = target
	return target, nil
}

// Close implements fsdrv.File.
func (f *file) Close() error { return nil }

// Stat implements fsdrv.File.
func (f *file) Stat() (fs.FileInfo, error) {
	return &fsdrv.Info{FileName: f.name, FileSize: f.size, FileMode: 0o444}, nil
}

// Sync implements fsdrv.File.
func (f *file) Sync() error { return nil }

// Truncate implements fsdrv.File.
func (f *file) Truncate(size int64) error { return syscall.EROFS }

// dir is a directory stream over a pre-collected entry list.
type dir struct {
	entries []fs.DirEntry
	pos     int
}

// Read implements fsdrv.Dir.
func (d *dir) Read() (fs.DirEntry, error) {
	if d.pos >= len(d.entries) {
		return nil, io.EOF
	}
	e := d.entries[d.pos]
	d.pos++
	return e, nil
}

// Close implements fsdrv.Dir.
func (d *dir) Close() error { return nil }
