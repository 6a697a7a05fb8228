// Package extfs binds the EXT2/3/4 reader (github.com/dsoprea/go-ext4)
// to the fsdrv contract.
//
// The library is strictly read-only; every modifying operation reports
// EROFS, mirroring how an explicit read-only rejection from a native
// ext driver is surfaced. The library raises errors by panicking
// (dsoprea/go-logging); every entry point recovers and converts.
package extfs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"syscall"

	ext4 "github.com/dsoprea/go-ext4"

	"github.com/ardnew/usbms/blockdev"
	"github.com/ardnew/usbms/fsdrv"
	"github.com/ardnew/usbms/part"
)

func init() {
	fsdrv.Register(&Driver{})
}

// Driver mounts EXT-family partitions read-only.
type Driver struct{}

// Name implements fsdrv.Driver.
func (*Driver) Name() string { return "ext" }

// Supports implements fsdrv.Driver.
func (*Driver) Supports(t part.FSType) bool { return t.IsEXT() }

// Mount implements fsdrv.Driver.
func (*Driver) Mount(ctx context.Context, dev *blockdev.Window, flags fsdrv.MountFlags) (vol fsdrv.Volume, err error) {
	defer recoverErr(&err)

	v := &volume{dev: dev, rs: blockdev.NewReader(dev)}

	if _, err := v.rs.Seek(ext4.Superblock0Offset, io.SeekStart); err != nil {
		return nil, err
	}
	sb, err := ext4.NewSuperblockWithReader(v.rs)
	if err != nil {
		return nil, fmt.Errorf("ext superblock: %w", err)
	}
	v.sb = sb

	bgdl, err := ext4.NewBlockGroupDescriptorListWithReadSeeker(v.rs, sb)
	if err != nil {
		return nil, fmt.Errorf("ext block groups: %w", err)
	}
	v.bgdl = bgdl

	return v, nil
}

// volume is one mounted EXT filesystem.
type volume struct {
	dev  *blockdev.Window
	rs   *blockdev.Reader
	sb   *ext4.Superblock
	bgdl *ext4.BlockGroupDescriptorList
}

// lookup walks the tree from the root inode and returns the inode number
// of the entry matching name and whether it is a directory, or ENOENT.
func (v *volume) lookup(name string) (inodeNumber int, isDir bool, err error) {
	defer recoverErr(&err)

	name = strings.Trim(path.Clean("/"+name), "/")
	if name == "" {
		return ext4.InodeRootDirectory, true, nil
	}

	bgd, err := v.bgdl.GetWithAbsoluteInode(ext4.InodeRootDirectory)
	if err != nil {
		return 0, false, err
	}

	dw, err := ext4.NewDirectoryWalk(v.rs, bgd, ext4.InodeRootDirectory)
	if err != nil {
		return 0, false, err
	}

	for {
		fullPath, de, werr := dw.Next()
		if werr == io.EOF {
			return 0, false, syscall.ENOENT
		}
		if werr != nil {
			return 0, false, werr
		}
		if fullPath == name {
			return int(de.Data().Inode), de.IsDirectory(), nil
		}
	}
}

func (v *volume) inode(n int) (ino *ext4.Inode, err error) {
	defer recoverErr(&err)

	bgd, err := v.bgdl.GetWithAbsoluteInode(n)
	if err != nil {
		return nil, err
	}
	return ext4.NewInodeWithReadSeeker(bgd, v.rs, n)
}

// Open implements fsdrv.Volume.
func (v *volume) Open(name string, flag int, perm fs.FileMode) (fsdrv.File, error) {
	if fsdrv.Writes(flag) || flag&syscall.O_CREAT != 0 {
		return nil, syscall.EROFS
	}

	n, isDir, err := v.lookup(name)
	if err != nil {
		return nil, err
	}
	if isDir {
		return nil, syscall.EISDIR
	}

	ino, err := v.inode(n)
	if err != nil {
		return nil, syscall.EIO
	}

	return newFile(v, name, ino)
}

// Stat implements fsdrv.Volume.
func (v *volume) Stat(name string) (fs.FileInfo, error) {
	n, isDir, err := v.lookup(name)
	if err != nil {
		return nil, err
	}

	info := &fsdrv.Info{FileName: path.Base("/" + name)}
	if isDir {
		info.FileMode = fs.ModeDir | 0o555
		return info, nil
	}

	ino, err := v.inode(n)
	if err != nil {
		return nil, syscall.EIO
	}
	info.FileSize = int64(ino.Size())
	info.FileMode = 0o444
	return info, nil
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
	_, isDir, err := v.lookup(name)
	if err != nil {
		return nil, err
	}
	if !isDir {
		return nil, syscall.ENOTDIR
	}

	prefix := strings.Trim(path.Clean("/"+name), "/")
	entries, err := v.listDir(prefix)
	if err != nil {
		return nil, err
	}
	return &dir{entries: entries}, nil
}

// listDir collects the immediate children of prefix from a tree walk.
func (v *volume) listDir(prefix string) (entries []fs.DirEntry, err error) {
	defer recoverErr(&err)

	bgd, err := v.bgdl.GetWithAbsoluteInode(ext4.InodeRootDirectory)
	if err != nil {
		return nil, err
	}
	dw, err := ext4.NewDirectoryWalk(v.rs, bgd, ext4.InodeRootDirectory)
	if err != nil {
		return nil, err
	}

	for {
		fullPath, de, werr := dw.Next()
		if werr == io.EOF {
			return entries, nil
		}
		if werr != nil {
			return nil, werr
		}

		parent := path.Dir(fullPath)
		if parent == "." {
			parent = ""
		}
		if parent != prefix {
			continue
		}

		info := fsdrv.Info{FileName: path.Base(fullPath), FileMode: 0o444}
		if de.IsDirectory() {
			info.FileMode = fs.ModeDir | 0o555
		}
		entries = append(entries, &fsdrv.Entry{Inf: info})
	}
}

// StatFS implements fsdrv.Volume.
func (v *volume) StatFS() (st fsdrv.StatFS, err error) {
	defer recoverErr(&err)

	data := v.sb.Data()
	st = fsdrv.StatFS{
		BlockSize:  uint32(v.sb.BlockSize()),
		Blocks:     uint64(data.SBlocksCountLo),
		BlocksFree: uint64(data.SFreeBlocksCountLo),
		NameMax:    255,
	}
	return st, nil
}

// Truncate implements fsdrv.Volume.
func (v *volume) Truncate(name string, size int64) error { return syscall.EROFS }

// Sync implements fsdrv.Volume.
func (v *volume) Sync() error { return nil }

// ReadOnly implements fsdrv.Volume.
func (v *volume) ReadOnly() bool { return true }

// Unmount implements fsdrv.Volume.
func (v *volume) Unmount() error { return nil }

// file is one open EXT file.
type file struct {
	name string
	size int64
	r    io.Reader
	off  int64
}

func newFile(v *volume, name string, ino *ext4.Inode) (f *file, err error) {
	defer recoverErr(&err)

	en := ext4.NewExtentNavigatorWithReadSeeker(v.rs, ino)
	return &file{
		name: name,
		size: int64(ino.Size()),
		r:    ext4.NewInodeReader(en),
	}, nil
}

// Read implements fsdrv.File.
func (f *file) Read(p []byte) (n int, err error) {
	defer recoverErr(&err)
	n, err = f.r.Read(p)
	f.off += int64(n)
	return n, err
}

// Write implements fsdrv.File.
func (f *file) Write(p []byte) (int, error) { return 0, syscall.EROFS }

// Seek implements fsdrv.File. Only forward seeking is available on the
// underlying inode reader.
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
	if target < f.off {
		return 0, syscall.ENOTSUP
	}
	if _, err := io.CopyN(io.Discard, f.r, target-f.off); err != nil && err != io.EOF {
		return 0, syscall.EIO
	}
	f.off = target
	return target, nil
}

// Close implements fsdrv.File.
func (f *file) Close() error { return nil }

// Stat implements fsdrv.File.
func (f *file) Stat() (fs.FileInfo, error) {
	return &fsdrv.Info{FileName: path.Base("/" + f.name), FileSize: f.size, FileMode: 0o444}, nil
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

// recoverErr converts the library's panic-based error reporting into a
// returned error.
func recoverErr(err *error) {
	if state := recover(); state != nil {
		if e, ok := state.(error); ok {
			*err = fmt.Errorf("ext: %w", e)
			return
		}
		*err = fmt.Errorf("ext: %v", state)
	}
}
