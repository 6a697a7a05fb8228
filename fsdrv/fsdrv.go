package fsdrv

import (
	"context"
	"io"
	"io/fs"
	"sync"
	"time"

	"github.com/ardnew/usbms/blockdev"
	"github.com/ardnew/usbms/part"
)

// MountFlags adjust driver behavior for subsequent mounts. The bundled
// fat, ext and ntfs drivers act on FlagReadOnly only and ignore the
// other bits.
type MountFlags uint32

// Mount behavior flags.
const (
	FlagUpdateAccessTimes MountFlags = 1 << iota // Maintain atime on reads
	FlagShowHiddenFiles                          // List hidden entries
	FlagShowSystemFiles                          // List system entries
	FlagIgnoreCase                               // Case-insensitive lookup
	FlagIgnoreHibernation                        // Mount hibernated NTFS volumes
	FlagIgnoreReadOnly                           // Override the NTFS read-only marker
	FlagRecoverDirty                             // Replay the NTFS journal on mount
	FlagReadOnly                                 // Reject all modification
)

// MaxSymlinkDepth scales the path-length bound of the NTFS binding:
// paths with more than MaxSymlinkDepth*8 separators report ELOOP. No
// bundled driver counts symlink or reparse-point hops.
const MaxSymlinkDepth = 10

// Driver mounts volumes of the partition types it supports.
type Driver interface {
	// Name returns the short driver name ("fat", "ntfs", "ext").
	Name() string

	// Supports reports whether the driver handles the partition type.
	Supports(t part.FSType) bool

	// Mount creates a volume over the partition window. The context
	// bounds the mount-time metadata reads only; volume operations
	// carry their own contexts.
	Mount(ctx context.Context, dev *blockdev.Window, flags MountFlags) (Volume, error)
}

// Volume is the device-operations table of one mounted filesystem.
// Paths are volume-relative, slash-separated, without a leading slash
// requirement. Unsupported operations return ENOTSUP.
type Volume interface {
	// Open opens or creates a file. flag accepts the os.O_* bits
	// (O_RDONLY, O_WRONLY, O_RDWR, O_CREATE, O_APPEND, O_TRUNC, O_EXCL).
	Open(name string, flag int, perm fs.FileMode) (File, error)

	// Stat returns file metadata without opening.
	Stat(name string) (fs.FileInfo, error)

	// Unlink removes a file.
	Unlink(name string) error

	// Rename moves a file or directory within the volume.
	Rename(oldName, newName string) error

	// Mkdir creates a directory.
	Mkdir(name string, perm fs.FileMode) error

	// Rmdir removes an empty directory.
	Rmdir(name string) error

	// OpenDir opens a directory stream.
	OpenDir(name string) (Dir, error)

	// StatFS returns volume usage.
	StatFS() (StatFS, error)

	// Truncate resizes a file by path.
	Truncate(name string, size int64) error

	// Sync flushes driver caches to the device.
	Sync() error

	// ReadOnly reports whether the volume rejects modification.
	ReadOnly() bool

	// Unmount flushes and releases the volume.
	Unmount() error
}

// File is one open file handle.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	// Stat returns metadata for the open handle.
	Stat() (fs.FileInfo, error)

	// Sync flushes the handle to the device.
	Sync() error

	// Truncate resizes the open file.
	Truncate(size int64) error
}

// Dir is one open directory stream. Read returns io.EOF when exhausted.
type Dir interface {
	Read() (fs.DirEntry, error)
	Close() error
}

// StatFS reports volume usage.
type StatFS struct {
	BlockSize  uint32 // Allocation unit size in bytes
	Blocks     uint64 // Total allocation units
	BlocksFree uint64 // Free allocation units
	NameMax    uint32 // Longest file name component
}

// Info is a concrete fs.FileInfo drivers can return.
type Info struct {
	FileName    string
	FileSize    int64
	FileMode    fs.FileMode
	FileModTime time.Time
}

// Name implements fs.FileInfo.
func (i *Info) Name() string { return i.FileName }

// Size implements fs.FileInfo.
func (i *Info) Size() int64 { return i.FileSize }

// Mode implements fs.FileInfo.
func (i *Info) Mode() fs.FileMode { return i.FileMode }

// ModTime implements fs.FileInfo.
func (i *Info) ModTime() time.Time { return i.FileModTime }

// IsDir implements fs.FileInfo.
func (i *Info) IsDir() bool { return i.FileMode.IsDir() }

// Sys implements fs.FileInfo.
func (i *Info) Sys() any { return nil }

// Entry is a concrete fs.DirEntry drivers can return.
type Entry struct {
	Inf Info
}

// Name implements fs.DirEntry.
func (e *Entry) Name() string { return e.Inf.FileName }

// IsDir implements fs.DirEntry.
func (e *Entry) IsDir() bool { return e.Inf.IsDir() }

// Type implements fs.DirEntry.
func (e *Entry) Type() fs.FileMode { return e.Inf.FileMode.Type() }

// Info implements fs.DirEntry.
func (e *Entry) Info() (fs.FileInfo, error) { return &e.Inf, nil }

var (
	registryMu sync.RWMutex
	registry   []Driver
)

// Register appends a driver to the process-wide registry. Driver
// subpackages self-register from init; embedders may add their own.
func Register(d Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, d)
}

// Registered returns a snapshot of the registered drivers.
func Registered() []Driver {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Driver, len(registry))
	copy(out, registry)
	return out
}

// ForType returns the most recently registered driver supporting the
// partition type, or nil.
func ForType(drivers []Driver, t part.FSType) Driver {
	for i := len(drivers) - 1; i >= 0; i-- {
		if drivers[i].Supports(t) {
			return drivers[i]
		}
	}
	return nil
}
