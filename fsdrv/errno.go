package fsdrv

import (
	"errors"
	"io/fs"
	"syscall"

	"github.com/ardnew/usbms/pkg"
)

// Errno maps a driver or stack error to an errno-style value. Values
// already of type syscall.Errno pass through unchanged; anything
// unrecognized collapses to EIO, the generic device error.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, fs.ErrExist):
		return syscall.EEXIST
	case errors.Is(err, fs.ErrInvalid), errors.Is(err, pkg.ErrInvalidParameter):
		return syscall.EINVAL
	case errors.Is(err, fs.ErrPermission):
		return syscall.EACCES
	case errors.Is(err, pkg.ErrWriteProtected):
		return syscall.EROFS
	case errors.Is(err, pkg.ErrNoDevice), errors.Is(err, pkg.ErrMediumNotPresent):
		return syscall.ENODEV
	case errors.Is(err, pkg.ErrNotSupported):
		return syscall.ENOTSUP
	case errors.Is(err, pkg.ErrNoSuchMount):
		return syscall.ENODEV
	default:
		return syscall.EIO
	}
}

// AccessMode extracts the access mode bits (O_RDONLY, O_WRONLY, O_RDWR)
// from an open flag.
func AccessMode(flag int) int {
	return flag & (syscall.O_RDONLY | syscall.O_WRONLY | syscall.O_RDWR)
}

// Writes reports whether the open flag requests write access.
func Writes(flag int) bool {
	switch AccessMode(flag) {
	case syscall.O_WRONLY, syscall.O_RDWR:
		return true
	}
	return false
}
