package fsdrv

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
	"testing"

	"github.com/ardnew/usbms/pkg"
)

func TestErrno(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want syscall.Errno
	}{
		{"nil", nil, 0},
		{"passthrough", syscall.ENOSPC, syscall.ENOSPC},
		{"wrappedErrno", fmt.Errorf("op: %w", syscall.ENAMETOOLONG), syscall.ENAMETOOLONG},
		{"notExist", fs.ErrNotExist, syscall.ENOENT},
		{"exist", fs.ErrExist, syscall.EEXIST},
		{"invalid", fs.ErrInvalid, syscall.EINVAL},
		{"writeProtected", pkg.ErrWriteProtected, syscall.EROFS},
		{"noDevice", pkg.ErrNoDevice, syscall.ENODEV},
		{"mediumGone", pkg.ErrMediumNotPresent, syscall.ENODEV},
		{"notSupported", pkg.ErrNotSupported, syscall.ENOTSUP},
		{"transport", pkg.ErrTimeout, syscall.EIO},
		{"unknown", errors.New("anything"), syscall.EIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Errno(tt.err); got != tt.want {
				t.Errorf("Errno(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestAccessMode(t *testing.T) {
	if Writes(syscall.O_RDONLY) {
		t.Error("Writes(O_RDONLY) = true")
	}
	if !Writes(syscall.O_WRONLY) {
		t.Error("Writes(O_WRONLY) = false")
	}
	if !Writes(syscall.O_RDWR | syscall.O_CREAT) {
		t.Error("Writes(O_RDWR|O_CREAT) = false")
	}
}
