// Package blockdev presents a partition of a logical unit as a
// read/write-sectors device to filesystem drivers.
//
// A [Window] translates volume-relative sector addresses by the
// partition's starting LBA and delegates to the SCSI layer, which
// serializes all commands of a device through its mutex and stages the
// payload through the DMA scratch buffer. Caller buffers carry no
// alignment requirement.
package blockdev

import (
	"context"
	"syscall"

	"github.com/ardnew/usbms/part"
	"github.com/ardnew/usbms/pkg"
	"github.com/ardnew/usbms/scsi"
)

// Window is a partition-sized view of a logical unit.
type Window struct {
	unit     *scsi.Unit
	start    uint64
	blocks   uint64
	readOnly bool
}

// New creates a window over one partition entry of the unit. The window
// is read-only when the unit is write-protected or forceReadOnly is set.
func New(unit *scsi.Unit, e part.Entry, forceReadOnly bool) (*Window, error) {
	if e.Blocks == 0 || e.StartLBA+e.Blocks > unit.BlockCount {
		return nil, pkg.ErrOutOfRange
	}
	return &Window{
		unit:     unit,
		start:    e.StartLBA,
		blocks:   e.Blocks,
		readOnly: forceReadOnly || unit.WriteProtect,
	}, nil
}

// Unit returns the backing logical unit.
func (w *Window) Unit() *scsi.Unit {
	return w.unit
}

// SectorSize returns the unit block length in bytes.
func (w *Window) SectorSize() uint32 {
	return w.unit.BlockLength
}

// SectorCount returns the number of sectors in the window.
func (w *Window) SectorCount() uint64 {
	return w.blocks
}

// ReadOnly reports whether writes are rejected.
func (w *Window) ReadOnly() bool {
	return w.readOnly
}

// ReadSectors reads count sectors starting at the volume-relative lba.
func (w *Window) ReadSectors(ctx context.Context, lba uint64, count uint32, buf []byte) error {
	if lba+uint64(count) > w.blocks || lba+uint64(count) < lba {
		return pkg.ErrOutOfRange
	}
	return w.unit.ReadBlocks(ctx, w.start+lba, count, buf)
}

// WriteSectors writes count sectors starting at the volume-relative lba.
// A read-only window fails with EROFS without issuing any command.
func (w *Window) WriteSectors(ctx context.Context, lba uint64, count uint32, buf []byte) error {
	if w.readOnly {
		return syscall.EROFS
	}
	if lba+uint64(count) > w.blocks || lba+uint64(count) < lba {
		return pkg.ErrOutOfRange
	}
	return w.unit.WriteBlocks(ctx, w.start+lba, count, buf)
}
