package host

import (
	"context"
	"errors"
	"sync"

	"github.com/ardnew/usbms/blockdev"
	"github.com/ardnew/usbms/bot"
	"github.com/ardnew/usbms/fsdrv"
	"github.com/ardnew/usbms/hal"
	"github.com/ardnew/usbms/mount"
	"github.com/ardnew/usbms/part"
	"github.com/ardnew/usbms/pkg"
	"github.com/ardnew/usbms/scsi"
	"github.com/ardnew/usbms/transport"
)

// Drive is one attached mass storage device: a claimed interface, its
// transport, and every probed logical unit.
type Drive struct {
	id   hal.InterfaceID
	info hal.InterfaceInfo
	pipe *transport.Pipe
	seq  *bot.Sequencer

	// mu is the device mutex: one command at a time, and ownership of
	// the transport scratch buffer.
	mu sync.Mutex

	units  []*scsi.Unit
	parts  map[uint8][]part.Entry
	mounts []string
}

// ID returns the host service's identifier for the claimed interface.
func (d *Drive) ID() hal.InterfaceID {
	return d.id
}

// Info returns the USB-level interface description.
func (d *Drive) Info() hal.InterfaceInfo {
	return d.info
}

// Units returns the successfully probed logical units.
func (d *Drive) Units() []*scsi.Unit {
	return d.units
}

// Partitions returns the discovered partitions of one unit, mounted or
// not.
func (d *Drive) Partitions(lun uint8) []part.Entry {
	return d.parts[lun]
}

// unitReader adapts a probed unit to the partition scanner.
type unitReader struct {
	u *scsi.Unit
}

func (r unitReader) ReadBlocks(ctx context.Context, lba uint64, count uint32, buf []byte) error {
	return r.u.ReadBlocks(ctx, lba, count, buf)
}

func (r unitReader) Geometry() (uint64, uint32) {
	return r.u.BlockCount, r.u.BlockLength
}

// attach claims the interface and brings the drive fully up: transport,
// LUN probe, partition scan, and mounting of every recognized
// partition. Per-LUN and per-partition failures are skipped; only
// failures before LUN probing (no session, no bulk endpoints, a Get Max
// LUN request that fails other than by stalling) fail the attach.
func attach(ctx context.Context, svc hal.HostService, id hal.InterfaceID, table *mount.Table, drivers []fsdrv.Driver, flags fsdrv.MountFlags, pipeCfg transport.Config) (*Drive, error) {
	sess, err := svc.Open(ctx, id)
	if err != nil {
		return nil, err
	}

	pipe, err := transport.Open(sess, pipeCfg)
	if err != nil {
		sess.Close()
		return nil, err
	}

	d := &Drive{
		id:    id,
		info:  sess.Info(),
		pipe:  pipe,
		seq:   bot.NewSequencer(pipe),
		parts: make(map[uint8][]part.Entry),
	}

	d.mu.Lock()
	luns, err := d.seq.MaxLUN(ctx)
	d.mu.Unlock()
	if err != nil {
		pipe.Close()
		return nil, err
	}

	pkg.LogInfo(pkg.ComponentDrive, "drive attached",
		"id", id,
		"vendor", d.info.Manufacturer,
		"product", d.info.Product,
		"luns", luns)

	for lun := uint8(0); lun < luns; lun++ {
		u, err := scsi.Probe(ctx, d.seq, &d.mu, lun)
		if err != nil {
			// A dead LUN never takes the drive down with it; the
			// remaining LUNs are still probed.
			level := pkg.LogWarn
			if errors.Is(err, pkg.ErrMediumNotPresent) {
				level = pkg.LogInfo
			}
			level(pkg.ComponentDrive, "LUN skipped",
				"id", id,
				"lun", lun,
				"error", err)
			continue
		}
		d.units = append(d.units, u)
	}

	for _, u := range d.units {
		entries, err := part.Scan(ctx, unitReader{u})
		if err != nil {
			pkg.LogWarn(pkg.ComponentDrive, "partition scan failed",
				"id", id,
				"lun", u.LUN(),
				"error", err)
			continue
		}
		d.parts[u.LUN()] = entries
		d.mountPartitions(ctx, u, entries, table, drivers, flags)
	}

	return d, nil
}

// mountPartitions hands every recognized partition of a unit to the
// mount table. Unknown types stay listed but unmounted.
func (d *Drive) mountPartitions(ctx context.Context, u *scsi.Unit, entries []part.Entry, table *mount.Table, drivers []fsdrv.Driver, flags fsdrv.MountFlags) {
	for _, e := range entries {
		if e.Type == part.TypeUnknown {
			continue
		}

		win, err := blockdev.New(u, e, flags&fsdrv.FlagReadOnly != 0)
		if err != nil {
			pkg.LogWarn(pkg.ComponentDrive, "partition rejected",
				"id", d.id,
				"lun", u.LUN(),
				"partition", e.Index,
				"error", err)
			continue
		}

		ref := mount.PartitionRef{
			Device:         d.id,
			Vendor:         u.Vendor,
			Product:        u.Product,
			Serial:         d.serialFor(u),
			LUN:            int(u.LUN()),
			Partition:      e.Index,
			Type:           e.Type,
			Capacity:       e.Blocks * uint64(u.BlockLength),
			WriteProtected: win.ReadOnly(),
		}

		name, err := table.Mount(ctx, ref, win, drivers, flags)
		if err != nil {
			pkg.LogWarn(pkg.ComponentDrive, "mount failed",
				"id", d.id,
				"lun", u.LUN(),
				"partition", e.Index,
				"type", e.Type.String(),
				"error", err)
			continue
		}
		d.mounts = append(d.mounts, name)
	}
}

// serialFor prefers the SCSI unit serial and falls back to the USB
// string descriptor.
func (d *Drive) serialFor(u *scsi.Unit) string {
	if u.Serial != "" {
		return u.Serial
	}
	return d.info.Serial
}

// detach tears the drive down in the reverse of attach order: volumes
// first, then units (cache flush and eject), then the transport. It is
// safe to call for a drive whose hardware is already gone; the SCSI
// farewells fail quietly.
func (d *Drive) detach(ctx context.Context, table *mount.Table) {
	names := table.UnmountDevice(d.id)
	for _, name := range names {
		pkg.LogInfo(pkg.ComponentDrive, "unmounted on detach",
			"id", d.id,
			"name", name)
	}

	for _, u := range d.units {
		if !u.WriteProtect {
			if err := u.SynchronizeCache(ctx); err != nil {
				pkg.LogDebug(pkg.ComponentDrive, "cache sync failed",
					"id", d.id,
					"lun", u.LUN(),
					"error", err)
			}
		}
		if err := u.Eject(ctx); err != nil {
			pkg.LogDebug(pkg.ComponentDrive, "eject failed",
				"id", d.id,
				"lun", u.LUN(),
				"error", err)
		}
	}

	if err := d.pipe.Close(); err != nil {
		pkg.LogWarn(pkg.ComponentDrive, "session close failed",
			"id", d.id,
			"error", err)
	}

	pkg.LogInfo(pkg.ComponentDrive, "drive detached", "id", d.id)
}
