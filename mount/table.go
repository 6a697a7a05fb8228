package mount

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/usbms/blockdev"
	"github.com/ardnew/usbms/fsdrv"
	"github.com/ardnew/usbms/hal"
	"github.com/ardnew/usbms/part"
	"github.com/ardnew/usbms/pkg"
)

// NamePrefix heads every mount name; the slot index follows in decimal.
const NamePrefix = "ums"

// MaxSlots caps simultaneously mounted volumes.
const MaxSlots = 32

// Info describes one mounted volume for external callers.
type Info struct {
	Name           string      // Mount name without the trailing colon
	Vendor         string      // SCSI inquiry vendor
	Product        string      // SCSI inquiry product
	Serial         string      // Unit serial number
	LUN            int         // Logical unit index within the device
	Partition      int         // Partition index within the unit
	Type           part.FSType // Detected filesystem type
	Capacity       uint64      // Partition capacity in bytes
	WriteProtected bool        // Volume rejects writes
}

// PartitionRef identifies a partition and carries its display metadata
// into the table.
type PartitionRef struct {
	Device         hal.InterfaceID
	Vendor         string
	Product        string
	Serial         string
	LUN            int
	Partition      int
	Type           part.FSType
	Capacity       uint64
	WriteProtected bool
}

type slot struct {
	name   string
	device hal.InterfaceID
	vol    fsdrv.Volume
	win    *blockdev.Window
	info   Info
	cwd    string
}

// Table is the process-wide mount registry.
type Table struct {
	mu    sync.Mutex
	slots []*slot
}

// NewTable creates an empty mount table.
func NewTable() *Table {
	return &Table{}
}

// Mount selects a driver for the partition type, mounts the volume, and
// registers it under the lowest free slot. On any failure all acquired
// resources are released and the table is unchanged.
func (t *Table) Mount(ctx context.Context, ref PartitionRef, win *blockdev.Window, drivers []fsdrv.Driver, flags fsdrv.MountFlags) (string, error) {
	drv := fsdrv.ForType(drivers, ref.Type)
	if drv == nil {
		return "", fmt.Errorf("%w: no driver for %s", pkg.ErrNotSupported, ref.Type)
	}

	vol, err := drv.Mount(ctx, win, flags)
	if err != nil {
		return "", err
	}

	name, err := t.register(ref, win, vol)
	if err != nil {
		vol.Unmount()
		return "", err
	}

	pkg.LogInfo(pkg.ComponentMount, "volume mounted",
		"name", name,
		"driver", drv.Name(),
		"type", ref.Type.String(),
		"capacity", ref.Capacity)

	return name, nil
}

func (t *Table) register(ref PartitionRef, win *blockdev.Window, vol fsdrv.Volume) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := -1
	for i, s := range t.slots {
		if s == nil {
			idx = i
			break
		}
	}
	if idx < 0 {
		if len(t.slots) >= MaxSlots {
			return "", pkg.ErrNoSlots
		}
		t.slots = append(t.slots, nil)
		idx = len(t.slots) - 1
	}

	name := fmt.Sprintf("%s%d", NamePrefix, idx)
	info := Info{
		Name:           name,
		Vendor:         ref.Vendor,
		Product:        ref.Product,
		Serial:         ref.Serial,
		LUN:            ref.LUN,
		Partition:      ref.Partition,
		Type:           ref.Type,
		Capacity:       ref.Capacity,
		WriteProtected: ref.WriteProtected || vol.ReadOnly(),
	}
	t.slots[idx] = &slot{
		name:   name,
		device: ref.Device,
		vol:    vol,
		win:    win,
		info:   info,
		cwd:    "",
	}
	return name, nil
}

// Unmount tears down the named volume and frees its slot.
func (t *Table) Unmount(name string) error {
	t.mu.Lock()
	var target *slot
	for i, s := range t.slots {
		if s != nil && s.name == name {
			target = s
			t.slots[i] = nil
			break
		}
	}
	t.mu.Unlock()

	if target == nil {
		return pkg.ErrNoSuchMount
	}

	if err := target.vol.Unmount(); err != nil {
		pkg.LogWarn(pkg.ComponentMount, "unmount reported error",
			"name", name,
			"error", err)
	}

	pkg.LogInfo(pkg.ComponentMount, "volume unmounted", "name", name)
	return nil
}

// UnmountDevice tears down every volume belonging to the device and
// returns their names. Used by the hotplug monitor on detach; registry
// entries are invalidated before the device is freed, so no stale
// volume handle survives.
func (t *Table) UnmountDevice(id hal.InterfaceID) []string {
	t.mu.Lock()
	var victims []*slot
	for i, s := range t.slots {
		if s != nil && s.device == id {
			victims = append(victims, s)
			t.slots[i] = nil
		}
	}
	t.mu.Unlock()

	names := make([]string, 0, len(victims))
	for _, s := range victims {
		if err := s.vol.Unmount(); err != nil {
			pkg.LogWarn(pkg.ComponentMount, "unmount reported error",
				"name", s.name,
				"error", err)
		}
		names = append(names, s.name)
	}
	return names
}

// Count returns the number of mounted volumes.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.slots {
		if s != nil {
			n++
		}
	}
	return n
}

// List returns a snapshot of all mounted volumes in slot order.
func (t *Table) List() []Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Info, 0, len(t.slots))
	for _, s := range t.slots {
		if s != nil {
			out = append(out, s.info)
		}
	}
	return out
}

// lookup returns the slot registered under name.
func (t *Table) lookup(name string) *slot {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.slots {
		if s != nil && s.name == name {
			return s
		}
	}
	return nil
}
