package host

import (
	"context"
	"sync"
	"time"

	"github.com/ardnew/usbms/fsdrv"
	"github.com/ardnew/usbms/hal"
	"github.com/ardnew/usbms/mount"
	"github.com/ardnew/usbms/pkg"
	"github.com/ardnew/usbms/transport"
)

// PopulateFunc receives a snapshot of the mounted volumes after each
// hotplug pass. The slice is owned by the callee.
type PopulateFunc func([]mount.Info)

// Config parameterizes a host.
type Config struct {
	// Service is the host-controller service backend. Required.
	Service hal.HostService

	// Drivers are consulted in reverse order when mounting; nil selects
	// the process-wide driver registry.
	Drivers []fsdrv.Driver

	// MountFlags apply to subsequent mounts; see SetDefaultMountFlags.
	MountFlags fsdrv.MountFlags

	// TransferTimeout bounds each bulk post. Zero selects the transport
	// default (10 s).
	TransferTimeout time.Duration

	// BufferSize sets the per-drive scratch buffer size. Zero selects
	// the transport default (8 MiB).
	BufferSize int

	// Populate, if set, is invoked by the monitor after each hotplug
	// pass.
	Populate PopulateFunc
}

// Host is the public face of the usbms library. Create one with [New],
// bring it up with [Host.Start], and tear it down with [Host.Stop].
// Creating a second running Host over the same service is a contract
// violation.
type Host struct {
	svc   hal.HostService
	table *mount.Table

	mu       sync.RWMutex
	drives   map[hal.InterfaceID]*Drive
	drivers  []fsdrv.Driver
	flags    fsdrv.MountFlags
	populate PopulateFunc
	running  bool

	pipeCfg transport.Config

	status chan struct{}
	exit   chan struct{}
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a host over the given service.
func New(cfg Config) (*Host, error) {
	if cfg.Service == nil {
		return nil, pkg.ErrInvalidParameter
	}

	drivers := cfg.Drivers
	if drivers == nil {
		drivers = fsdrv.Registered()
	}

	return &Host{
		svc:      cfg.Service,
		table:    mount.NewTable(),
		drives:   make(map[hal.InterfaceID]*Drive),
		drivers:  drivers,
		flags:    cfg.MountFlags,
		populate: cfg.Populate,
		pipeCfg: transport.Config{
			Timeout:    cfg.TransferTimeout,
			BufferSize: cfg.BufferSize,
		},
		status: make(chan struct{}, 1),
		exit:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start probes the already-attached drives and launches the hotplug
// monitor. It returns once the monitor is running.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return pkg.ErrAlreadyRunning
	}
	h.running = true
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.mu.Unlock()

	// Initial pass picks up drives attached before we were listening.
	h.reconcile(ctx)

	go h.monitor()

	pkg.LogInfo(pkg.ComponentMonitor, "host started")
	return nil
}

// Stop signals the monitor to exit and waits for it to drain the drive
// table: every volume is unmounted and every drive detached. The
// injected service remains open; it belongs to the caller.
func (h *Host) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return pkg.ErrNotRunning
	}
	h.running = false
	h.mu.Unlock()

	close(h.exit)
	<-h.done
	h.cancel()

	pkg.LogInfo(pkg.ComponentMonitor, "host stopped")
	return nil
}

// StatusChange returns the status-change event channel. It receives a
// value after every hotplug pass; signals are coalesced while the
// receiver lags.
func (h *Host) StatusChange() <-chan struct{} {
	return h.status
}

// SetPopulateCallback stores the callback invoked by the monitor after
// each hotplug pass.
func (h *Host) SetPopulateCallback(cb PopulateFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.populate = cb
}

// SetDefaultMountFlags configures behavior flags for subsequent mounts.
// Already-mounted volumes are unaffected.
func (h *Host) SetDefaultMountFlags(flags fsdrv.MountFlags) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flags = flags
}

// MountedCount returns the number of currently mounted volumes.
func (h *Host) MountedCount() int {
	return h.table.Count()
}

// ListMounted returns a snapshot of the currently mounted volumes.
func (h *Host) ListMounted() []mount.Info {
	return h.table.List()
}

// Unmount tears down one volume by mount name, optionally signalling
// the status-change event.
func (h *Host) Unmount(name string, signalChange bool) error {
	if err := h.table.Unmount(name); err != nil {
		return err
	}
	if signalChange {
		h.signalStatus()
	}
	return nil
}

// Resolve translates a "<mount>:<path>" string to the target volume and
// a volume-relative path.
func (h *Host) Resolve(userPath string) (fsdrv.Volume, mount.Info, string, error) {
	return h.table.Resolve(userPath)
}

// Chdir sets the working directory of the volume named in userPath.
func (h *Host) Chdir(userPath string) error {
	return h.table.Chdir(userPath)
}

// Drives returns the attached drives, probed or not.
func (h *Host) Drives() []*Drive {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Drive, 0, len(h.drives))
	for _, d := range h.drives {
		out = append(out, d)
	}
	return out
}

func (h *Host) signalStatus() {
	select {
	case h.status <- struct{}{}:
	default:
	}
}
