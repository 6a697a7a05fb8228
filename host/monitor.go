package host

import (
	"context"

	"github.com/ardnew/usbms/hal"
	"github.com/ardnew/usbms/pkg"
)

// monitor is the hotplug loop. Apart from the initial pass that Start
// runs on the caller's goroutine before launching it, it is the only
// goroutine that mutates the drive table; everything else reads through
// accessors or the mount registry.
func (h *Host) monitor() {
	defer close(h.done)

	notify := h.svc.Notify()
	for {
		select {
		case <-h.exit:
			h.drain()
			return

		case _, ok := <-notify:
			if !ok {
				// Service shut down underneath us; treat like exit.
				pkg.LogWarn(pkg.ComponentMonitor, "service notification channel closed")
				h.drain()
				return
			}
			h.reconcile(h.ctx)
		}
	}
}

// reconcile diffs the service's interface list against the drive table,
// attaching newcomers and detaching the departed, then publishes the
// result through the status event and populate callback.
func (h *Host) reconcile(ctx context.Context) {
	ids, err := h.svc.ListInterfaces(ctx)
	if err != nil {
		pkg.LogWarn(pkg.ComponentMonitor, "interface enumeration failed", "error", err)
		return
	}

	current := make(map[hal.InterfaceID]bool, len(ids))
	for _, id := range ids {
		current[id] = true
	}

	// Departed drives leave the table before their teardown runs, so a
	// racing mount lookup can never observe a half-dead drive.
	h.mu.Lock()
	var gone []*Drive
	for id, d := range h.drives {
		if !current[id] {
			gone = append(gone, d)
			delete(h.drives, id)
		}
	}
	known := make(map[hal.InterfaceID]bool, len(h.drives))
	for id := range h.drives {
		known[id] = true
	}
	drivers, flags := h.drivers, h.flags
	h.mu.Unlock()

	for _, d := range gone {
		d.detach(ctx, h.table)
	}

	for _, id := range ids {
		if known[id] {
			continue
		}
		d, err := attach(ctx, h.svc, id, h.table, drivers, flags, h.pipeCfg)
		if err != nil {
			// A drive that fails to initialize stays out of the table;
			// the event below still fires.
			pkg.LogWarn(pkg.ComponentMonitor, "attach failed",
				"id", id,
				"error", err)
			continue
		}
		h.mu.Lock()
		h.drives[id] = d
		h.mu.Unlock()
	}

	h.publish()
}

// drain detaches every drive; run by the monitor on exit.
func (h *Host) drain() {
	h.mu.Lock()
	var all []*Drive
	for id, d := range h.drives {
		all = append(all, d)
		delete(h.drives, id)
	}
	h.mu.Unlock()

	for _, d := range all {
		d.detach(h.ctx, h.table)
	}
}

// publish signals the status-change event and invokes the populate
// callback with a mounted-volume snapshot.
func (h *Host) publish() {
	h.signalStatus()

	h.mu.RLock()
	cb := h.populate
	h.mu.RUnlock()
	if cb != nil {
		cb(h.table.List())
	}
}
