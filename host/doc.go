// Package host ties the usbms stack together: it watches the host
// service for Mass Storage interfaces, brings attached drives through
// probe and mount, and exposes the public library surface.
//
// A [Host] owns one background monitor goroutine. The monitor wakes on
// the service's interface-state-changed notification, diffs the set of
// attached MSC interfaces against its drive table, attaches newcomers
// (endpoint resolution, Get Max LUN, per-LUN SCSI probe, partition
// scan, mount), and detaches the departed (unmount, cache sync, eject,
// close). After each pass it signals the status-change event and, when
// configured, invokes the populate callback with a snapshot of the
// mounted volumes.
//
// Filesystem operations reach the hardware from arbitrary caller
// goroutines; they serialize against the monitor only at the device
// mutex, never at the host level. The facade never fails catastrophically:
// a drive that cannot initialize simply stays out of the mounted list.
package host
