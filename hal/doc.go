// Package hal defines the host-service abstraction consumed by the usbms
// stack.
//
// The host OS's USB host-controller service owns bus configuration and
// device enumeration; this package captures only the contract the mass
// storage stack needs from it:
//
//   - Enumeration of active Mass Storage Class interfaces (class 8,
//     subclass 6, protocol 0x50 — Bulk-Only Transport)
//   - A notification channel signalled on interface attach/detach
//   - Per-interface sessions providing control transfers, bulk transfers
//     with timeout, and endpoint halt query/clear
//
// Two implementations ship with the module: [github.com/ardnew/usbms/hal/gousb]
// backed by libusb for production use, and [github.com/ardnew/usbms/hal/mem],
// an in-process emulated bus with a scripted BOT device model for tests.
//
// # Implementing a backend
//
// A backend implements [HostService] and [Session]. Transfer methods must
// honor context cancellation and deadlines; the stack maps a deadline
// expiry to its timeout policy and never cancels an in-flight bulk
// transfer by other means. Backends report an endpoint STALL as an error
// matching [pkg.ErrStall] under [errors.Is].
package hal
