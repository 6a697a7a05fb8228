// Package gousb implements the usbms host-service contract over
// libusb via github.com/google/gousb.
//
// The service enumerates Mass Storage Bulk-Only interfaces across all
// attached devices, claims interfaces with automatic kernel-driver
// detach, and maps libusb transfer failures onto the stack's sentinel
// errors (LIBUSB_ERROR_PIPE becomes pkg.ErrStall, and so on).
//
// libusb offers no portable hotplug callback through gousb, so the
// service drives its notification channel from a short-interval
// enumeration poll. Endpoint halt query and clear use the standard
// GET_STATUS and CLEAR_FEATURE(ENDPOINT_HALT) control requests.
package gousb
