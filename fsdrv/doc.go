// Package fsdrv defines the contract between the mount layer and
// filesystem drivers.
//
// A [Driver] claims partition types and produces a [Volume] — the
// POSIX-like device-operations table the mount registry dispatches
// user calls through. Drivers translate their library's native errors
// to errno-style values via [Errno] so callers see a uniform surface.
//
// Bindings for the supported on-disk formats live in subpackages:
// fatfs (FAT12/16/32 and exFAT), extfs (EXT2/3/4, read-only), and
// ntfs (NTFS, read-only). Additional drivers register through
// [Register] or are passed explicitly to the host configuration.
package fsdrv
