// Package mount owns the process-wide table of mounted volumes and the
// name-to-volume namespace.
//
// Each mounted partition occupies one slot; slot indices are reused
// lowest-first and derive the mount name ("ums0", "ums1", ...), which is
// unique across the process for the life of the mount. User-facing paths
// carry the mount name as a "<name>:" prefix; the resolver translates
// them to volume-relative paths, honoring a per-volume current working
// directory for relative remainders.
//
// The table is guarded by a single mutex, acquired before any device
// mutex and never held across filesystem or SCSI operations.
package mount
