// Package scsi implements the SCSI command subset spoken to Bulk-Only
// mass storage devices.
//
// The package covers the probe command sequence (Inquiry, unit serial
// VPD, Prevent Allow Medium Removal, Start Stop Unit, Mode Sense 6/10,
// Test Unit Ready, Read Capacity 10/16) and the runtime I/O commands
// (Read/Write 10/16, Synchronize Cache 10/16). Command descriptor blocks
// pack all multi-byte fields big-endian, as defined by SPC-4 and SBC-3.
//
// A [Unit] is one probed logical unit. Its block I/O methods split
// requests by the per-command block limit (the BOT data phase moves each
// command through the transport scratch buffer in buffer-sized posts),
// set the FUA bit when the unit advertises support, and
// apply the sense-key retry policy after a failed command status:
//
//   - No Sense, Recovered Error, Unit Attention, Completed: success
//   - Not Ready with ASC 0x3A: medium not present, probe aborts
//   - Not Ready (other): wait one second and retry once
//   - Aborted Command: retry once immediately
//   - anything else: unrecoverable
package scsi
