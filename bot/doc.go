// Package bot implements the USB Mass Storage Bulk-Only Transport from
// the host side.
//
// A BOT command is a three-phase exchange: a 31-byte Command Block
// Wrapper (CBW) on the bulk OUT endpoint, an optional data phase in
// either direction, and a 13-byte Command Status Wrapper (CSW) on the
// bulk IN endpoint. All wrapper fields are little-endian on the wire.
//
// The [Sequencer] drives one command at a time through a [transport.Pipe],
// staging the data phase through the pipe's scratch buffer in
// buffer-sized chunks. It handles the transport's failure modes locally:
//
//   - CBW STALL: reset recovery, command fails
//   - Data-phase STALL: reset recovery, command fails (caller may retry)
//   - Early CSW during a data IN phase: accepted, command completes with
//     the reported status
//   - CSW STALL: clear halt and retry once
//   - Phase error: reset recovery, status reported to the caller
//
// Reset recovery is the class-specific Bulk-Only Mass Storage Reset
// request followed by clearing the halt on both bulk endpoints.
//
// Callers serialize commands per device; the sequencer assumes the
// device mutex is held for the full three-phase exchange.
package bot
