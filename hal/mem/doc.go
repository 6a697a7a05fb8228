// Package mem implements an in-process host service backed by emulated
// Bulk-Only mass storage devices.
//
// The emulated device speaks real wire formats: it parses the CBWs the
// stack sends, executes the SCSI command against a block-addressable
// [Storage], and answers with data and a CSW, byte-for-byte as a
// hardware device would. Tests exercise the full stack — transport,
// sequencer, SCSI, partition scan, mount — without hardware, and can
// inject the failure modes that matter: endpoint stalls, absent media,
// write protection, stalled Get Max LUN requests.
//
// [Service.Plug] and [Service.Unplug] simulate hotplug; each signals
// the service notification channel exactly as the OS service would.
package mem
