package scsi

// SCSI operation codes (SPC-4 / SBC-3 subset).
const (
	OpTestUnitReady       = 0x00 // Test if unit is ready
	OpRequestSense        = 0x03 // Request sense data
	OpInquiry             = 0x12 // Get device information
	OpModeSense6          = 0x1A // Get mode parameters (6-byte)
	OpStartStopUnit       = 0x1B // Start/stop unit
	OpPreventAllowRemoval = 0x1E // Prevent/allow medium removal
	OpReadCapacity10      = 0x25 // Read capacity (10-byte)
	OpRead10              = 0x28 // Read blocks (10-byte)
	OpWrite10             = 0x2A // Write blocks (10-byte)
	OpSynchronizeCache10  = 0x35 // Synchronize cache (10-byte)
	OpModeSense10         = 0x5A // Get mode parameters (10-byte)
	OpRead16              = 0x88 // Read blocks (16-byte)
	OpWrite16             = 0x8A // Write blocks (16-byte)
	OpSynchronizeCache16  = 0x91 // Synchronize cache (16-byte)
	OpServiceActionIn16   = 0x9E // Service action in (16-byte)
)

// Service action codes for OpServiceActionIn16.
const (
	ServiceActionReadCapacity16 = 0x10 // Read capacity (16-byte)
)

// SCSI sense keys.
const (
	SenseNoSense        = 0x00 // No error
	SenseRecoveredError = 0x01 // Recovered error
	SenseNotReady       = 0x02 // Device not ready
	SenseMediumError    = 0x03 // Medium error
	SenseHardwareError  = 0x04 // Hardware error
	SenseIllegalRequest = 0x05 // Illegal request
	SenseUnitAttention  = 0x06 // Unit attention
	SenseDataProtect    = 0x07 // Data protect
	SenseBlankCheck     = 0x08 // Blank check
	SenseAbortedCommand = 0x0B // Aborted command
	SenseCompleted      = 0x0F // Command completed with sense data
)

// Additional Sense Codes (ASC).
const (
	ASCNoAdditionalInfo      = 0x00 // No additional sense information
	ASCInvalidCommand        = 0x20 // Invalid command operation code
	ASCLBAOutOfRange         = 0x21 // Logical block address out of range
	ASCInvalidFieldInCDB     = 0x24 // Invalid field in CDB
	ASCWriteProtected        = 0x27 // Write protected
	ASCNotReadyToReadyChange = 0x28 // Not ready to ready change
	ASCMediumNotPresent      = 0x3A // Medium not present
)

// SCSI peripheral device types.
const (
	DeviceTypeDisk  = 0x00 // Direct access block device (disk)
	DeviceTypeCDROM = 0x05 // CD-ROM device
	DeviceTypeRBC   = 0x0E // Simplified direct-access device
)

// INQUIRY response constants.
const (
	InquiryStandardSize = 36   // Standard INQUIRY data length
	InquiryRMB          = 0x80 // Removable media bit (byte 1)
	InquiryVPDSerial    = 0x80 // Unit Serial Number VPD page code
)

// Mode page codes.
const (
	ModePageAllPages = 0x3F // All mode pages
)

// Mode parameter header device-specific flags.
const (
	ModeDevSpecWP     = 0x80 // Write protect
	ModeDevSpecDPOFUA = 0x10 // DPO/FUA supported
)

// Per-command block transfer limits. The 16-byte commands allow one more
// block than the field width suggests: commodity 4 TB drives accept a
// full 0x10000-block transfer.
const (
	MaxBlocks10 = 0xFFFF
	MaxBlocks16 = 0x10000
)

// Block length bounds accepted during probe.
const (
	MinBlockLength = 512
	MaxBlockLength = 4096
)

// MaxLUNs is the largest number of logical units per device.
const MaxLUNs = 16
