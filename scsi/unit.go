package scsi

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ardnew/usbms/bot"
	"github.com/ardnew/usbms/pkg"
)

// notReadyRetryDelay is the wait before retrying a NOT READY command.
const notReadyRetryDelay = time.Second

// Unit is one probed logical unit of a mass storage device.
//
// All commands of a device serialize through the shared device mutex,
// which also guards the transport scratch buffer. Public methods acquire
// it for their full duration, so block I/O spanning several commands
// completes in call order.
type Unit struct {
	seq *bot.Sequencer
	mu  *sync.Mutex
	lun uint8

	// Identity, captured at probe time.
	Vendor   string
	Product  string
	Revision string
	Serial   string

	// Capabilities.
	Removable    bool
	EjectOK      bool
	WriteProtect bool
	FUA          bool
	LongLBA      bool

	// Geometry.
	BlockCount  uint64
	BlockLength uint32
}

// LUN returns the logical unit number.
func (u *Unit) LUN() uint8 {
	return u.lun
}

// Capacity returns the unit capacity in bytes.
func (u *Unit) Capacity() uint64 {
	return u.BlockCount * uint64(u.BlockLength)
}

// Probe runs the startup command sequence against one LUN and returns
// the populated unit.
//
// A fatal step fails the probe: unsupported peripheral type, medium not
// present (reported as [pkg.ErrMediumNotPresent]), unit not ready after
// retry, zero capacity, or an unsupported block length. Advisory steps
// (removal prevention, serial VPD, mode sense) degrade gracefully.
func Probe(ctx context.Context, seq *bot.Sequencer, mu *sync.Mutex, lun uint8) (*Unit, error) {
	if lun >= MaxLUNs {
		return nil, pkg.ErrInvalidParameter
	}

	u := &Unit{seq: seq, mu: mu, lun: lun}

	mu.Lock()
	defer mu.Unlock()

	if err := u.probeLocked(ctx); err != nil {
		// Undo a successful start so a skipped LUN is left quiescent.
		u.stopLocked(ctx)
		return nil, err
	}

	pkg.LogInfo(pkg.ComponentSCSI, "LUN probed",
		"lun", lun,
		"vendor", u.Vendor,
		"product", u.Product,
		"blocks", u.BlockCount,
		"blockLength", u.BlockLength,
		"writeProtect", u.WriteProtect,
		"fua", u.FUA,
		"longLBA", u.LongLBA)

	return u, nil
}

func (u *Unit) probeLocked(ctx context.Context) error {
	if err := u.inquiry(ctx); err != nil {
		return err
	}

	u.Serial = u.serialVPD(ctx)

	if u.Removable {
		// Advisory: many sticks report removable media yet reject
		// removal prevention.
		if err := u.command(ctx, CDBPreventAllowRemoval(true), nil, false); err == nil {
			if err := u.command(ctx, CDBStartStopUnit(true, false), nil, false); err != nil {
				if errors.Is(err, pkg.ErrMediumNotPresent) {
					return err
				}
			} else {
				u.EjectOK = true
			}
		} else if errors.Is(err, pkg.ErrMediumNotPresent) {
			return err
		}
	}

	u.modeSense(ctx)

	if err := u.command(ctx, CDBTestUnitReady(), nil, false); err != nil {
		return err
	}

	return u.readCapacity(ctx)
}

// inquiry issues the standard INQUIRY and validates the peripheral type.
func (u *Unit) inquiry(ctx context.Context) error {
	buf := make([]byte, InquiryStandardSize)
	if err := u.command(ctx, CDBInquiry(InquiryStandardSize), buf, true); err != nil {
		return err
	}

	qualifier := buf[0] >> 5
	devType := buf[0] & 0x1F
	if qualifier != 0 || devType != DeviceTypeDisk {
		pkg.LogWarn(pkg.ComponentSCSI, "peripheral rejected",
			"lun", u.lun,
			"qualifier", qualifier,
			"type", devType)
		return pkg.ErrUnsupportedDevice
	}

	u.Removable = buf[1]&InquiryRMB != 0
	u.Vendor = trimInquiryString(buf[8:16])
	u.Product = trimInquiryString(buf[16:32])
	u.Revision = trimInquiryString(buf[32:36])
	return nil
}

// serialVPD fetches the Unit Serial Number VPD page, falling back to the
// vendor-specific tail of a long standard INQUIRY.
func (u *Unit) serialVPD(ctx context.Context) string {
	// Header first: byte 3 carries the page length.
	hdr := make([]byte, 4)
	if err := u.command(ctx, CDBInquiryVPD(InquiryVPDSerial, 4), hdr, true); err == nil && hdr[3] > 0 {
		page := make([]byte, 4+int(hdr[3]))
		if err := u.command(ctx, CDBInquiryVPD(InquiryVPDSerial, uint16(len(page))), page, true); err == nil {
			if s := trimInquiryString(page[4:]); isPrintableASCII(s) && s != "" {
				return s
			}
		}
	}

	// Fallback: bytes 36-43 of a 44-byte standard INQUIRY response hold
	// a vendor-specific serial on many devices.
	long := make([]byte, 44)
	if err := u.command(ctx, CDBInquiry(44), long, true); err == nil {
		if s := trimInquiryString(long[36:44]); isPrintableASCII(s) && s != "" {
			return s
		}
	}
	return ""
}

// modeSense fetches the mode parameter header for the all-pages code to
// learn write protection and FUA support. MODE SENSE (10) is the
// fallback when (6) fails. Both failing leaves the flags clear.
func (u *Unit) modeSense(ctx context.Context) {
	hdr6 := make([]byte, 4)
	if err := u.command(ctx, CDBModeSense6(ModePageAllPages, uint8(len(hdr6))), hdr6, true); err == nil {
		u.WriteProtect = hdr6[2]&ModeDevSpecWP != 0
		u.FUA = hdr6[2]&ModeDevSpecDPOFUA != 0
		return
	}

	hdr10 := make([]byte, 8)
	if err := u.command(ctx, CDBModeSense10(ModePageAllPages, uint16(len(hdr10))), hdr10, true); err == nil {
		u.WriteProtect = hdr10[3]&ModeDevSpecWP != 0
		u.FUA = hdr10[3]&ModeDevSpecDPOFUA != 0
	}
}

// readCapacity determines the unit geometry, escalating to READ CAPACITY
// (16) when the 10-byte variant saturates.
func (u *Unit) readCapacity(ctx context.Context) error {
	buf := make([]byte, 8)
	if err := u.command(ctx, CDBReadCapacity10(), buf, true); err != nil {
		return err
	}

	lastLBA := uint64(binary.BigEndian.Uint32(buf[0:4]))
	blockLength := binary.BigEndian.Uint32(buf[4:8])

	if lastLBA == 0xFFFFFFFF {
		long := make([]byte, 32)
		if err := u.command(ctx, CDBReadCapacity16(uint32(len(long))), long, true); err != nil {
			return err
		}
		lastLBA = binary.BigEndian.Uint64(long[0:8])
		blockLength = binary.BigEndian.Uint32(long[8:12])
		u.LongLBA = true
	}

	if blockLength == 0 || blockLength%MinBlockLength != 0 || blockLength > MaxBlockLength {
		return fmt.Errorf("%w: %d", pkg.ErrBadBlockLength, blockLength)
	}
	u.BlockCount = lastLBA + 1
	u.BlockLength = blockLength
	if u.BlockCount == 0 {
		return pkg.ErrZeroCapacity
	}
	return nil
}

// ReadBlocks reads count blocks starting at lba into buf. Requests
// larger than the per-command block limit are split transparently.
func (u *Unit) ReadBlocks(ctx context.Context, lba uint64, count uint32, buf []byte) error {
	return u.transfer(ctx, lba, count, buf, false)
}

// WriteBlocks writes count blocks starting at lba from buf. Writing to a
// write-protected unit fails with [pkg.ErrWriteProtected] without
// issuing a command.
func (u *Unit) WriteBlocks(ctx context.Context, lba uint64, count uint32, buf []byte) error {
	if u.WriteProtect {
		return pkg.ErrWriteProtected
	}
	return u.transfer(ctx, lba, count, buf, true)
}

func (u *Unit) transfer(ctx context.Context, lba uint64, count uint32, buf []byte, write bool) error {
	if count == 0 {
		return nil
	}
	if lba+uint64(count) > u.BlockCount || lba+uint64(count) < lba {
		return pkg.ErrOutOfRange
	}
	if uint64(len(buf)) < uint64(count)*uint64(u.BlockLength) {
		return pkg.ErrBufferTooSmall
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	limit := u.maxBlocksPerCommand()
	for count > 0 {
		blocks := count
		if blocks > limit {
			blocks = limit
		}

		n := uint64(blocks) * uint64(u.BlockLength)
		cdb := u.rwCDB(lba, blocks, write)
		var err error
		if write {
			err = u.command(ctx, cdb, buf[:n], false)
		} else {
			err = u.command(ctx, cdb, buf[:n], true)
		}
		if errors.Is(err, pkg.ErrStall) {
			// Reset recovery already ran; reissue once with a fresh tag.
			if write {
				err = u.command(ctx, cdb, buf[:n], false)
			} else {
				err = u.command(ctx, cdb, buf[:n], true)
			}
		}
		if err != nil {
			return err
		}

		lba += uint64(blocks)
		count -= blocks
		buf = buf[n:]
	}
	return nil
}

// maxBlocksPerCommand caps a single command by the CDB field limit. The
// data phase below moves the payload in scratch-buffer-sized posts, so
// the scratch size does not bound the command.
func (u *Unit) maxBlocksPerCommand() uint32 {
	if u.LongLBA {
		return MaxBlocks16
	}
	return MaxBlocks10
}

func (u *Unit) rwCDB(lba uint64, blocks uint32, write bool) []byte {
	if u.LongLBA {
		if write {
			return CDBWrite16(lba, blocks, u.FUA)
		}
		return CDBRead16(lba, blocks, u.FUA)
	}
	if write {
		return CDBWrite10(uint32(lba), uint16(blocks), u.FUA)
	}
	return CDBRead10(uint32(lba), uint16(blocks), u.FUA)
}

// SynchronizeCache flushes the device write cache. Units that reject the
// command as unsupported report success.
func (u *Unit) SynchronizeCache(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	cdb := CDBSynchronizeCache10()
	if u.LongLBA {
		cdb = CDBSynchronizeCache16()
	}
	err := u.command(ctx, cdb, nil, false)
	var serr *SenseError
	if errors.As(err, &serr) && serr.Sense.Key == SenseIllegalRequest {
		return nil
	}
	return err
}

// Eject releases the removal prevention and stops the unit, ejecting the
// medium when the unit supports it. Used during detach.
func (u *Unit) Eject(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stopLocked(ctx)
}

func (u *Unit) stopLocked(ctx context.Context) error {
	if !u.Removable {
		return nil
	}
	if err := u.command(ctx, CDBPreventAllowRemoval(false), nil, false); err != nil {
		return err
	}
	return u.command(ctx, CDBStartStopUnit(false, u.EjectOK), nil, false)
}

// command runs one command and applies the sense-key policy to a failed
// status. The device mutex must be held.
func (u *Unit) command(ctx context.Context, cdb, data []byte, in bool) error {
	for attempt := 0; ; attempt++ {
		res, err := u.seq.Do(ctx, &bot.Command{
			LUN:  u.lun,
			CDB:  cdb,
			Data: data,
			In:   in,
		})
		if err != nil {
			return err
		}
		if res.Ok() {
			return nil
		}

		if cdb[0] == OpRequestSense {
			// Sense for a failed sense is meaningless.
			return pkg.ErrCommandFailed
		}

		sense, err := u.requestSenseLocked(ctx)
		if err != nil {
			return err
		}

		switch {
		case sense.Key == SenseNoSense,
			sense.Key == SenseRecoveredError,
			sense.Key == SenseUnitAttention,
			sense.Key == SenseCompleted:
			return nil

		case sense.MediumNotPresent():
			return fmt.Errorf("%w (lun %d)", pkg.ErrMediumNotPresent, u.lun)

		case sense.Key == SenseNotReady && attempt == 0:
			pkg.LogDebug(pkg.ComponentSCSI, "unit not ready, retrying",
				"lun", u.lun,
				"op", cdb[0])
			select {
			case <-time.After(notReadyRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue

		case sense.Key == SenseAbortedCommand && attempt == 0:
			continue

		default:
			return &SenseError{Op: cdb[0], Sense: sense}
		}
	}
}

// requestSenseLocked fetches fixed-format sense data for the previous
// failed command.
func (u *Unit) requestSenseLocked(ctx context.Context) (Sense, error) {
	buf := make([]byte, 18)
	res, err := u.seq.Do(ctx, &bot.Command{
		LUN:  u.lun,
		CDB:  CDBRequestSense(uint8(len(buf))),
		Data: buf,
		In:   true,
	})
	if err != nil {
		return Sense{}, err
	}
	if !res.Ok() {
		return Sense{}, pkg.ErrCommandFailed
	}

	var sense Sense
	if !ParseSense(buf, &sense) {
		return Sense{}, pkg.ErrCommandFailed
	}
	return sense, nil
}

func trimInquiryString(b []byte) string {
	return strings.TrimRight(strings.TrimRight(string(b), "\x00"), " ")
}

func isPrintableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7E {
			return false
		}
	}
	return true
}
