package mem

import (
	"encoding/binary"

	"github.com/ardnew/usbms/bot"
	"github.com/ardnew/usbms/scsi"
)

// handleCommand executes the SCSI command in d.cbw against the addressed
// LUN, returning the CSW status and any IN-phase payload. Called with
// d.mu held.
func (d *Device) handleCommand(payload []byte) (uint8, []byte) {
	if int(d.cbw.LUN) >= len(d.luns) {
		return bot.StatusFailed, nil
	}
	l := d.luns[d.cbw.LUN]
	cb := &d.cbw.CB

	switch cb[0] {
	case scsi.OpTestUnitReady:
		if !l.cfg.Storage.IsPresent() {
			return l.fail(scsi.SenseNotReady, scsi.ASCMediumNotPresent)
		}
		return l.pass()

	case scsi.OpRequestSense:
		data := make([]byte, 18)
		data[0] = 0x70
		data[2] = l.sense.Key
		data[7] = 10
		data[12] = l.sense.ASC
		data[13] = l.sense.ASCQ
		l.sense = scsi.Sense{}
		return bot.StatusGood, d.clip(data)

	case scsi.OpInquiry:
		return d.handleInquiry(l)

	case scsi.OpModeSense6:
		data := make([]byte, 4)
		data[0] = 3
		data[2] = l.devSpecific()
		l.sense = scsi.Sense{}
		return bot.StatusGood, d.clip(data)

	case scsi.OpModeSense10:
		data := make([]byte, 8)
		binary.BigEndian.PutUint16(data[0:2], 6)
		data[3] = l.devSpecific()
		l.sense = scsi.Sense{}
		return bot.StatusGood, d.clip(data)

	case scsi.OpStartStopUnit:
		l.started = cb[4]&0x01 != 0
		return l.pass()

	case scsi.OpPreventAllowRemoval:
		if !l.cfg.Storage.IsRemovable() {
			return l.fail(scsi.SenseIllegalRequest, scsi.ASCInvalidFieldInCDB)
		}
		l.prevented = cb[4]&0x01 != 0
		return l.pass()

	case scsi.OpReadCapacity10:
		if !l.cfg.Storage.IsPresent() {
			return l.fail(scsi.SenseNotReady, scsi.ASCMediumNotPresent)
		}
		last := l.cfg.Storage.BlockCount() - 1
		if last > 0xFFFFFFFF {
			last = 0xFFFFFFFF
		}
		data := make([]byte, 8)
		binary.BigEndian.PutUint32(data[0:4], uint32(last))
		binary.BigEndian.PutUint32(data[4:8], l.cfg.Storage.BlockSize())
		l.sense = scsi.Sense{}
		return bot.StatusGood, data

	case scsi.OpServiceActionIn16:
		if cb[1]&0x1F != scsi.ServiceActionReadCapacity16 {
			return l.fail(scsi.SenseIllegalRequest, scsi.ASCInvalidCommand)
		}
		if !l.cfg.Storage.IsPresent() {
			return l.fail(scsi.SenseNotReady, scsi.ASCMediumNotPresent)
		}
		data := make([]byte, 32)
		binary.BigEndian.PutUint64(data[0:8], l.cfg.Storage.BlockCount()-1)
		binary.BigEndian.PutUint32(data[8:12], l.cfg.Storage.BlockSize())
		l.sense = scsi.Sense{}
		return bot.StatusGood, d.clip(data)

	case scsi.OpRead10:
		lba := uint64(binary.BigEndian.Uint32(cb[2:6]))
		blocks := uint32(binary.BigEndian.Uint16(cb[7:9]))
		return d.handleRead(l, lba, blocks)

	case scsi.OpRead16:
		lba := binary.BigEndian.Uint64(cb[2:10])
		blocks := binary.BigEndian.Uint32(cb[10:14])
		return d.handleRead(l, lba, blocks)

	case scsi.OpWrite10:
		lba := uint64(binary.BigEndian.Uint32(cb[2:6]))
		blocks := uint32(binary.BigEndian.Uint16(cb[7:9]))
		return d.handleWrite(l, lba, blocks, payload)

	case scsi.OpWrite16:
		lba := binary.BigEndian.Uint64(cb[2:10])
		blocks := binary.BigEndian.Uint32(cb[10:14])
		return d.handleWrite(l, lba, blocks, payload)

	case scsi.OpSynchronizeCache10, scsi.OpSynchronizeCache16:
		return l.pass()

	default:
		return l.fail(scsi.SenseIllegalRequest, scsi.ASCInvalidCommand)
	}
}

func (d *Device) handleInquiry(l *lunState) (uint8, []byte) {
	cb := &d.cbw.CB

	if cb[1]&0x01 != 0 {
		// VPD inquiry; only the Unit Serial Number page is supported.
		if cb[2] != scsi.InquiryVPDSerial {
			return l.fail(scsi.SenseIllegalRequest, scsi.ASCInvalidFieldInCDB)
		}
		serial := []byte(l.cfg.Serial)
		data := make([]byte, 4+len(serial))
		data[1] = scsi.InquiryVPDSerial
		binary.BigEndian.PutUint16(data[2:4], uint16(len(serial)))
		copy(data[4:], serial)
		l.sense = scsi.Sense{}
		return bot.StatusGood, d.clip(data)
	}

	data := make([]byte, 44)
	if l.cfg.Storage.IsRemovable() {
		data[1] = scsi.InquiryRMB
	}
	data[2] = 0x06 // SPC-4
	data[3] = 0x02 // SPC response format
	data[4] = uint8(len(data) - 5)
	padCopy(data[8:16], l.cfg.Vendor)
	padCopy(data[16:32], l.cfg.Product)
	padCopy(data[32:36], l.cfg.Revision)
	padCopy(data[36:44], l.cfg.Serial)
	l.sense = scsi.Sense{}
	return bot.StatusGood, d.clip(data)
}

func (d *Device) handleRead(l *lunState, lba uint64, blocks uint32) (uint8, []byte) {
	st := l.cfg.Storage
	if !st.IsPresent() {
		return l.fail(scsi.SenseNotReady, scsi.ASCMediumNotPresent)
	}
	if lba+uint64(blocks) > st.BlockCount() {
		return l.fail(scsi.SenseIllegalRequest, scsi.ASCLBAOutOfRange)
	}

	data := make([]byte, uint64(blocks)*uint64(st.BlockSize()))
	if err := st.Read(lba, blocks, data); err != nil {
		return l.fail(scsi.SenseMediumError, 0)
	}
	l.sense = scsi.Sense{}
	return bot.StatusGood, data
}

func (d *Device) handleWrite(l *lunState, lba uint64, blocks uint32, payload []byte) (uint8, []byte) {
	st := l.cfg.Storage
	if !st.IsPresent() {
		return l.fail(scsi.SenseNotReady, scsi.ASCMediumNotPresent)
	}
	if st.IsWriteProtected() {
		return l.fail(scsi.SenseDataProtect, scsi.ASCWriteProtected)
	}
	if lba+uint64(blocks) > st.BlockCount() {
		return l.fail(scsi.SenseIllegalRequest, scsi.ASCLBAOutOfRange)
	}
	if uint64(len(payload)) < uint64(blocks)*uint64(st.BlockSize()) {
		return l.fail(scsi.SenseIllegalRequest, scsi.ASCInvalidFieldInCDB)
	}

	if err := st.Write(lba, blocks, payload); err != nil {
		return l.fail(scsi.SenseMediumError, 0)
	}
	l.sense = scsi.Sense{}
	return bot.StatusGood, nil
}

// clip bounds an IN payload by the CBW transfer length, as the wire
// protocol requires.
func (d *Device) clip(data []byte) []byte {
	if uint32(len(data)) > d.cbw.DataTransferLength {
		return data[:d.cbw.DataTransferLength]
	}
	return data
}

func (l *lunState) devSpecific() uint8 {
	var b uint8
	if l.cfg.Storage.IsWriteProtected() {
		b |= 0x80
	}
	if l.cfg.FUA {
		b |= 0x10
	}
	return b
}

func (l *lunState) pass() (uint8, []byte) {
	l.sense = scsi.Sense{}
	return bot.StatusGood, nil
}

func (l *lunState) fail(key, asc uint8) (uint8, []byte) {
	l.sense = scsi.Sense{Key: key, ASC: asc}
	return bot.StatusFailed, nil
}

func padCopy(dst []byte, s string) {
	for i := range dst {
		dst[i] = ' '
	}
	copy(dst, s)
}
