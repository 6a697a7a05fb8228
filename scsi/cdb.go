package scsi

import "encoding/binary"

// CDB builders. All multi-byte fields are big-endian on the wire.

// CDBTestUnitReady builds a TEST UNIT READY command.
func CDBTestUnitReady() []byte {
	return []byte{OpTestUnitReady, 0, 0, 0, 0, 0}
}

// CDBRequestSense builds a REQUEST SENSE command for alloc bytes of
// fixed-format sense data.
func CDBRequestSense(alloc uint8) []byte {
	return []byte{OpRequestSense, 0, 0, 0, alloc, 0}
}

// CDBInquiry builds a standard INQUIRY command.
func CDBInquiry(alloc uint16) []byte {
	cdb := []byte{OpInquiry, 0, 0, 0, 0, 0}
	binary.BigEndian.PutUint16(cdb[3:5], alloc)
	return cdb
}

// CDBInquiryVPD builds an INQUIRY command for the given VPD page.
func CDBInquiryVPD(page uint8, alloc uint16) []byte {
	cdb := []byte{OpInquiry, 0x01, page, 0, 0, 0}
	binary.BigEndian.PutUint16(cdb[3:5], alloc)
	return cdb
}

// CDBModeSense6 builds a MODE SENSE (6) command for the given page code.
func CDBModeSense6(page uint8, alloc uint8) []byte {
	return []byte{OpModeSense6, 0, page, 0, alloc, 0}
}

// CDBModeSense10 builds a MODE SENSE (10) command for the given page code.
func CDBModeSense10(page uint8, alloc uint16) []byte {
	cdb := []byte{OpModeSense10, 0, page, 0, 0, 0, 0, 0, 0, 0}
	binary.BigEndian.PutUint16(cdb[7:9], alloc)
	return cdb
}

// CDBStartStopUnit builds a START STOP UNIT command. loej requests medium
// load (with start) or eject (with stop).
func CDBStartStopUnit(start, loej bool) []byte {
	var b uint8
	if start {
		b |= 0x01
	}
	if loej {
		b |= 0x02
	}
	return []byte{OpStartStopUnit, 0, 0, 0, b, 0}
}

// CDBPreventAllowRemoval builds a PREVENT ALLOW MEDIUM REMOVAL command.
func CDBPreventAllowRemoval(prevent bool) []byte {
	var b uint8
	if prevent {
		b = 0x01
	}
	return []byte{OpPreventAllowRemoval, 0, 0, 0, b, 0}
}

// CDBReadCapacity10 builds a READ CAPACITY (10) command.
func CDBReadCapacity10() []byte {
	return []byte{OpReadCapacity10, 0, 0, 0, 0, 0, 0, 0, 0, 0}
}

// CDBReadCapacity16 builds a READ CAPACITY (16) service action command.
func CDBReadCapacity16(alloc uint32) []byte {
	cdb := make([]byte, 16)
	cdb[0] = OpServiceActionIn16
	cdb[1] = ServiceActionReadCapacity16
	binary.BigEndian.PutUint32(cdb[10:14], alloc)
	return cdb
}

// CDBRead10 builds a READ (10) command.
func CDBRead10(lba uint32, blocks uint16, fua bool) []byte {
	cdb := make([]byte, 10)
	cdb[0] = OpRead10
	if fua {
		cdb[1] = 0x08
	}
	binary.BigEndian.PutUint32(cdb[2:6], lba)
	binary.BigEndian.PutUint16(cdb[7:9], blocks)
	return cdb
}

// CDBWrite10 builds a WRITE (10) command.
func CDBWrite10(lba uint32, blocks uint16, fua bool) []byte {
	cdb := CDBRead10(lba, blocks, fua)
	cdb[0] = OpWrite10
	return cdb
}

// CDBRead16 builds a READ (16) command.
func CDBRead16(lba uint64, blocks uint32, fua bool) []byte {
	cdb := make([]byte, 16)
	cdb[0] = OpRead16
	if fua {
		cdb[1] = 0x08
	}
	binary.BigEndian.PutUint64(cdb[2:10], lba)
	binary.BigEndian.PutUint32(cdb[10:14], blocks)
	return cdb
}

// CDBWrite16 builds a WRITE (16) command.
func CDBWrite16(lba uint64, blocks uint32, fua bool) []byte {
	cdb := CDBRead16(lba, blocks, fua)
	cdb[0] = OpWrite16
	return cdb
}

// CDBSynchronizeCache10 builds a SYNCHRONIZE CACHE (10) command covering
// the whole unit.
func CDBSynchronizeCache10() []byte {
	cdb := make([]byte, 10)
	cdb[0] = OpSynchronizeCache10
	return cdb
}

// CDBSynchronizeCache16 builds a SYNCHRONIZE CACHE (16) command covering
// the whole unit.
func CDBSynchronizeCache16() []byte {
	cdb := make([]byte, 16)
	cdb[0] = OpSynchronizeCache16
	return cdb
}
