package mem

import (
	"encoding/binary"

	"github.com/ardnew/usbms/pkg"
)

// Image helpers stamp just enough on-disk structure into a storage
// backend for the partition scanner to find: an MBR, and per-partition
// filesystem magic. Tests and demos use them to build fixtures.

// MBRPartition describes one primary MBR entry for [FormatMBR].
type MBRPartition struct {
	Type   byte   // Partition type byte
	Start  uint32 // First LBA
	Blocks uint32 // Size in blocks
}

// FormatMBR writes an MBR with the given primary entries to LBA 0.
func FormatMBR(st Storage, parts []MBRPartition) error {
	if len(parts) > 4 {
		return pkg.ErrInvalidParameter
	}

	sector := make([]byte, st.BlockSize())
	for i, p := range parts {
		off := 0x1BE + i*16
		sector[off+4] = p.Type
		binary.LittleEndian.PutUint32(sector[off+8:off+12], p.Start)
		binary.LittleEndian.PutUint32(sector[off+12:off+16], p.Blocks)
	}
	sector[0x1FE] = 0x55
	sector[0x1FF] = 0xAA
	return st.Write(0, 1, sector)
}

// StampFAT32 writes a minimal FAT32 boot-sector signature at the given
// partition start.
func StampFAT32(st Storage, lba uint64) error {
	sector := make([]byte, st.BlockSize())
	sector[0] = 0xEB
	sector[1] = 0x58
	sector[2] = 0x90
	copy(sector[82:90], "FAT32   ")
	sector[0x1FE] = 0x55
	sector[0x1FF] = 0xAA
	return st.Write(lba, 1, sector)
}

// StampFAT16 writes a minimal FAT16 boot-sector signature.
func StampFAT16(st Storage, lba uint64) error {
	sector := make([]byte, st.BlockSize())
	sector[0] = 0xEB
	sector[1] = 0x3C
	sector[2] = 0x90
	copy(sector[54:62], "FAT16   ")
	sector[0x1FE] = 0x55
	sector[0x1FF] = 0xAA
	return st.Write(lba, 1, sector)
}

// StampNTFS writes a minimal NTFS boot-sector signature.
func StampNTFS(st Storage, lba uint64) error {
	sector := make([]byte, st.BlockSize())
	sector[0] = 0xEB
	sector[1] = 0x52
	sector[2] = 0x90
	copy(sector[3:11], "NTFS    ")
	sector[0x1FE] = 0x55
	sector[0x1FF] = 0xAA
	return st.Write(lba, 1, sector)
}

// StampEXT writes an EXT superblock magic at partition byte offset 1024.
// journal and extents select the feature bits distinguishing EXT3 and
// EXT4 from EXT2.
func StampEXT(st Storage, lba uint64, journal, extents bool) error {
	bs := uint64(st.BlockSize())

	// The superblock starts 1024 bytes into the partition; locate the
	// containing block and the offset within it.
	sbLBA := lba + 1024/bs
	sbOff := 1024 % bs

	block := make([]byte, bs)
	if err := st.Read(sbLBA, 1, block); err != nil {
		return err
	}

	binary.LittleEndian.PutUint16(block[sbOff+0x38:sbOff+0x3A], 0xEF53)
	var compat, incompat uint32
	if journal {
		compat |= 0x0004
	}
	if extents {
		incompat |= 0x0040
	}
	binary.LittleEndian.PutUint32(block[sbOff+0x5C:sbOff+0x60], compat)
	binary.LittleEndian.PutUint32(block[sbOff+0x60:sbOff+0x64], incompat)
	return st.Write(sbLBA, 1, block)
}
