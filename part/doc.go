// Package part discovers the partitions of a probed logical unit and
// tags each with a detected filesystem type.
//
// The scan reads the MBR at LBA 0, walks up to four primary entries plus
// any extended-partition chain, and switches to the GPT entry array when
// the MBR carries a protective 0xEE entry. Each discovered partition is
// typed by a magic-byte probe of its first sectors: FAT and exFAT boot
// sector signatures, the NTFS OEM identifier, and the EXT superblock
// magic at byte 0x438. Partitions that match nothing are kept in the
// result with [TypeUnknown] so callers can enumerate them, but they are
// never mounted.
//
// Extended-partition chains are walked with a bounded link count; deeply
// nested or cyclic chains are truncated. GPT is the preferred layout for
// anything beyond four partitions.
package part
