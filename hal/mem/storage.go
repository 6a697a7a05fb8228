package mem

import (
	"io"
	"sync"
)

// Storage is the block backend of one emulated logical unit.
type Storage interface {
	// BlockSize returns the size of a storage block in bytes.
	BlockSize() uint32

	// BlockCount returns the total number of blocks.
	BlockCount() uint64

	// Read reads blocks starting at lba into buf.
	Read(lba uint64, blocks uint32, buf []byte) error

	// Write writes blocks from buf starting at lba.
	Write(lba uint64, blocks uint32, buf []byte) error

	// IsWriteProtected returns true if storage rejects writes.
	IsWriteProtected() bool

	// IsRemovable returns true if media is removable.
	IsRemovable() bool

	// IsPresent returns true if media is present (for removable media).
	IsPresent() bool
}

// MemStorage is a dense in-memory storage backend.
type MemStorage struct {
	mu        sync.RWMutex
	data      []byte
	blockSize uint32
	readOnly  bool
	removable bool
	present   bool
}

// NewMemStorage creates an in-memory storage with the given size and
// block size.
func NewMemStorage(size uint64, blockSize uint32) *MemStorage {
	return &MemStorage{
		data:      make([]byte, size),
		blockSize: blockSize,
		present:   true,
	}
}

// BlockSize returns the block size.
func (m *MemStorage) BlockSize() uint32 {
	return m.blockSize
}

// BlockCount returns the number of blocks.
func (m *MemStorage) BlockCount() uint64 {
	return uint64(len(m.data)) / uint64(m.blockSize)
}

// Read reads blocks from memory.
func (m *MemStorage) Read(lba uint64, blocks uint32, buf []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	offset := lba * uint64(m.blockSize)
	length := uint64(blocks) * uint64(m.blockSize)
	if offset+length > uint64(len(m.data)) {
		return io.EOF
	}
	if uint64(len(buf)) < length {
		return io.ErrShortBuffer
	}
	copy(buf, m.data[offset:offset+length])
	return nil
}

// Write writes blocks to memory.
func (m *MemStorage) Write(lba uint64, blocks uint32, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	offset := lba * uint64(m.blockSize)
	length := uint64(blocks) * uint64(m.blockSize)
	if offset+length > uint64(len(m.data)) {
		return io.EOF
	}
	if uint64(len(buf)) < length {
		return io.ErrShortBuffer
	}
	copy(m.data[offset:offset+length], buf)
	return nil
}

// IsWriteProtected returns the write-protect state.
func (m *MemStorage) IsWriteProtected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readOnly
}

// IsRemovable returns the removable-media state.
func (m *MemStorage) IsRemovable() bool {
	return m.removable
}

// IsPresent returns whether media is loaded.
func (m *MemStorage) IsPresent() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.present
}

// SetWriteProtected toggles the write-protect state.
func (m *MemStorage) SetWriteProtected(wp bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readOnly = wp
}

// SetRemovable marks the media as removable.
func (m *MemStorage) SetRemovable(removable bool) {
	m.removable = removable
}

// SetPresent loads or unloads the media.
func (m *MemStorage) SetPresent(present bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.present = present
}

// Bytes exposes the raw image for test setup and verification.
func (m *MemStorage) Bytes() []byte {
	return m.data
}

// SparseStorage is a block-map storage backend for emulating drives far
// larger than available memory; unwritten blocks read as zero.
type SparseStorage struct {
	mu         sync.RWMutex
	blocks     map[uint64][]byte
	blockSize  uint32
	blockCount uint64
	removable  bool
	readOnly   bool
}

// NewSparseStorage creates a sparse storage of blockCount blocks.
func NewSparseStorage(blockCount uint64, blockSize uint32) *SparseStorage {
	return &SparseStorage{
		blocks:     make(map[uint64][]byte),
		blockSize:  blockSize,
		blockCount: blockCount,
	}
}

// BlockSize returns the block size.
func (s *SparseStorage) BlockSize() uint32 {
	return s.blockSize
}

// BlockCount returns the number of blocks.
func (s *SparseStorage) BlockCount() uint64 {
	return s.blockCount
}

// Read reads blocks, zero-filling unwritten ones.
func (s *SparseStorage) Read(lba uint64, blocks uint32, buf []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if lba+uint64(blocks) > s.blockCount {
		return io.EOF
	}
	bs := uint64(s.blockSize)
	if uint64(len(buf)) < uint64(blocks)*bs {
		return io.ErrShortBuffer
	}
	for i := uint64(0); i < uint64(blocks); i++ {
		dst := buf[i*bs : (i+1)*bs]
		if src, ok := s.blocks[lba+i]; ok {
			copy(dst, src)
		} else {
			clear(dst)
		}
	}
	return nil
}

// Write writes blocks into the block map.
func (s *SparseStorage) Write(lba uint64, blocks uint32, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lba+uint64(blocks) > s.blockCount {
		return io.EOF
	}
	bs := uint64(s.blockSize)
	if uint64(len(buf)) < uint64(blocks)*bs {
		return io.ErrShortBuffer
	}
	for i := uint64(0); i < uint64(blocks); i++ {
		blk := make([]byte, bs)
		copy(blk, buf[i*bs:(i+1)*bs])
		s.blocks[lba+i] = blk
	}
	return nil
}

// IsWriteProtected returns the write-protect state.
func (s *SparseStorage) IsWriteProtected() bool {
	return s.readOnly
}

// IsRemovable returns the removable-media state.
func (s *SparseStorage) IsRemovable() bool {
	return s.removable
}

// IsPresent always reports loaded media.
func (s *SparseStorage) IsPresent() bool {
	return true
}

// SetRemovable marks the media as removable.
func (s *SparseStorage) SetRemovable(removable bool) {
	s.removable = removable
}
