package pkg

import "testing"

func TestAlignedBuffer(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"small", 16},
		{"sector", 512},
		{"page", 4096},
		{"odd", 12345},
		{"scratch", MaxTransferSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := AlignedBuffer(tt.size)
			if len(buf) != tt.size {
				t.Errorf("len = %d, want %d", len(buf), tt.size)
			}
			if cap(buf) != tt.size {
				t.Errorf("cap = %d, want %d", cap(buf), tt.size)
			}
			if !IsAligned(buf) {
				t.Errorf("buffer not aligned to 0x%X", DMAAlign)
			}
		})
	}
}

func TestAlignedBufferZero(t *testing.T) {
	if buf := AlignedBuffer(0); buf != nil {
		t.Errorf("AlignedBuffer(0) = %v, want nil", buf)
	}
	if buf := AlignedBuffer(-1); buf != nil {
		t.Errorf("AlignedBuffer(-1) = %v, want nil", buf)
	}
}

func TestIsAlignedEmpty(t *testing.T) {
	if IsAligned(nil) {
		t.Error("IsAligned(nil) = true, want false")
	}
}
