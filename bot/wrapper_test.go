package bot

import (
	"bytes"
	"testing"
)

func TestCBWMarshalTo(t *testing.T) {
	cbw := CommandBlockWrapper{
		Signature:          CBWSignature,
		Tag:                0xDEADBEEF,
		DataTransferLength: 512,
		Flags:              CBWFlagDataIn,
		LUN:                2,
		CBLength:           10,
	}
	cbw.CB[0] = 0x28 // READ (10)
	cbw.CB[8] = 0x01

	var buf [CBWSize]byte
	if n := cbw.MarshalTo(buf[:]); n != CBWSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, CBWSize)
	}

	want := []byte{
		0x55, 0x53, 0x42, 0x43, // "USBC"
		0xEF, 0xBE, 0xAD, 0xDE, // tag, little-endian
		0x00, 0x02, 0x00, 0x00, // transfer length 512
		0x80,       // direction IN
		0x02,       // LUN
		0x0A,       // CB length
		0x28,       // opcode
		0, 0, 0, 0, // CDB remainder
		0, 0, 0, 0x01,
		0, 0, 0, 0,
		0, 0, 0,
	}
	if !bytes.Equal(buf[:], want) {
		t.Errorf("MarshalTo() =\n% X\nwant\n% X", buf[:], want)
	}
}

func TestCBWRoundTrip(t *testing.T) {
	in := CommandBlockWrapper{
		Signature:          CBWSignature,
		Tag:                0x12345678,
		DataTransferLength: 0x8000000,
		Flags:              CBWFlagDataOut,
		LUN:                15,
		CBLength:           16,
	}
	for i := range in.CB {
		in.CB[i] = byte(i)
	}

	var buf [CBWSize]byte
	in.MarshalTo(buf[:])

	var out CommandBlockWrapper
	if !ParseCBW(buf[:], &out) {
		t.Fatal("ParseCBW() = false")
	}
	if out != in {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestParseCBWRejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"short", make([]byte, CBWSize-1)},
		{"badSignature", make([]byte, CBWSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out CommandBlockWrapper
			if ParseCBW(tt.data, &out) {
				t.Error("ParseCBW() = true, want false")
			}
		})
	}
}

func TestParseCSW(t *testing.T) {
	data := []byte{
		0x55, 0x53, 0x42, 0x53, // "USBS"
		0x78, 0x56, 0x34, 0x12, // tag
		0x0D, 0x00, 0x00, 0x00, // residue 13
		0x01, // failed
	}

	var csw CommandStatusWrapper
	if !ParseCSW(data, &csw) {
		t.Fatal("ParseCSW() = false")
	}
	if csw.Tag != 0x12345678 {
		t.Errorf("Tag = 0x%08X, want 0x12345678", csw.Tag)
	}
	if csw.DataResidue != 13 {
		t.Errorf("DataResidue = %d, want 13", csw.DataResidue)
	}
	if csw.Status != StatusFailed {
		t.Errorf("Status = %d, want %d", csw.Status, StatusFailed)
	}
}

func TestCSWRoundTrip(t *testing.T) {
	in := CommandStatusWrapper{
		Signature:   CSWSignature,
		Tag:         0xCAFEF00D,
		DataResidue: 36,
		Status:      StatusPhaseError,
	}

	var buf [CSWSize]byte
	if n := in.MarshalTo(buf[:]); n != CSWSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, CSWSize)
	}

	var out CommandStatusWrapper
	if !ParseCSW(buf[:], &out) {
		t.Fatal("ParseCSW() = false")
	}
	if out != in {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestParseCSWRejects(t *testing.T) {
	var out CommandStatusWrapper
	if ParseCSW(make([]byte, CSWSize-1), &out) {
		t.Error("ParseCSW(short) = true, want false")
	}
	if ParseCSW(make([]byte, CSWSize), &out) {
		t.Error("ParseCSW(zero signature) = true, want false")
	}
}

func TestCBWDirection(t *testing.T) {
	in := CommandBlockWrapper{Flags: CBWFlagDataIn}
	if !in.IsDataIn() {
		t.Error("IsDataIn() = false for IN flags")
	}
	out := CommandBlockWrapper{Flags: CBWFlagDataOut}
	if out.IsDataIn() {
		t.Error("IsDataIn() = true for OUT flags")
	}
}
