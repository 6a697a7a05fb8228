package mem

import (
	"context"
	"testing"

	"github.com/ardnew/usbms/bot"
	"github.com/ardnew/usbms/pkg"
	"github.com/ardnew/usbms/scsi"
)

// wire drives the emulated device through raw session transfers.
type wire struct {
	t    *testing.T
	sess *session
	tag  uint32
}

func newWire(t *testing.T, cfg DeviceConfig) (*wire, *Device) {
	t.Helper()

	dev := NewDevice(cfg)
	svc := NewService()
	t.Cleanup(func() { svc.Close() })
	id := svc.Plug(dev)

	s, err := svc.Open(context.Background(), id)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return &wire{t: t, sess: s.(*session)}, dev
}

func (w *wire) command(lun uint8, cdb []byte, transferLen uint32, in bool) ([]byte, bot.CommandStatusWrapper) {
	w.t.Helper()
	ctx := context.Background()

	w.tag++
	cbw := bot.CommandBlockWrapper{
		Signature:          bot.CBWSignature,
		Tag:                w.tag,
		DataTransferLength: transferLen,
		LUN:                lun,
		CBLength:           uint8(len(cdb)),
	}
	if in {
		cbw.Flags = bot.CBWFlagDataIn
	}
	copy(cbw.CB[:], cdb)

	var raw [bot.CBWSize]byte
	cbw.MarshalTo(raw[:])
	if _, err := w.sess.BulkOut(ctx, epBulkOut, raw[:]); err != nil {
		w.t.Fatalf("CBW BulkOut() error = %v", err)
	}

	var data []byte
	if in && transferLen > 0 {
		buf := make([]byte, transferLen)
		n, err := w.sess.BulkIn(ctx, epBulkIn, buf)
		if err != nil {
			w.t.Fatalf("data BulkIn() error = %v", err)
		}
		data = buf[:n]
	}

	var cswBuf [bot.CSWSize]byte
	n, err := w.sess.BulkIn(ctx, epBulkIn, cswBuf[:])
	if err != nil || n != bot.CSWSize {
		w.t.Fatalf("CSW BulkIn() = %d, %v", n, err)
	}
	var csw bot.CommandStatusWrapper
	if !bot.ParseCSW(cswBuf[:], &csw) {
		w.t.Fatal("CSW did not parse")
	}
	if csw.Tag != w.tag {
		w.t.Fatalf("CSW tag = 0x%X, want 0x%X", csw.Tag, w.tag)
	}
	return data, csw
}

func singleLUN(st Storage) DeviceConfig {
	return DeviceConfig{
		LUNs: []LUNConfig{{
			Storage:  st,
			Vendor:   "Virtual ",
			Product:  "Disk            ",
			Revision: "0.1 ",
			Serial:   "VD0001",
		}},
	}
}

func TestWireInquiry(t *testing.T) {
	st := NewMemStorage(1<<20, 512)
	st.SetRemovable(true)
	w, _ := newWire(t, singleLUN(st))

	data, csw := w.command(0, scsi.CDBInquiry(36), 36, true)
	if csw.Status != bot.StatusGood {
		t.Fatalf("status = %d", csw.Status)
	}
	if len(data) != 36 {
		t.Fatalf("len(data) = %d, want 36", len(data))
	}
	if data[0]&0x1F != scsi.DeviceTypeDisk {
		t.Errorf("device type = %d", data[0]&0x1F)
	}
	if data[1]&scsi.InquiryRMB == 0 {
		t.Error("removable bit clear")
	}
	if got := string(data[8:16]); got != "Virtual " {
		t.Errorf("vendor = %q", got)
	}
}

func TestWireRequestSenseAfterFailure(t *testing.T) {
	st := NewMemStorage(1<<20, 512)
	st.SetRemovable(true)
	st.SetPresent(false)
	w, _ := newWire(t, singleLUN(st))

	_, csw := w.command(0, scsi.CDBTestUnitReady(), 0, false)
	if csw.Status != bot.StatusFailed {
		t.Fatalf("TUR status = %d, want failed", csw.Status)
	}

	data, csw := w.command(0, scsi.CDBRequestSense(18), 18, true)
	if csw.Status != bot.StatusGood {
		t.Fatalf("sense status = %d", csw.Status)
	}
	var sense scsi.Sense
	if !scsi.ParseSense(data, &sense) {
		t.Fatal("sense did not parse")
	}
	if sense.Key != scsi.SenseNotReady || sense.ASC != scsi.ASCMediumNotPresent {
		t.Errorf("sense = %+v", sense)
	}

	// Sense is cleared once fetched.
	data, csw = w.command(0, scsi.CDBRequestSense(18), 18, true)
	if csw.Status != bot.StatusGood {
		t.Fatalf("second sense status = %d", csw.Status)
	}
	scsi.ParseSense(data, &sense)
	if sense.Key != scsi.SenseNoSense {
		t.Errorf("sense not cleared: %+v", sense)
	}
}

func TestWireReadCapacityResidue(t *testing.T) {
	w, _ := newWire(t, singleLUN(NewMemStorage(1<<20, 512)))

	data, csw := w.command(0, scsi.CDBReadCapacity10(), 8, true)
	if csw.Status != bot.StatusGood || csw.DataResidue != 0 {
		t.Fatalf("csw = %+v", csw)
	}
	if len(data) != 8 {
		t.Fatalf("len(data) = %d", len(data))
	}
}

func TestWireInvalidLUN(t *testing.T) {
	w, _ := newWire(t, singleLUN(NewMemStorage(1<<20, 512)))

	_, csw := w.command(7, scsi.CDBTestUnitReady(), 0, false)
	if csw.Status != bot.StatusFailed {
		t.Errorf("status = %d, want failed", csw.Status)
	}
}

func TestWireBadCBWStallsEndpoints(t *testing.T) {
	w, dev := newWire(t, singleLUN(NewMemStorage(1<<20, 512)))
	ctx := context.Background()

	garbage := make([]byte, bot.CBWSize)
	if _, err := w.sess.BulkOut(ctx, epBulkOut, garbage); err == nil {
		t.Fatal("garbage CBW accepted")
	}
	if !dev.halted(epBulkOut) || !dev.halted(epBulkIn) {
		t.Error("endpoints not halted after bad CBW")
	}

	// Reset recovery restores the idle state.
	if _, err := w.sess.Control(ctx, 0x21, bot.RequestMassStorageReset, 0, 0, nil); err != nil {
		t.Fatalf("reset error = %v", err)
	}
	if err := w.sess.ClearHalt(ctx, epBulkIn); err != nil {
		t.Fatal(err)
	}
	if err := w.sess.ClearHalt(ctx, epBulkOut); err != nil {
		t.Fatal(err)
	}

	_, csw := w.command(0, scsi.CDBTestUnitReady(), 0, false)
	if csw.Status != bot.StatusGood {
		t.Errorf("post-recovery status = %d", csw.Status)
	}
}

func TestUnplugInvalidatesSession(t *testing.T) {
	dev := NewDevice(singleLUN(NewMemStorage(1<<20, 512)))
	svc := NewService()
	defer svc.Close()
	id := svc.Plug(dev)

	sess, err := svc.Open(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}

	svc.Unplug(id)

	var buf [bot.CSWSize]byte
	if _, err := sess.BulkIn(context.Background(), epBulkIn, buf[:]); err != pkg.ErrNoDevice {
		t.Errorf("BulkIn() error = %v, want %v", err, pkg.ErrNoDevice)
	}
}
