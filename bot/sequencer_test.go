package bot_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbms/bot"
	"github.com/ardnew/usbms/hal/mem"
	"github.com/ardnew/usbms/pkg"
	"github.com/ardnew/usbms/scsi"
	"github.com/ardnew/usbms/transport"
)

// newSequencer builds a sequencer over an emulated single-LUN device.
func newSequencer(t *testing.T, st mem.Storage) (*bot.Sequencer, *mem.Device) {
	t.Helper()

	dev := mem.NewDevice(mem.DeviceConfig{
		VendorID:  0x1234,
		ProductID: 0x5678,
		Product:   "seqtest",
		LUNs: []mem.LUNConfig{{
			Storage: st,
			Vendor:  "Generic ",
			Product: "Mass Storage    ",
		}},
	})

	svc := mem.NewService()
	t.Cleanup(func() { svc.Close() })
	id := svc.Plug(dev)

	sess, err := svc.Open(context.Background(), id)
	require.NoError(t, err)

	pipe, err := transport.Open(sess, transport.Config{BufferSize: 64 * 1024})
	require.NoError(t, err)
	t.Cleanup(func() { pipe.Close() })

	return bot.NewSequencer(pipe), dev
}

func TestSequencerNoDataCommand(t *testing.T) {
	seq, _ := newSequencer(t, mem.NewMemStorage(1<<20, 512))

	res, err := seq.Do(context.Background(), &bot.Command{
		CDB: scsi.CDBTestUnitReady(),
	})
	require.NoError(t, err)
	require.True(t, res.Ok())
	require.Zero(t, res.Residue)
}

func TestSequencerDataIn(t *testing.T) {
	st := mem.NewMemStorage(1<<20, 512)
	copy(st.Bytes()[512:], []byte("sector one payload"))
	seq, _ := newSequencer(t, st)

	buf := make([]byte, 512)
	res, err := seq.Do(context.Background(), &bot.Command{
		CDB:  scsi.CDBRead10(1, 1, false),
		Data: buf,
		In:   true,
	})
	require.NoError(t, err)
	require.True(t, res.Ok())
	require.Equal(t, 512, res.Transferred)
	require.Equal(t, []byte("sector one payload"), buf[:18])
}

func TestSequencerDataOut(t *testing.T) {
	st := mem.NewMemStorage(1<<20, 512)
	seq, _ := newSequencer(t, st)

	payload := make([]byte, 1024)
	for i := range payload {
		payload[i] = byte(i)
	}

	res, err := seq.Do(context.Background(), &bot.Command{
		CDB:  scsi.CDBWrite10(4, 2, false),
		Data: payload,
	})
	require.NoError(t, err)
	require.True(t, res.Ok())
	require.Equal(t, payload, st.Bytes()[4*512:4*512+1024])
}

func TestSequencerChunkedDataPhase(t *testing.T) {
	// A payload larger than the scratch buffer must move through it in
	// several posts within a single command.
	st := mem.NewMemStorage(1<<20, 512)
	seq, dev := newSequencer(t, st)

	payload := make([]byte, 256*1024) // 4x the 64 KiB scratch
	for i := range payload {
		payload[i] = byte(i >> 8)
	}

	res, err := seq.Do(context.Background(), &bot.Command{
		CDB:  scsi.CDBWrite10(0, uint16(len(payload)/512), false),
		Data: payload,
	})
	require.NoError(t, err)
	require.True(t, res.Ok())
	require.Equal(t, 1, dev.CommandCount(scsi.OpWrite10))
	require.Equal(t, payload, st.Bytes()[:len(payload)])
}

func TestSequencerFailedStatus(t *testing.T) {
	st := mem.NewMemStorage(1<<20, 512)
	st.SetWriteProtected(true)
	seq, _ := newSequencer(t, st)

	res, err := seq.Do(context.Background(), &bot.Command{
		CDB:  scsi.CDBWrite10(0, 1, false),
		Data: make([]byte, 512),
	})
	require.NoError(t, err)
	require.Equal(t, uint8(bot.StatusFailed), res.Status)
}

func TestSequencerEarlyCSW(t *testing.T) {
	// A read beyond the medium fails before the data phase; the device
	// answers the IN post with the CSW itself.
	st := mem.NewMemStorage(1<<20, 512)
	seq, _ := newSequencer(t, st)

	buf := make([]byte, 512)
	res, err := seq.Do(context.Background(), &bot.Command{
		CDB:  scsi.CDBRead10(0xFFFFFF, 1, false),
		Data: buf,
		In:   true,
	})
	require.NoError(t, err)
	require.Equal(t, uint8(bot.StatusFailed), res.Status)
	require.Zero(t, res.Transferred)
}

func TestSequencerDataOutStallRecovery(t *testing.T) {
	st := mem.NewMemStorage(1<<20, 512)
	seq, dev := newSequencer(t, st)

	dev.StallNextDataOut()

	_, err := seq.Do(context.Background(), &bot.Command{
		CDB:  scsi.CDBWrite10(0, 1, false),
		Data: make([]byte, 512),
	})
	require.ErrorIs(t, err, pkg.ErrStall)
	require.Equal(t, 1, dev.Resets())

	// The transport recovered; the reissued command succeeds with a
	// fresh tag.
	res, err := seq.Do(context.Background(), &bot.Command{
		CDB:  scsi.CDBWrite10(0, 1, false),
		Data: make([]byte, 512),
	})
	require.NoError(t, err)
	require.True(t, res.Ok())
}

func TestSequencerMaxLUN(t *testing.T) {
	seq, _ := newSequencer(t, mem.NewMemStorage(1<<20, 512))

	n, err := seq.MaxLUN(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint8(1), n)
}

func TestSequencerMaxLUNStallDefaults(t *testing.T) {
	dev := mem.NewDevice(mem.DeviceConfig{
		StallGetMaxLUN: true,
		LUNs: []mem.LUNConfig{{
			Storage: mem.NewMemStorage(1<<20, 512),
		}},
	})
	svc := mem.NewService()
	defer svc.Close()
	id := svc.Plug(dev)

	sess, err := svc.Open(context.Background(), id)
	require.NoError(t, err)

	pipe, err := transport.Open(sess, transport.Config{BufferSize: 64 * 1024})
	require.NoError(t, err)
	defer pipe.Close()

	n, err := bot.NewSequencer(pipe).MaxLUN(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint8(1), n)
}

func TestSequencerRejectsBadCDB(t *testing.T) {
	seq, _ := newSequencer(t, mem.NewMemStorage(1<<20, 512))

	_, err := seq.Do(context.Background(), &bot.Command{})
	require.ErrorIs(t, err, pkg.ErrInvalidParameter)

	_, err = seq.Do(context.Background(), &bot.Command{CDB: make([]byte, 17)})
	require.ErrorIs(t, err, pkg.ErrInvalidParameter)
}
