package scsi_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbms/bot"
	"github.com/ardnew/usbms/hal/mem"
	"github.com/ardnew/usbms/pkg"
	"github.com/ardnew/usbms/scsi"
	"github.com/ardnew/usbms/transport"
)

func plug(t *testing.T, cfg mem.DeviceConfig) (*bot.Sequencer, *mem.Device) {
	t.Helper()

	dev := mem.NewDevice(cfg)
	svc := mem.NewService()
	t.Cleanup(func() { svc.Close() })
	id := svc.Plug(dev)

	sess, err := svc.Open(context.Background(), id)
	require.NoError(t, err)

	pipe, err := transport.Open(sess, transport.Config{BufferSize: 1 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { pipe.Close() })

	return bot.NewSequencer(pipe), dev
}

func stickConfig(st mem.Storage) mem.DeviceConfig {
	return mem.DeviceConfig{
		VendorID:  0x0781,
		ProductID: 0x5581,
		LUNs: []mem.LUNConfig{{
			Storage:  st,
			Vendor:   "Generic ",
			Product:  "Mass Storage    ",
			Revision: "1.00",
			Serial:   "000000000001",
		}},
	}
}

func TestProbeHappyPath(t *testing.T) {
	st := mem.NewMemStorage(0x800*512, 512)
	st.SetRemovable(true)

	seq, _ := plug(t, stickConfig(st))

	var mu sync.Mutex
	u, err := scsi.Probe(context.Background(), seq, &mu, 0)
	require.NoError(t, err)

	require.Equal(t, "Generic", u.Vendor)
	require.Equal(t, "Mass Storage", u.Product)
	require.Equal(t, "000000000001", u.Serial)
	require.True(t, u.Removable)
	require.False(t, u.WriteProtect)
	require.False(t, u.FUA)
	require.False(t, u.LongLBA)
	require.Equal(t, uint64(0x800), u.BlockCount)
	require.Equal(t, uint32(512), u.BlockLength)
	require.Equal(t, uint64(0x800*512), u.Capacity())
}

func TestProbeMediumNotPresent(t *testing.T) {
	st := mem.NewMemStorage(1<<20, 512)
	st.SetRemovable(true)
	st.SetPresent(false)

	seq, _ := plug(t, stickConfig(st))

	var mu sync.Mutex
	_, err := scsi.Probe(context.Background(), seq, &mu, 0)
	require.ErrorIs(t, err, pkg.ErrMediumNotPresent)
}

func TestProbeWriteProtect(t *testing.T) {
	st := mem.NewMemStorage(1<<20, 512)
	st.SetWriteProtected(true)

	seq, dev := plug(t, stickConfig(st))

	var mu sync.Mutex
	u, err := scsi.Probe(context.Background(), seq, &mu, 0)
	require.NoError(t, err)
	require.True(t, u.WriteProtect)

	// Writes fail locally; no WRITE command reaches the device.
	err = u.WriteBlocks(context.Background(), 0, 1, make([]byte, 512))
	require.ErrorIs(t, err, pkg.ErrWriteProtected)
	require.Zero(t, dev.CommandCount(scsi.OpWrite10))
}

func TestProbeFUA(t *testing.T) {
	st := mem.NewMemStorage(1<<20, 512)
	cfg := stickConfig(st)
	cfg.LUNs[0].FUA = true

	seq, _ := plug(t, cfg)

	var mu sync.Mutex
	u, err := scsi.Probe(context.Background(), seq, &mu, 0)
	require.NoError(t, err)
	require.True(t, u.FUA)
}

func TestProbeLongLBA(t *testing.T) {
	// 0x1D1C0BEAF blocks of 512 bytes: READ CAPACITY (10) saturates and
	// the probe escalates to (16).
	st := mem.NewSparseStorage(0x1D1C0BEAF, 512)

	seq, _ := plug(t, stickConfig(st))

	var mu sync.Mutex
	u, err := scsi.Probe(context.Background(), seq, &mu, 0)
	require.NoError(t, err)
	require.True(t, u.LongLBA)
	require.Equal(t, uint64(0x1D1C0BEAF), u.BlockCount)
}

func TestReadWriteRoundTrip(t *testing.T) {
	st := mem.NewMemStorage(1<<20, 512)
	seq, _ := plug(t, stickConfig(st))

	var mu sync.Mutex
	u, err := scsi.Probe(context.Background(), seq, &mu, 0)
	require.NoError(t, err)

	out := make([]byte, 4*512)
	for i := range out {
		out[i] = byte(i * 7)
	}
	require.NoError(t, u.WriteBlocks(context.Background(), 16, 4, out))

	in := make([]byte, 4*512)
	require.NoError(t, u.ReadBlocks(context.Background(), 16, 4, in))
	require.Equal(t, out, in)
}

func TestLargeWriteSplitsPerCommandLimit(t *testing.T) {
	// Writing 131072 blocks at LBA 0x100000000 on a long-LBA unit
	// produces exactly two WRITE (16) commands of 0x10000 blocks each.
	st := mem.NewSparseStorage(0x1D1C0BEAF, 512)
	seq, dev := plug(t, stickConfig(st))

	var mu sync.Mutex
	u, err := scsi.Probe(context.Background(), seq, &mu, 0)
	require.NoError(t, err)

	buf := make([]byte, 131072*512)
	for i := 0; i < len(buf); i += 512 {
		buf[i] = byte(i >> 16)
	}
	require.NoError(t, u.WriteBlocks(context.Background(), 0x100000000, 131072, buf))
	require.Equal(t, 2, dev.CommandCount(scsi.OpWrite16))
	require.Zero(t, dev.CommandCount(scsi.OpWrite10))

	back := make([]byte, len(buf))
	require.NoError(t, u.ReadBlocks(context.Background(), 0x100000000, 131072, back))
	require.Equal(t, buf, back)
}

func TestWriteStallThenRecover(t *testing.T) {
	st := mem.NewMemStorage(1<<20, 512)
	seq, dev := plug(t, stickConfig(st))

	var mu sync.Mutex
	u, err := scsi.Probe(context.Background(), seq, &mu, 0)
	require.NoError(t, err)

	dev.StallNextDataOut()

	out := make([]byte, 512)
	for i := range out {
		out[i] = 0xA5
	}
	require.NoError(t, u.WriteBlocks(context.Background(), 8, 1, out))
	require.Equal(t, 1, dev.Resets())

	in := make([]byte, 512)
	require.NoError(t, u.ReadBlocks(context.Background(), 8, 1, in))
	require.Equal(t, out, in)
}

func TestReadOutOfRange(t *testing.T) {
	st := mem.NewMemStorage(1<<20, 512)
	seq, _ := plug(t, stickConfig(st))

	var mu sync.Mutex
	u, err := scsi.Probe(context.Background(), seq, &mu, 0)
	require.NoError(t, err)

	err = u.ReadBlocks(context.Background(), u.BlockCount, 1, make([]byte, 512))
	require.ErrorIs(t, err, pkg.ErrOutOfRange)
}

func TestSynchronizeCache(t *testing.T) {
	st := mem.NewMemStorage(1<<20, 512)
	seq, dev := plug(t, stickConfig(st))

	var mu sync.Mutex
	u, err := scsi.Probe(context.Background(), seq, &mu, 0)
	require.NoError(t, err)

	require.NoError(t, u.SynchronizeCache(context.Background()))
	require.Equal(t, 1, dev.CommandCount(scsi.OpSynchronizeCache10))
}
