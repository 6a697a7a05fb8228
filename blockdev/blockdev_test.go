package blockdev_test

import (
	"context"
	"io"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbms/blockdev"
	"github.com/ardnew/usbms/bot"
	"github.com/ardnew/usbms/hal/mem"
	"github.com/ardnew/usbms/part"
	"github.com/ardnew/usbms/pkg"
	"github.com/ardnew/usbms/scsi"
	"github.com/ardnew/usbms/transport"
)

func probedUnit(t *testing.T, st mem.Storage) *scsi.Unit {
	t.Helper()

	dev := mem.NewDevice(mem.DeviceConfig{
		LUNs: []mem.LUNConfig{{Storage: st, Vendor: "Generic ", Product: "Mass Storage    "}},
	})
	svc := mem.NewService()
	t.Cleanup(func() { svc.Close() })
	id := svc.Plug(dev)

	sess, err := svc.Open(context.Background(), id)
	require.NoError(t, err)
	pipe, err := transport.Open(sess, transport.Config{BufferSize: 64 * 1024})
	require.NoError(t, err)
	t.Cleanup(func() { pipe.Close() })

	var mu sync.Mutex
	u, err := scsi.Probe(context.Background(), bot.NewSequencer(pipe), &mu, 0)
	require.NoError(t, err)
	return u
}

func TestWindowTranslation(t *testing.T) {
	st := mem.NewMemStorage(1<<20, 512)
	u := probedUnit(t, st)

	win, err := blockdev.New(u, part.Entry{StartLBA: 0x100, Blocks: 0x200}, false)
	require.NoError(t, err)
	require.Equal(t, uint32(512), win.SectorSize())
	require.Equal(t, uint64(0x200), win.SectorCount())

	out := make([]byte, 512)
	for i := range out {
		out[i] = 0x5A
	}
	require.NoError(t, win.WriteSectors(context.Background(), 4, 1, out))

	// The write landed at partition start + 4 on the unit.
	require.Equal(t, out, st.Bytes()[(0x100+4)*512:(0x100+5)*512])

	in := make([]byte, 512)
	require.NoError(t, win.ReadSectors(context.Background(), 4, 1, in))
	require.Equal(t, out, in)
}

func TestWindowBounds(t *testing.T) {
	u := probedUnit(t, mem.NewMemStorage(1<<20, 512))

	_, err := blockdev.New(u, part.Entry{StartLBA: 0, Blocks: u.BlockCount + 1}, false)
	require.ErrorIs(t, err, pkg.ErrOutOfRange)

	win, err := blockdev.New(u, part.Entry{StartLBA: 0x100, Blocks: 0x100}, false)
	require.NoError(t, err)

	err = win.ReadSectors(context.Background(), 0x100, 1, make([]byte, 512))
	require.ErrorIs(t, err, pkg.ErrOutOfRange)
}

func TestWindowReadOnly(t *testing.T) {
	st := mem.NewMemStorage(1<<20, 512)
	st.SetWriteProtected(true)
	u := probedUnit(t, st)

	win, err := blockdev.New(u, part.Entry{StartLBA: 0, Blocks: 0x100}, false)
	require.NoError(t, err)
	require.True(t, win.ReadOnly())

	err = win.WriteSectors(context.Background(), 0, 1, make([]byte, 512))
	require.ErrorIs(t, err, syscall.EROFS)
}

func TestWindowForcedReadOnly(t *testing.T) {
	u := probedUnit(t, mem.NewMemStorage(1<<20, 512))

	win, err := blockdev.New(u, part.Entry{StartLBA: 0, Blocks: 0x100}, true)
	require.NoError(t, err)
	require.True(t, win.ReadOnly())
}

func TestReaderByteAccess(t *testing.T) {
	st := mem.NewMemStorage(1<<20, 512)
	copy(st.Bytes()[0x100*512+100:], []byte("hello, bytes"))
	u := probedUnit(t, st)

	win, err := blockdev.New(u, part.Entry{StartLBA: 0x100, Blocks: 0x100}, false)
	require.NoError(t, err)
	r := blockdev.NewReader(win)
	require.Equal(t, int64(0x100*512), r.Size())

	// Unaligned ReadAt within one sector.
	buf := make([]byte, 12)
	n, err := r.ReadAt(buf, 100)
	require.NoError(t, err)
	require.Equal(t, 12, n)
	require.Equal(t, "hello, bytes", string(buf))

	// Sequential read after seek.
	_, err = r.Seek(100, io.SeekStart)
	require.NoError(t, err)
	n, err = r.Read(buf[:5])
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:5]))

	// EOF at the end of the window.
	_, err = r.ReadAt(buf, r.Size())
	require.ErrorIs(t, err, io.EOF)
}
