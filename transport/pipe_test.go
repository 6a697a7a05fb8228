package transport_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbms/hal"
	"github.com/ardnew/usbms/hal/mem"
	"github.com/ardnew/usbms/pkg"
	"github.com/ardnew/usbms/transport"
)

func openSession(t *testing.T) hal.Session {
	t.Helper()

	dev := mem.NewDevice(mem.DeviceConfig{
		LUNs: []mem.LUNConfig{{Storage: mem.NewMemStorage(1<<20, 512)}},
	})
	svc := mem.NewService()
	t.Cleanup(func() { svc.Close() })
	id := svc.Plug(dev)

	sess, err := svc.Open(context.Background(), id)
	require.NoError(t, err)
	return sess
}

func TestOpenResolvesBulkPair(t *testing.T) {
	pipe, err := transport.Open(openSession(t), transport.Config{})
	require.NoError(t, err)
	defer pipe.Close()

	require.Equal(t, pkg.MaxTransferSize, len(pipe.Buffer()))
	require.True(t, pkg.IsAligned(pipe.Buffer()))
	require.Equal(t, transport.DefaultTimeout, pipe.Timeout())
}

func TestOpenRejectsOddBufferSize(t *testing.T) {
	_, err := transport.Open(openSession(t), transport.Config{BufferSize: 1000})
	require.ErrorIs(t, err, pkg.ErrInvalidParameter)
}

// noBulkSession wraps a session and hides its endpoints.
type noBulkSession struct {
	hal.Session
}

func (noBulkSession) Endpoints() []hal.EndpointDesc { return nil }

func TestOpenRequiresBulkEndpoints(t *testing.T) {
	_, err := transport.Open(noBulkSession{openSession(t)}, transport.Config{})
	require.ErrorIs(t, err, pkg.ErrNoBulkEndpoints)
}

func TestPostBounds(t *testing.T) {
	pipe, err := transport.Open(openSession(t), transport.Config{BufferSize: 4096})
	require.NoError(t, err)
	defer pipe.Close()

	_, err = pipe.PostIn(context.Background(), 8192)
	require.ErrorIs(t, err, pkg.ErrBufferTooLarge)
	_, err = pipe.PostOut(context.Background(), 0)
	require.ErrorIs(t, err, pkg.ErrBufferTooLarge)
}

func TestHaltedAndClear(t *testing.T) {
	sess := openSession(t)
	pipe, err := transport.Open(sess, transport.Config{BufferSize: 4096})
	require.NoError(t, err)
	defer pipe.Close()

	ctx := context.Background()
	halted, err := pipe.Halted(ctx, true)
	require.NoError(t, err)
	require.False(t, halted)

	// Posting garbage as a CBW halts both endpoints on the device.
	copy(pipe.Buffer(), make([]byte, 31))
	_, err = pipe.PostOut(ctx, 31)
	require.ErrorIs(t, err, pkg.ErrStall)

	halted, err = pipe.Halted(ctx, false)
	require.NoError(t, err)
	require.True(t, halted)

	require.NoError(t, pipe.ClearBothHalts(ctx))

	halted, err = pipe.Halted(ctx, false)
	require.NoError(t, err)
	require.False(t, halted)
}
