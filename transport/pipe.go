package transport

import (
	"context"
	"time"

	"github.com/ardnew/usbms/hal"
	"github.com/ardnew/usbms/pkg"
)

// DefaultTimeout bounds a single bulk post.
const DefaultTimeout = 10 * time.Second

// Config adjusts pipe behavior.
type Config struct {
	// Timeout bounds each bulk post. Zero selects [DefaultTimeout].
	Timeout time.Duration

	// BufferSize sets the scratch buffer size. Zero selects
	// [pkg.MaxTransferSize]. Must be a multiple of 4096 and at most
	// [pkg.MaxTransferSize].
	BufferSize int
}

// Pipe couples a session's bulk endpoint pair with a DMA-aligned scratch
// buffer. All bulk traffic is staged through the scratch buffer so that
// alignment constraints never leak to callers.
type Pipe struct {
	sess    hal.Session
	in      hal.EndpointDesc
	out     hal.EndpointDesc
	buf     []byte
	timeout time.Duration
}

// Open resolves the session's bulk endpoint pair and allocates the
// scratch buffer. It fails with [pkg.ErrNoBulkEndpoints] if the interface
// lacks a bulk IN or bulk OUT endpoint.
func Open(sess hal.Session, cfg Config) (*Pipe, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = pkg.MaxTransferSize
	}
	if cfg.BufferSize%pkg.DMAAlign != 0 || cfg.BufferSize > pkg.MaxTransferSize {
		return nil, pkg.ErrInvalidParameter
	}

	p := &Pipe{
		sess:    sess,
		buf:     pkg.AlignedBuffer(cfg.BufferSize),
		timeout: cfg.Timeout,
	}

	var haveIn, haveOut bool
	for _, ep := range sess.Endpoints() {
		if !ep.IsBulk() {
			continue
		}
		if ep.IsIn() && !haveIn {
			p.in = ep
			haveIn = true
		} else if !ep.IsIn() && !haveOut {
			p.out = ep
			haveOut = true
		}
	}
	if !haveIn || !haveOut {
		return nil, pkg.ErrNoBulkEndpoints
	}

	pkg.LogDebug(pkg.ComponentTransport, "pipe opened",
		"in", p.in.Address,
		"out", p.out.Address,
		"buffer", len(p.buf))

	return p, nil
}

// Info returns the underlying interface description.
func (p *Pipe) Info() hal.InterfaceInfo {
	return p.sess.Info()
}

// Buffer returns the scratch buffer. The buffer is owned by whoever holds
// the device mutex; the pipe itself performs no locking.
func (p *Pipe) Buffer() []byte {
	return p.buf
}

// Timeout returns the per-post timeout.
func (p *Pipe) Timeout() time.Duration {
	return p.timeout
}

// PostIn receives up to n bytes from the bulk IN endpoint into the
// scratch buffer, returning the number of bytes received.
func (p *Pipe) PostIn(ctx context.Context, n int) (int, error) {
	if n <= 0 || n > len(p.buf) {
		return 0, pkg.ErrBufferTooLarge
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.sess.BulkIn(ctx, p.in.Address, p.buf[:n])
}

// PostOut sends the first n bytes of the scratch buffer to the bulk OUT
// endpoint, returning the number of bytes sent.
func (p *Pipe) PostOut(ctx context.Context, n int) (int, error) {
	if n <= 0 || n > len(p.buf) {
		return 0, pkg.ErrBufferTooLarge
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.sess.BulkOut(ctx, p.out.Address, p.buf[:n])
}

// Control performs a control transfer on endpoint zero.
func (p *Pipe) Control(ctx context.Context, reqType, req uint8, value, index uint16, data []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.sess.Control(ctx, reqType, req, value, index, data)
}

// Halted reports whether the bulk endpoint in the given direction is halted.
func (p *Pipe) Halted(ctx context.Context, in bool) (bool, error) {
	ep := p.out.Address
	if in {
		ep = p.in.Address
	}
	return p.sess.Halted(ctx, ep)
}

// ClearHalt clears a halt condition on the bulk endpoint in the given
// direction.
func (p *Pipe) ClearHalt(ctx context.Context, in bool) error {
	ep := p.out.Address
	if in {
		ep = p.in.Address
	}
	if err := p.sess.ClearHalt(ctx, ep); err != nil {
		return err
	}
	pkg.LogDebug(pkg.ComponentTransport, "halt cleared", "endpoint", ep)
	return nil
}

// ClearBothHalts clears halt conditions on both bulk endpoints. The first
// failure is returned, but both endpoints are attempted.
func (p *Pipe) ClearBothHalts(ctx context.Context) error {
	errIn := p.ClearHalt(ctx, true)
	errOut := p.ClearHalt(ctx, false)
	if errIn != nil {
		return errIn
	}
	return errOut
}

// Close releases the session.
func (p *Pipe) Close() error {
	return p.sess.Close()
}
