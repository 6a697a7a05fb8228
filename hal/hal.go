package hal

import "context"

// Mass Storage Class identification (interface descriptor class triple).
const (
	ClassMassStorage = 0x08 // Mass Storage Class
	SubclassSCSI     = 0x06 // SCSI Transparent Command Set
	ProtocolBulkOnly = 0x50 // Bulk-Only Transport
)

// InterfaceID is the host service's opaque identifier for one claimed
// USB interface. IDs are stable for the lifetime of an attachment and
// never reused while the interface remains present.
type InterfaceID string

// InterfaceInfo describes an MSC interface as reported by the host service.
type InterfaceInfo struct {
	ID           InterfaceID // Host-assigned interface identifier
	Number       uint8       // bInterfaceNumber within the active configuration
	VendorID     uint16      // USB idVendor
	ProductID    uint16      // USB idProduct
	Manufacturer string      // Manufacturer string descriptor
	Product      string      // Product string descriptor
	Serial       string      // Serial number string descriptor
}

// EndpointDesc describes an endpoint of a claimed interface.
type EndpointDesc struct {
	Address       uint8  // Endpoint address including direction bit
	Attributes    uint8  // Transfer type and sync/usage flags
	MaxPacketSize uint16 // Maximum packet size
}

// Number returns the endpoint number (0-15).
func (e *EndpointDesc) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *EndpointDesc) IsIn() bool {
	return e.Address&0x80 != 0
}

// IsBulk returns true if this is a bulk endpoint.
func (e *EndpointDesc) IsBulk() bool {
	return e.Attributes&0x03 == 0x02
}

// HostService is the consumed contract of the OS USB host-controller
// service. It reports active Mass Storage Class interfaces and opens
// transfer sessions on them.
//
// All methods are safe for concurrent use.
type HostService interface {
	// ListInterfaces returns the IDs of all currently attached MSC
	// Bulk-Only interfaces (class 8, subclass 6, protocol 0x50).
	ListInterfaces(ctx context.Context) ([]InterfaceID, error)

	// Open claims the interface and returns a transfer session.
	// Opening an interface that is no longer present fails with an
	// error matching [pkg.ErrNoDevice].
	Open(ctx context.Context, id InterfaceID) (Session, error)

	// Notify returns a channel signalled whenever the set of attached
	// MSC interfaces changes. Signals are edge-triggered and may be
	// coalesced; the channel is closed when the service shuts down.
	Notify() <-chan struct{}

	// Close releases the service handle. Open sessions are invalidated.
	Close() error
}

// Session is one claimed MSC interface. A session provides the transfer
// primitives the stack layers everything else on top of. The session does
// not retry or recover from failures; that policy belongs to the callers.
type Session interface {
	// Info returns the interface description captured at claim time.
	Info() InterfaceInfo

	// Endpoints returns the endpoint descriptors of the claimed
	// alternate setting.
	Endpoints() []EndpointDesc

	// Control performs a control transfer on endpoint zero and returns
	// the number of data-phase bytes moved. For IN requests data is
	// filled; for OUT requests data is sent.
	Control(ctx context.Context, reqType, req uint8, value, index uint16, data []byte) (int, error)

	// BulkIn reads from the given IN endpoint into buf, returning the
	// number of bytes received. A device STALL surfaces as an error
	// matching [pkg.ErrStall]; a deadline expiry as [pkg.ErrTimeout].
	BulkIn(ctx context.Context, endpoint uint8, buf []byte) (int, error)

	// BulkOut writes buf to the given OUT endpoint, returning the
	// number of bytes sent. Error mapping as for BulkIn.
	BulkOut(ctx context.Context, endpoint uint8, buf []byte) (int, error)

	// Halted reports whether the given endpoint is halted.
	Halted(ctx context.Context, endpoint uint8) (bool, error)

	// ClearHalt clears a halt (STALL) condition on the given endpoint.
	ClearHalt(ctx context.Context, endpoint uint8) error

	// Close releases the claimed interface and both endpoints. A bulk
	// transfer pending on another goroutine completes or times out
	// first; Close does not abort it.
	Close() error
}
