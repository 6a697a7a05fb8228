package mem

import (
	"context"
	"sync"

	"github.com/ardnew/usbms/bot"
	"github.com/ardnew/usbms/hal"
	"github.com/ardnew/usbms/pkg"
	"github.com/ardnew/usbms/scsi"
)

// Emulated endpoint addresses.
const (
	epBulkIn  = 0x81
	epBulkOut = 0x02
)

// LUNConfig describes one logical unit of an emulated device.
type LUNConfig struct {
	Storage  Storage
	Vendor   string // 8-character inquiry vendor
	Product  string // 16-character inquiry product
	Revision string // 4-character inquiry revision
	Serial   string // Unit Serial Number VPD payload
	FUA      bool   // Advertise DPOFUA in the mode parameter header
}

// DeviceConfig describes an emulated device.
type DeviceConfig struct {
	VendorID     uint16
	ProductID    uint16
	Manufacturer string
	Product      string
	Serial       string

	// StallGetMaxLUN makes the device stall the Get Max LUN request,
	// as single-LUN sticks commonly do.
	StallGetMaxLUN bool

	LUNs []LUNConfig
}

type lunState struct {
	cfg       LUNConfig
	sense     scsi.Sense
	started   bool
	prevented bool
}

type devPhase int

const (
	phaseIdle devPhase = iota
	phaseDataOut
	phaseDataIn
	phaseStatus
)

// Device is one emulated Bulk-Only mass storage device. It implements
// the device side of the wire protocol; the Service hands out sessions
// over it.
type Device struct {
	mu   sync.Mutex
	info hal.InterfaceInfo
	cfg  DeviceConfig
	luns []*lunState

	// Bulk state machine.
	phase   devPhase
	cbw     bot.CommandBlockWrapper
	dataOut []byte // accumulated OUT payload
	dataIn  []byte // pending IN payload
	dataOff int
	csw     [bot.CSWSize]byte

	haltIn  bool
	haltOut bool
	gone    bool

	// Fault injection.
	stallNextOut     bool
	stallNextIn      bool
	stallNextDataOut bool

	// Bookkeeping for assertions.
	opCount map[uint8]int
	resets  int
}

// NewDevice creates an emulated device from the configuration.
func NewDevice(cfg DeviceConfig) *Device {
	d := &Device{
		cfg:     cfg,
		opCount: make(map[uint8]int),
	}
	for _, lc := range cfg.LUNs {
		d.luns = append(d.luns, &lunState{cfg: lc})
	}
	return d
}

// StallNextBulkOut makes the next bulk OUT transfer stall.
func (d *Device) StallNextBulkOut() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stallNextOut = true
}

// StallNextBulkIn makes the next bulk IN transfer stall.
func (d *Device) StallNextBulkIn() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stallNextIn = true
}

// StallNextDataOut makes the next data-phase OUT transfer stall; the
// preceding CBW is accepted normally.
func (d *Device) StallNextDataOut() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stallNextDataOut = true
}

// CommandCount returns how many commands with the given operation code
// the device has executed.
func (d *Device) CommandCount(op uint8) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opCount[op]
}

// Resets returns how many Bulk-Only Mass Storage Reset requests the
// device has received.
func (d *Device) Resets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

// markGone invalidates the device after unplug; further transfers fail.
func (d *Device) markGone() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gone = true
}

func (d *Device) control(reqType, req uint8, value, index uint16, data []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.gone {
		return 0, pkg.ErrNoDevice
	}

	switch req {
	case bot.RequestGetMaxLUN:
		if d.cfg.StallGetMaxLUN {
			return 0, pkg.ErrStall
		}
		if len(data) < 1 {
			return 0, pkg.ErrBufferTooSmall
		}
		data[0] = uint8(len(d.luns) - 1)
		return 1, nil

	case bot.RequestMassStorageReset:
		d.resets++
		d.phase = phaseIdle
		d.dataOut = nil
		d.dataIn = nil
		d.dataOff = 0
		return 0, nil

	default:
		return 0, pkg.ErrStall
	}
}

func (d *Device) bulkOut(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.gone {
		return 0, pkg.ErrNoDevice
	}
	if d.stallNextOut {
		d.stallNextOut = false
		d.haltOut = true
	}
	if d.stallNextDataOut && d.phase == phaseDataOut {
		d.stallNextDataOut = false
		d.haltOut = true
	}
	if d.haltOut {
		return 0, pkg.ErrStall
	}

	switch d.phase {
	case phaseIdle:
		var cbw bot.CommandBlockWrapper
		if len(buf) != bot.CBWSize || !bot.ParseCBW(buf, &cbw) {
			// An unrecognizable CBW halts both endpoints until reset.
			d.haltIn = true
			d.haltOut = true
			return 0, pkg.ErrStall
		}
		d.cbw = cbw

		if !cbw.IsDataIn() && cbw.DataTransferLength > 0 {
			d.phase = phaseDataOut
			d.dataOut = d.dataOut[:0]
			return len(buf), nil
		}

		d.execute(nil)
		return len(buf), nil

	case phaseDataOut:
		d.dataOut = append(d.dataOut, buf...)
		if uint32(len(d.dataOut)) >= d.cbw.DataTransferLength {
			d.execute(d.dataOut)
		}
		return len(buf), nil

	default:
		// Host lost phase sync; stall until it recovers.
		d.haltOut = true
		return 0, pkg.ErrStall
	}
}

func (d *Device) bulkIn(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.gone {
		return 0, pkg.ErrNoDevice
	}
	if d.stallNextIn {
		d.stallNextIn = false
		d.haltIn = true
	}
	if d.haltIn {
		return 0, pkg.ErrStall
	}

	switch d.phase {
	case phaseDataIn:
		n := copy(buf, d.dataIn[d.dataOff:])
		d.dataOff += n
		if d.dataOff >= len(d.dataIn) {
			d.phase = phaseStatus
		}
		return n, nil

	case phaseStatus:
		n := copy(buf, d.csw[:])
		if n == bot.CSWSize {
			d.phase = phaseIdle
		}
		return n, nil

	default:
		d.haltIn = true
		return 0, pkg.ErrStall
	}
}

func (d *Device) halted(endpoint uint8) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if endpoint == epBulkIn {
		return d.haltIn
	}
	return d.haltOut
}

func (d *Device) clearHalt(endpoint uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if endpoint == epBulkIn {
		d.haltIn = false
	} else {
		d.haltOut = false
	}
}

// execute runs the SCSI command in d.cbw with the given OUT payload and
// stages the IN payload and CSW. Called with d.mu held.
func (d *Device) execute(payload []byte) {
	d.opCount[d.cbw.CB[0]]++

	status, data := d.handleCommand(payload)

	residue := uint32(0)
	if d.cbw.IsDataIn() {
		if n := uint32(len(data)); n < d.cbw.DataTransferLength {
			residue = d.cbw.DataTransferLength - n
		}
		d.dataIn = data
		d.dataOff = 0
	} else {
		d.dataIn = nil
	}

	csw := bot.CommandStatusWrapper{
		Signature:   bot.CSWSignature,
		Tag:         d.cbw.Tag,
		DataResidue: residue,
		Status:      status,
	}
	csw.MarshalTo(d.csw[:])

	if d.cbw.IsDataIn() && len(d.dataIn) > 0 && status != bot.StatusPhaseError {
		d.phase = phaseDataIn
	} else {
		d.phase = phaseStatus
	}
}

// session is one claim of the emulated interface.
type session struct {
	dev    *Device
	closed bool
	mu     sync.Mutex
}

func (s *session) Info() hal.InterfaceInfo {
	return s.dev.info
}

func (s *session) Endpoints() []hal.EndpointDesc {
	return []hal.EndpointDesc{
		{Address: epBulkIn, Attributes: 0x02, MaxPacketSize: 512},
		{Address: epBulkOut, Attributes: 0x02, MaxPacketSize: 512},
	}
}

func (s *session) Control(ctx context.Context, reqType, req uint8, value, index uint16, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.dev.control(reqType, req, value, index, data)
}

func (s *session) BulkIn(ctx context.Context, endpoint uint8, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if endpoint != epBulkIn {
		return 0, pkg.ErrInvalidParameter
	}
	return s.dev.bulkIn(buf)
}

func (s *session) BulkOut(ctx context.Context, endpoint uint8, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if endpoint != epBulkOut {
		return 0, pkg.ErrInvalidParameter
	}
	return s.dev.bulkOut(buf)
}

func (s *session) Halted(ctx context.Context, endpoint uint8) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.dev.halted(endpoint), nil
}

func (s *session) ClearHalt(ctx context.Context, endpoint uint8) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.dev.clearHalt(endpoint)
	return nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
