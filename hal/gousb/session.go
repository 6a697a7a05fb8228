package gousb

import (
	"context"
	"sync"

	"github.com/google/gousb"

	"github.com/ardnew/usbms/hal"
	"github.com/ardnew/usbms/pkg"
)

// Standard control requests used for endpoint halt handling.
const (
	reqGetStatus    = 0x00
	reqClearFeature = 0x01

	featureEndpointHalt = 0x00

	reqTypeEndpointIn  = 0x82 // Device to host, standard, endpoint
	reqTypeEndpointOut = 0x02 // Host to device, standard, endpoint
)

// session is one claimed MSC interface over libusb.
type session struct {
	svc  *Service
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	id   hal.InterfaceID

	info hal.InterfaceInfo
	eps  []hal.EndpointDesc

	in  *gousb.InEndpoint
	out *gousb.OutEndpoint

	mu     sync.Mutex
	closed bool
}

func (s *session) fillInfo(ifnum int) {
	s.info = hal.InterfaceInfo{
		ID:        s.id,
		Number:    uint8(ifnum),
		VendorID:  uint16(s.dev.Desc.Vendor),
		ProductID: uint16(s.dev.Desc.Product),
	}
	// String descriptor fetches can fail on flaky hardware; the session
	// works without them.
	if v, err := s.dev.Manufacturer(); err == nil {
		s.info.Manufacturer = v
	}
	if v, err := s.dev.Product(); err == nil {
		s.info.Product = v
	}
	if v, err := s.dev.SerialNumber(); err == nil {
		s.info.Serial = v
	}
}

// openEndpoints resolves and opens the interface's bulk endpoint pair.
func (s *session) openEndpoints() error {
	for _, ep := range s.intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}

		addr := uint8(ep.Number)
		if ep.Direction == gousb.EndpointDirectionIn {
			addr |= 0x80
		}
		s.eps = append(s.eps, hal.EndpointDesc{
			Address:       addr,
			Attributes:    0x02,
			MaxPacketSize: uint16(ep.MaxPacketSize),
		})

		if ep.Direction == gousb.EndpointDirectionIn && s.in == nil {
			in, err := s.intf.InEndpoint(ep.Number)
			if err != nil {
				return mapErr(err)
			}
			s.in = in
		} else if ep.Direction == gousb.EndpointDirectionOut && s.out == nil {
			out, err := s.intf.OutEndpoint(ep.Number)
			if err != nil {
				return mapErr(err)
			}
			s.out = out
		}
	}

	if s.in == nil || s.out == nil {
		return pkg.ErrNoBulkEndpoints
	}
	return nil
}

// Info implements hal.Session.
func (s *session) Info() hal.InterfaceInfo {
	return s.info
}

// Endpoints implements hal.Session.
func (s *session) Endpoints() []hal.EndpointDesc {
	return s.eps
}

// Control implements hal.Session.
func (s *session) Control(ctx context.Context, reqType, req uint8, value, index uint16, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := s.dev.Control(reqType, req, value, index, data)
	return n, mapErr(err)
}

// BulkIn implements hal.Session.
func (s *session) BulkIn(ctx context.Context, endpoint uint8, buf []byte) (int, error) {
	if s.in == nil || endpoint != (uint8(s.in.Desc.Number)|0x80) {
		return 0, pkg.ErrInvalidParameter
	}
	n, err := s.in.ReadContext(ctx, buf)
	return n, mapErr(err)
}

// BulkOut implements hal.Session.
func (s *session) BulkOut(ctx context.Context, endpoint uint8, buf []byte) (int, error) {
	if s.out == nil || endpoint != uint8(s.out.Desc.Number) {
		return 0, pkg.ErrInvalidParameter
	}
	n, err := s.out.WriteContext(ctx, buf)
	return n, mapErr(err)
}

// Halted implements hal.Session via GET_STATUS on the endpoint.
func (s *session) Halted(ctx context.Context, endpoint uint8) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var status [2]byte
	_, err := s.dev.Control(reqTypeEndpointIn, reqGetStatus, 0, uint16(endpoint), status[:])
	if err != nil {
		return false, mapErr(err)
	}
	return status[0]&0x01 != 0, nil
}

// ClearHalt implements hal.Session via CLEAR_FEATURE(ENDPOINT_HALT).
func (s *session) ClearHalt(ctx context.Context, endpoint uint8) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.dev.Control(reqTypeEndpointOut, reqClearFeature, featureEndpointHalt, uint16(endpoint), nil)
	return mapErr(err)
}

// Close implements hal.Session.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.intf.Close()
	if err := s.cfg.Close(); err != nil {
		pkg.LogDebug(pkg.ComponentHAL, "config close failed", "error", err)
	}
	return s.dev.Close()
}
