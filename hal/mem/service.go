package mem

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ardnew/usbms/hal"
	"github.com/ardnew/usbms/pkg"
)

// Service is an in-process host service over emulated devices.
type Service struct {
	mu      sync.Mutex
	devices map[hal.InterfaceID]*Device
	notify  chan struct{}
	closed  bool
	nextID  int
}

// NewService creates an empty emulated service.
func NewService() *Service {
	return &Service{
		devices: make(map[hal.InterfaceID]*Device),
		notify:  make(chan struct{}, 1),
	}
}

// Plug attaches an emulated device to the bus and signals the
// notification channel, exactly as the OS service would on hotplug.
func (s *Service) Plug(d *Device) hal.InterfaceID {
	s.mu.Lock()
	id := hal.InterfaceID(fmt.Sprintf("if%d", s.nextID))
	s.nextID++
	d.info = hal.InterfaceInfo{
		ID:           id,
		Number:       0,
		VendorID:     d.cfg.VendorID,
		ProductID:    d.cfg.ProductID,
		Manufacturer: d.cfg.Manufacturer,
		Product:      d.cfg.Product,
		Serial:       d.cfg.Serial,
	}
	s.devices[id] = d
	s.mu.Unlock()

	s.signal()
	return id
}

// Unplug detaches an emulated device. In-flight transfers on its
// sessions fail with [pkg.ErrNoDevice].
func (s *Service) Unplug(id hal.InterfaceID) {
	s.mu.Lock()
	d, ok := s.devices[id]
	delete(s.devices, id)
	s.mu.Unlock()

	if ok {
		d.markGone()
		s.signal()
	}
}

// ListInterfaces implements hal.HostService.
func (s *Service) ListInterfaces(ctx context.Context) ([]hal.InterfaceID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, pkg.ErrNotRunning
	}

	ids := make([]hal.InterfaceID, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Open implements hal.HostService.
func (s *Service) Open(ctx context.Context, id hal.InterfaceID) (hal.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, pkg.ErrNotRunning
	}
	d, ok := s.devices[id]
	if !ok {
		return nil, pkg.ErrNoDevice
	}
	return &session{dev: d}, nil
}

// Notify implements hal.HostService.
func (s *Service) Notify() <-chan struct{} {
	return s.notify
}

// Close implements hal.HostService.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.notify)
	for _, d := range s.devices {
		d.markGone()
	}
	return nil
}

func (s *Service) signal() {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
