package gousb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/ardnew/usbms/hal"
	"github.com/ardnew/usbms/pkg"
)

// DefaultPollInterval is how often the bus is re-enumerated to detect
// hotplug events.
const DefaultPollInterval = time.Second

// Service is a hal.HostService over libusb.
type Service struct {
	ctx  *gousb.Context
	poll time.Duration

	mu     sync.Mutex
	known  map[hal.InterfaceID]bool
	notify chan struct{}
	stop   chan struct{}
	closed bool
}

// NewService opens a libusb context and starts the hotplug poller.
// pollInterval <= 0 selects [DefaultPollInterval].
func NewService(pollInterval time.Duration) *Service {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	s := &Service{
		ctx:    gousb.NewContext(),
		poll:   pollInterval,
		known:  make(map[hal.InterfaceID]bool),
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	go s.poller()
	return s
}

// interface IDs encode bus, address, configuration, and interface
// number: "bus-addr.cfg.if".
func encodeID(desc *gousb.DeviceDesc, cfg, ifnum int) hal.InterfaceID {
	return hal.InterfaceID(fmt.Sprintf("%d-%d.%d.%d", desc.Bus, desc.Address, cfg, ifnum))
}

func decodeID(id hal.InterfaceID) (bus, addr, cfg, ifnum int, err error) {
	head, rest, ok := strings.Cut(string(id), "-")
	if !ok {
		return 0, 0, 0, 0, pkg.ErrInvalidParameter
	}
	parts := strings.Split(rest, ".")
	if len(parts) != 3 {
		return 0, 0, 0, 0, pkg.ErrInvalidParameter
	}
	if bus, err = strconv.Atoi(head); err != nil {
		return 0, 0, 0, 0, pkg.ErrInvalidParameter
	}
	if addr, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, 0, 0, pkg.ErrInvalidParameter
	}
	if cfg, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, 0, 0, pkg.ErrInvalidParameter
	}
	if ifnum, err = strconv.Atoi(parts[2]); err != nil {
		return 0, 0, 0, 0, pkg.ErrInvalidParameter
	}
	return bus, addr, cfg, ifnum, nil
}

// mscInterfaces visits every attached device descriptor and collects the
// IDs of Bulk-Only MSC interfaces.
func (s *Service) mscInterfaces() []hal.InterfaceID {
	var ids []hal.InterfaceID
	// The visitor never opens a device: returning false from the filter
	// only records the descriptor.
	devs, err := s.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		for cfgNum, cfg := range desc.Configs {
			for _, intf := range cfg.Interfaces {
				for _, alt := range intf.AltSettings {
					if alt.Class == gousb.Class(hal.ClassMassStorage) &&
						alt.SubClass == gousb.Class(hal.SubclassSCSI) &&
						alt.Protocol == gousb.Protocol(hal.ProtocolBulkOnly) {
						ids = append(ids, encodeID(desc, cfgNum, intf.Number))
					}
				}
			}
		}
		return false
	})
	for _, d := range devs {
		d.Close()
	}
	if err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "device enumeration failed", "error", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ListInterfaces implements hal.HostService.
func (s *Service) ListInterfaces(ctx context.Context) ([]hal.InterfaceID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, pkg.ErrNotRunning
	}
	return s.mscInterfaces(), nil
}

// Open implements hal.HostService.
func (s *Service) Open(ctx context.Context, id hal.InterfaceID) (hal.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bus, addr, cfgNum, ifnum, err := decodeID(id)
	if err != nil {
		return nil, err
	}

	devs, err := s.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == bus && desc.Address == addr
	})
	if err != nil && len(devs) == 0 {
		return nil, mapErr(err)
	}
	if len(devs) == 0 {
		return nil, pkg.ErrNoDevice
	}
	dev := devs[0]
	for _, extra := range devs[1:] {
		extra.Close()
	}

	if err := dev.SetAutoDetach(true); err != nil {
		pkg.LogDebug(pkg.ComponentHAL, "auto-detach unsupported", "error", err)
	}

	cfg, err := dev.Config(cfgNum)
	if err != nil {
		dev.Close()
		return nil, mapErr(err)
	}
	intf, err := cfg.Interface(ifnum, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		return nil, mapErr(err)
	}

	sess := &session{
		svc:  s,
		dev:  dev,
		cfg:  cfg,
		intf: intf,
		id:   id,
	}
	sess.fillInfo(ifnum)
	if err := sess.openEndpoints(); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

// Notify implements hal.HostService.
func (s *Service) Notify() <-chan struct{} {
	return s.notify
}

// Close implements hal.HostService.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	close(s.notify)
	return s.ctx.Close()
}

// poller re-enumerates the bus and signals the notification channel on
// membership changes.
func (s *Service) poller() {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		ids := s.mscInterfaces()
		current := make(map[hal.InterfaceID]bool, len(ids))
		for _, id := range ids {
			current[id] = true
		}

		s.mu.Lock()
		changed := len(current) != len(s.known)
		if !changed {
			for id := range current {
				if !s.known[id] {
					changed = true
					break
				}
			}
		}
		s.known = current
		closed := s.closed
		s.mu.Unlock()

		if changed && !closed {
			select {
			case s.notify <- struct{}{}:
			default:
			}
		}
	}
}

// mapErr converts gousb/libusb errors to the stack's sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var le gousb.Error
	if errors.As(err, &le) {
		switch le {
		case gousb.ErrorPipe:
			return fmt.Errorf("%w: %v", pkg.ErrStall, err)
		case gousb.ErrorTimeout:
			return fmt.Errorf("%w: %v", pkg.ErrTimeout, err)
		case gousb.ErrorNoDevice, gousb.ErrorNotFound:
			return fmt.Errorf("%w: %v", pkg.ErrNoDevice, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", pkg.ErrTimeout, err)
	}
	return err
}
