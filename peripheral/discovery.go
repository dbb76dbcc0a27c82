package peripheral

import (
	"weak"

	"github.com/sirupsen/logrus"
	"github.com/srg/blestream/internal/bus"
	"github.com/srg/blestream/internal/device"
	"github.com/srg/blestream/internal/stream"
)

// DiscoverServices yields the services of the peripheral and completes.
//
// When the adapter already holds services for the device they are returned
// as a completed stream without issuing a command. Otherwise the previous
// service discovery is cancelled and discovery for uuids (all when empty) is
// requested. A failed discovery, or one that produced no list, fails with
// ErrServicesFound.
func (p *Peripheral) DiscoverServices(uuids []device.UUID) *stream.Stream[*Service] {
	if cached := p.adapter.Services(p.id); len(cached) > 0 {
		services := make([]*Service, 0, len(cached))
		for _, info := range cached {
			services = append(services, p.service(info.UUID))
		}
		p.logger.WithFields(logrus.Fields{
			"peripheral": p.id,
			"services":   len(services),
		}).Debug("Services served from cache")
		return stream.FromSlice(p.opName(opDiscoverServices), services)
	}

	s, e := begin[*Service](p.ops, opDiscoverServices, p.opName(opDiscoverServices))
	wp := weak.Make(p)
	bind(s, p.bus.ServicesDiscovered.Subscribe(bus.ForPeripheral[bus.ServicesDiscoveredEvent](p.id), func(ev bus.ServicesDiscoveredEvent) {
		if ev.Err != nil || ev.Services == nil {
			e.Fail(device.ServicesFoundError(ev.Err))
			return
		}
		pp := wp.Value()
		if pp == nil {
			e.Fail(device.ErrDeallocated)
			return
		}
		for _, info := range ev.Services {
			e.Emit(pp.service(info.UUID))
		}
		e.Complete()
	}))

	p.logger.WithFields(logrus.Fields{
		"peripheral": p.id,
		"filter":     uuids,
	}).Debug("Discovering services...")
	p.adapter.DiscoverServices(p.id, uuids)
	return s
}

// DiscoverCharacteristics yields the characteristics of service and
// completes. It always asks the adapter, cancelling the previous
// characteristic discovery. A failed discovery, or one that produced no list,
// fails with ErrCharacteristicsFound. Results are cached on the Service.
func (p *Peripheral) DiscoverCharacteristics(uuids []device.UUID, service *Service) *stream.Stream[*Characteristic] {
	s, e := begin[*Characteristic](p.ops, opDiscoverCharacteristics, p.opName(opDiscoverCharacteristics))

	wp := weak.Make(p)
	bind(s, p.bus.CharacteristicsDiscovered.Subscribe(bus.ForPeripheral[bus.CharacteristicsDiscoveredEvent](p.id), func(ev bus.CharacteristicsDiscoveredEvent) {
		if ev.Err != nil || ev.Characteristics == nil {
			e.Fail(device.CharacteristicsFoundError(ev.Err))
			return
		}
		pp := wp.Value()
		if pp == nil {
			e.Fail(device.ErrDeallocated)
			return
		}
		owner := service
		if ev.Service != service.uuid {
			owner = pp.service(ev.Service)
		}
		for _, info := range ev.Characteristics {
			e.Emit(owner.characteristic(info))
		}
		e.Complete()
	}))

	p.logger.WithFields(logrus.Fields{
		"peripheral": p.id,
		"service":    service.uuid,
		"filter":     uuids,
	}).Debug("Discovering characteristics...")
	p.adapter.DiscoverCharacteristics(p.id, service.uuid, uuids)
	return s
}
