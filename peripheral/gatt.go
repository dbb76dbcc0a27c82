package peripheral

import (
	"slices"
	"sync"
	"weak"

	"github.com/srg/blestream/internal/device"
)

// Service is a discovered GATT service. It refers back to its peripheral
// without keeping it alive.
type Service struct {
	uuid       device.UUID
	peripheral weak.Pointer[Peripheral]

	mu              sync.RWMutex
	characteristics []*Characteristic
}

// UUID returns the service UUID.
func (s *Service) UUID() device.UUID { return s.uuid }

// Peripheral returns the owning peripheral or ErrDeallocated.
func (s *Service) Peripheral() (*Peripheral, error) {
	return deref(s.peripheral)
}

// Characteristics returns the characteristics discovered so far, in
// discovery order.
func (s *Service) Characteristics() []*Characteristic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.characteristics)
}

// Characteristic returns the discovered characteristic with uuid, or nil.
func (s *Service) Characteristic(uuid device.UUID) *Characteristic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.characteristics {
		if c.uuid == uuid {
			return c
		}
	}
	return nil
}

// characteristic returns the cached characteristic for info, creating it on
// first sight. Properties are refreshed on rediscovery.
func (s *Service) characteristic(info device.CharacteristicInfo) *Characteristic {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.characteristics {
		if c.uuid == info.UUID {
			c.mu.Lock()
			c.properties = info.Properties
			c.mu.Unlock()
			return c
		}
	}
	c := &Characteristic{
		uuid:       info.UUID,
		service:    s.uuid,
		properties: info.Properties,
		peripheral: s.peripheral,
	}
	s.characteristics = append(s.characteristics, c)
	return c
}

// Characteristic is a discovered GATT characteristic together with the last
// value observed through a read or a notification.
type Characteristic struct {
	uuid       device.UUID
	service    device.UUID
	peripheral weak.Pointer[Peripheral]

	mu         sync.RWMutex
	properties device.Properties
	value      []byte
}

// UUID returns the characteristic UUID.
func (c *Characteristic) UUID() device.UUID { return c.uuid }

// ServiceUUID returns the UUID of the owning service.
func (c *Characteristic) ServiceUUID() device.UUID { return c.service }

// ID returns the service-qualified identity of the characteristic.
func (c *Characteristic) ID() device.CharacteristicID {
	return device.CharacteristicID{Service: c.service, Characteristic: c.uuid}
}

// Properties returns the declared property flags.
func (c *Characteristic) Properties() device.Properties {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.properties
}

// Value returns the last observed value; ok is false until the first read or
// notification arrives.
func (c *Characteristic) Value() (value []byte, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.value == nil {
		return nil, false
	}
	return slices.Clone(c.value), true
}

// Peripheral returns the owning peripheral or ErrDeallocated.
func (c *Characteristic) Peripheral() (*Peripheral, error) {
	return deref(c.peripheral)
}

func (c *Characteristic) setValue(v []byte) {
	c.mu.Lock()
	c.value = slices.Clone(v)
	c.mu.Unlock()
}

// Data is one value read from or notified by a characteristic.
type Data struct {
	Value          []byte
	Characteristic device.CharacteristicID
	peripheral     weak.Pointer[Peripheral]
}

// Peripheral returns the peripheral that produced the value or
// ErrDeallocated.
func (d *Data) Peripheral() (*Peripheral, error) {
	return deref(d.peripheral)
}

func deref(wp weak.Pointer[Peripheral]) (*Peripheral, error) {
	if p := wp.Value(); p != nil {
		return p, nil
	}
	return nil, device.ErrDeallocated
}
