package inspector

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/srg/blestream/internal/bledb"
	"github.com/srg/blestream/internal/device"
	"github.com/srg/blestream/internal/stream"
	"github.com/srg/blestream/peripheral"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Profile is the discovered GATT layout of a device.
type Profile struct {
	ID       device.ID
	Name     string
	Services []ServiceProfile
}

// ServiceProfile is one discovered service.
type ServiceProfile struct {
	UUID            device.UUID
	Characteristics []CharacteristicProfile
}

// CharacteristicProfile is one discovered characteristic with the value
// read during inspection, if any.
type CharacteristicProfile struct {
	UUID       device.UUID
	Properties device.Properties
	Value      []byte
	Truncated  bool
	ReadError  string
}

// Discover walks the services of a connected peripheral. Characteristic
// discovery runs one service at a time: a new discovery would supersede the
// previous one.
func Discover(ctx context.Context, p *peripheral.Peripheral, opts *InspectOptions) (*Profile, error) {
	if opts == nil {
		opts = DefaultInspectOptions()
	}

	services, err := collect(ctx, opts, p.DiscoverServices(opts.Services))
	if err != nil {
		return nil, fmt.Errorf("service discovery failed: %w", err)
	}

	profile := &Profile{ID: p.ID(), Name: p.Name()}
	for _, svc := range services {
		chars, err := collect(ctx, opts, p.DiscoverCharacteristics(nil, svc))
		if err != nil {
			return nil, fmt.Errorf("characteristic discovery failed for service %s: %w", svc.UUID(), err)
		}

		sp := ServiceProfile{UUID: svc.UUID()}
		for _, c := range chars {
			sp.Characteristics = append(sp.Characteristics, read(ctx, p, c, opts))
		}
		profile.Services = append(profile.Services, sp)
	}
	return profile, nil
}

func read(ctx context.Context, p *peripheral.Peripheral, c *peripheral.Characteristic, opts *InspectOptions) CharacteristicProfile {
	cp := CharacteristicProfile{UUID: c.UUID(), Properties: c.Properties()}
	if opts.ReadLimit <= 0 || !c.Properties().Has(device.PropRead) {
		return cp
	}

	rctx, cancel := withTimeout(ctx, opts.OpTimeout)
	defer cancel()
	data, err := stream.First(rctx, p.ObserveValue(c).Subscribe())
	if err != nil {
		cp.ReadError = err.Error()
		return cp
	}

	cp.Value = data.Value
	if len(cp.Value) > opts.ReadLimit {
		cp.Value = cp.Value[:opts.ReadLimit]
		cp.Truncated = true
	}
	return cp
}

func collect[T any](ctx context.Context, opts *InspectOptions, s *stream.Stream[T]) ([]T, error) {
	cctx, cancel := withTimeout(ctx, opts.OpTimeout)
	defer cancel()
	return stream.Collect(cctx, s)
}

// MarshalJSON emits keys in a fixed, human friendly order.
func (p *Profile) MarshalJSON() ([]byte, error) {
	om := orderedmap.New[string, any]()
	om.Set("id", p.ID.String())
	om.Set("name", p.Name)

	services := make([]*orderedmap.OrderedMap[string, any], 0, len(p.Services))
	for _, s := range p.Services {
		so := orderedmap.New[string, any]()
		so.Set("uuid", s.UUID)
		if name := bledb.LookupService(string(s.UUID)); name != "" {
			so.Set("name", name)
		}

		chars := make([]*orderedmap.OrderedMap[string, any], 0, len(s.Characteristics))
		for _, c := range s.Characteristics {
			chars = append(chars, c.ordered())
		}
		so.Set("characteristics", chars)
		services = append(services, so)
	}
	om.Set("services", services)

	return json.Marshal(om)
}

func (c CharacteristicProfile) ordered() *orderedmap.OrderedMap[string, any] {
	co := orderedmap.New[string, any]()
	co.Set("uuid", c.UUID)
	if name := bledb.LookupCharacteristic(string(c.UUID)); name != "" {
		co.Set("name", name)
	}
	props := c.Properties.Names()
	if props == nil {
		props = []string{}
	}
	co.Set("properties", props)
	if c.Value != nil {
		co.Set("value", hex.EncodeToString(c.Value))
	}
	if c.Truncated {
		co.Set("truncated", true)
	}
	if c.ReadError != "" {
		co.Set("read_error", c.ReadError)
	}
	return co
}
