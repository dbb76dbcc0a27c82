package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/blestream/internal/device/sim"
)

// FleetBuilder describes the simulated peripherals a test runs against.
//
//	fleet := testutils.NewFleetBuilder().
//	    WithPeripheral("AA:BB:CC:DD:EE:01", "Pulse").
//	    WithService("180d", true).
//	    WithCharacteristic("2a37", "read,notify", "0048").
//	    Build()
type FleetBuilder struct {
	peripherals []sim.PeripheralConfig
}

// NewFleetBuilder creates an empty fleet.
func NewFleetBuilder() *FleetBuilder {
	return &FleetBuilder{}
}

// FromJSON appends the peripherals of a JSON array. The document is
// formatted with args first.
func (b *FleetBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *FleetBuilder {
	var cfg []sim.PeripheralConfig
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &cfg); err != nil {
		panic(fmt.Sprintf("FleetBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.peripherals = append(b.peripherals, cfg...)
	return b
}

// WithPeripheral starts a new peripheral. RSSI defaults to -60.
func (b *FleetBuilder) WithPeripheral(address, name string) *FleetBuilder {
	b.peripherals = append(b.peripherals, sim.PeripheralConfig{Address: address, Name: name, RSSI: -60})
	return b
}

// WithRSSI sets the RSSI of the last peripheral.
func (b *FleetBuilder) WithRSSI(rssi int) *FleetBuilder {
	b.last().RSSI = rssi
	return b
}

// WithConnectError makes connects to the last peripheral fail.
func (b *FleetBuilder) WithConnectError(msg string) *FleetBuilder {
	b.last().ConnectError = msg
	return b
}

// WithService adds a service to the last peripheral.
func (b *FleetBuilder) WithService(uuid string, advertised bool) *FleetBuilder {
	p := b.last()
	p.Services = append(p.Services, sim.ServiceConfig{UUID: uuid, Advertised: advertised})
	return b
}

// WithCharacteristic adds a characteristic to the last service. value is hex.
func (b *FleetBuilder) WithCharacteristic(uuid, properties, value string, notifications ...string) *FleetBuilder {
	p := b.last()
	if len(p.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	s := &p.Services[len(p.Services)-1]
	s.Characteristics = append(s.Characteristics, sim.CharacteristicConfig{
		UUID:          uuid,
		Properties:    properties,
		Value:         value,
		Notifications: notifications,
	})
	return b
}

// Build returns the peripheral configs.
func (b *FleetBuilder) Build() []sim.PeripheralConfig {
	return append([]sim.PeripheralConfig(nil), b.peripherals...)
}

func (b *FleetBuilder) last() *sim.PeripheralConfig {
	if len(b.peripherals) == 0 {
		panic("FleetBuilder: no peripheral added yet, call WithPeripheral first")
	}
	return &b.peripherals[len(b.peripherals)-1]
}

// DefaultFleet is one battery-powered peripheral at 50%.
func DefaultFleet() *FleetBuilder {
	return NewFleetBuilder().FromJSON(`[
		{
			"address": "AA:BB:CC:DD:EE:FF",
			"name": "Battery",
			"rssi": -55,
			"services": [
				{
					"uuid": "180F",
					"advertised": true,
					"characteristics": [
						{"uuid": "2A19", "properties": "read,notify", "value": "32", "notifications": ["31", "30"]}
					]
				}
			]
		}
	]`)
}
