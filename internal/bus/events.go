package bus

import "github.com/srg/blestream/internal/device"

// Kind names an event kind; there is one Topic per kind.
type Kind string

const (
	KindConnectionState           Kind = "connection_state"
	KindServicesDiscovered        Kind = "services_discovered"
	KindCharacteristicsDiscovered Kind = "characteristics_discovered"
	KindValueUpdated              Kind = "value_updated"
	KindWriteAcknowledged         Kind = "write_acknowledged"
	KindRSSIRead                  Kind = "rssi_read"
)

// Event is implemented by every bus event.
type Event interface {
	EventKind() Kind
	PeripheralID() device.ID
	Cause() error
}

// ConnectionStateEvent reports a connection change or a connection failure.
type ConnectionStateEvent struct {
	Peripheral device.ID
	Connected  bool
	Err        error
}

// ServicesDiscoveredEvent carries the outcome of service discovery. Services
// is nil when discovery produced no list.
type ServicesDiscoveredEvent struct {
	Peripheral device.ID
	Services   []device.ServiceInfo
	Err        error
}

// CharacteristicsDiscoveredEvent carries the outcome of characteristic
// discovery within one service.
type CharacteristicsDiscoveredEvent struct {
	Peripheral      device.ID
	Service         device.UUID
	Characteristics []device.CharacteristicInfo
	Err             error
}

// ValueUpdatedEvent carries a read response or a notification.
type ValueUpdatedEvent struct {
	Peripheral     device.ID
	Characteristic device.CharacteristicID
	Value          []byte
	Err            error
}

// WriteAcknowledgedEvent reports the completion of a write with response.
type WriteAcknowledgedEvent struct {
	Peripheral     device.ID
	Characteristic device.CharacteristicID
	Err            error
}

// RSSIReadEvent carries one RSSI reading.
type RSSIReadEvent struct {
	Peripheral device.ID
	RSSI       int
	Err        error
}

func (e ConnectionStateEvent) EventKind() Kind { return KindConnectionState }
func (e ConnectionStateEvent) PeripheralID() device.ID { return e.Peripheral }
func (e ConnectionStateEvent) Cause() error { return e.Err }

func (e ServicesDiscoveredEvent) EventKind() Kind { return KindServicesDiscovered }
func (e ServicesDiscoveredEvent) PeripheralID() device.ID { return e.Peripheral }
func (e ServicesDiscoveredEvent) Cause() error { return e.Err }

func (e CharacteristicsDiscoveredEvent) EventKind() Kind { return KindCharacteristicsDiscovered }
func (e CharacteristicsDiscoveredEvent) PeripheralID() device.ID { return e.Peripheral }
func (e CharacteristicsDiscoveredEvent) Cause() error { return e.Err }

func (e ValueUpdatedEvent) EventKind() Kind { return KindValueUpdated }
func (e ValueUpdatedEvent) PeripheralID() device.ID { return e.Peripheral }
func (e ValueUpdatedEvent) Cause() error { return e.Err }

func (e WriteAcknowledgedEvent) EventKind() Kind { return KindWriteAcknowledged }
func (e WriteAcknowledgedEvent) PeripheralID() device.ID { return e.Peripheral }
func (e WriteAcknowledgedEvent) Cause() error { return e.Err }

func (e RSSIReadEvent) EventKind() Kind { return KindRSSIRead }
func (e RSSIReadEvent) PeripheralID() device.ID { return e.Peripheral }
func (e RSSIReadEvent) Cause() error { return e.Err }
