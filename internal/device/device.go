package device

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// addressNamespace seeds IDs derived from non-UUID platform addresses (MACs).
var addressNamespace = uuid.MustParse("6f1e1b8c-3f1a-4d5e-9a47-2b0c8e5d7f10")

// ID identifies one physical remote device. It is opaque and stable for the
// lifetime of the process.
type ID uuid.UUID

// NilID is the zero ID.
var NilID ID

// IDFromAddress derives the ID of a platform address. CoreBluetooth addresses
// are already UUIDs and are used as is; MAC addresses are hashed.
func IDFromAddress(address string) ID {
	a := strings.TrimSpace(address)
	if u, err := uuid.Parse(a); err == nil {
		return ID(u)
	}
	return ID(uuid.NewSHA1(addressNamespace, []byte(strings.ToLower(a))))
}

// ParseID parses the canonical string form of an ID.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NilID, fmt.Errorf("invalid device id %q: %w", s, err)
	}
	return ID(u), nil
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

// UUID is a normalized GATT attribute UUID (see NormalizeUUID).
type UUID string

// ParseUUID validates and normalizes a GATT UUID given in any common form.
func ParseUUID(s string) (UUID, error) {
	n := NormalizeUUID(s)
	switch len(n) {
	case 4, 8, 32:
	default:
		return "", fmt.Errorf("invalid UUID format: %q", s)
	}
	for _, r := range n {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return "", fmt.Errorf("invalid UUID format: %q", s)
		}
	}
	return UUID(n), nil
}

// MustParseUUID is like ParseUUID but panics on malformed input.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// ParseUUIDs parses each element of uuids.
func ParseUUIDs(uuids []string) ([]UUID, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	result := make([]UUID, 0, len(uuids))
	for _, s := range uuids {
		u, err := ParseUUID(s)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, nil
}

func (u UUID) String() string { return string(u) }

// Matches reports whether u is selected by the filter. An empty filter
// selects everything.
func (u UUID) Matches(filter []UUID) bool {
	return len(filter) == 0 || slices.Contains(filter, u)
}

// CharacteristicID is the identity of a characteristic: its own UUID qualified
// by the UUID of the service that owns it.
type CharacteristicID struct {
	Service        UUID
	Characteristic UUID
}

func (c CharacteristicID) String() string {
	return string(c.Service) + "/" + string(c.Characteristic)
}

// ServiceInfo describes a discovered service.
type ServiceInfo struct {
	UUID UUID
}

// CharacteristicInfo describes a discovered characteristic.
type CharacteristicInfo struct {
	UUID       UUID
	Properties Properties
}

// Advertisement is one advertising report seen while scanning.
type Advertisement struct {
	ID               ID
	Address          string
	LocalName        string
	RSSI             int
	TxPower          *int
	Connectable      bool
	Services         []UUID
	ManufacturerData []byte
}

// ConnectOptions tune how a backend dials a device.
type ConnectOptions struct {
	// ConnectTimeout bounds the platform dial. Zero means no timeout.
	ConnectTimeout time.Duration
}

// WriteType selects acknowledged or unacknowledged writes.
type WriteType int

const (
	WithResponse WriteType = iota
	WithoutResponse
)

func (w WriteType) String() string {
	if w == WithoutResponse {
		return "withoutResponse"
	}
	return "withResponse"
}

// Adapter is the command half of a hardware backend. Every command returns
// immediately; its outcome is reported later through the Delegate.
type Adapter interface {
	// SetDelegate installs the receiver of all completion callbacks.
	SetDelegate(d Delegate)

	// Resolve maps a platform address to the ID used by every other command.
	Resolve(address string) (ID, error)

	Connect(id ID, opts *ConnectOptions)
	CancelConnection(id ID)

	// Services returns the services already discovered on id, or nil.
	Services(id ID) []ServiceInfo

	DiscoverServices(id ID, uuids []UUID)
	DiscoverCharacteristics(id ID, service UUID, uuids []UUID)
	ReadValue(id ID, char CharacteristicID)
	WriteValue(id ID, char CharacteristicID, data []byte, withResponse bool)
	SetNotify(id ID, char CharacteristicID, enabled bool)
	ReadRSSI(id ID)

	Close() error
}

// Delegate receives every completion callback of an Adapter. Callbacks may
// arrive on any goroutine.
type Delegate interface {
	DidUpdateConnectionState(id ID, connected bool, err error)
	DidDiscoverServices(id ID, services []ServiceInfo, err error)
	DidDiscoverCharacteristics(id ID, service UUID, chars []CharacteristicInfo, err error)
	DidUpdateValue(id ID, char CharacteristicID, value []byte, err error)
	DidWriteValue(id ID, char CharacteristicID, err error)
	DidReadRSSI(id ID, rssi int, err error)
}

// Scanner reports advertisements until ctx is done.
type Scanner interface {
	Scan(ctx context.Context, handler func(Advertisement)) error
}
