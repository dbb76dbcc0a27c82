package sim

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/srg/blestream/internal/device"
	"gopkg.in/yaml.v3"
)

// PeripheralConfig describes one simulated device.
type PeripheralConfig struct {
	Address      string          `yaml:"address" json:"address"`
	Name         string          `yaml:"name" json:"name"`
	RSSI         int             `yaml:"rssi" json:"rssi" default:"-60"`
	TxPower      *int            `yaml:"tx_power,omitempty" json:"tx_power,omitempty"`
	Connectable  *bool           `yaml:"connectable,omitempty" json:"connectable,omitempty"`
	Manufacturer string          `yaml:"manufacturer_data,omitempty" json:"manufacturer_data,omitempty"`
	Services     []ServiceConfig `yaml:"services" json:"services"`

	// ConnectError makes every connect attempt fail with this message.
	ConnectError string `yaml:"connect_error,omitempty" json:"connect_error,omitempty"`
}

// ServiceConfig describes a simulated GATT service.
type ServiceConfig struct {
	UUID            string                 `yaml:"uuid" json:"uuid"`
	Advertised      bool                   `yaml:"advertised" json:"advertised"`
	Characteristics []CharacteristicConfig `yaml:"characteristics" json:"characteristics"`
}

// CharacteristicConfig describes a simulated characteristic. Value and
// Notifications are hex strings.
type CharacteristicConfig struct {
	UUID          string   `yaml:"uuid" json:"uuid"`
	Properties    string   `yaml:"properties" json:"properties" default:"read"`
	Value         string   `yaml:"value,omitempty" json:"value,omitempty"`
	Notifications []string `yaml:"notifications,omitempty" json:"notifications,omitempty"`
	ReadError     string   `yaml:"read_error,omitempty" json:"read_error,omitempty"`
	WriteError    string   `yaml:"write_error,omitempty" json:"write_error,omitempty"`
}

// Options tunes the simulated radio timing.
type Options struct {
	Latency        time.Duration `yaml:"latency" json:"latency" default:"5ms"`
	NotifyInterval time.Duration `yaml:"notify_interval" json:"notify_interval" default:"100ms"`
	ScanInterval   time.Duration `yaml:"scan_interval" json:"scan_interval" default:"200ms"`
}

// ParsePeripherals decodes a YAML (or JSON) list of peripheral descriptions.
func ParsePeripherals(data []byte) ([]PeripheralConfig, error) {
	var cfg []PeripheralConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse simulated peripherals: %w", err)
	}
	return cfg, nil
}

// DefaultOptions returns Options with every default applied.
func DefaultOptions() Options {
	var o Options
	defaults.SetDefaults(&o)
	return o
}

type characteristic struct {
	id            device.CharacteristicID
	props         device.Properties
	value         []byte
	notifications [][]byte
	readErr       error
	writeErr      error
}

type service struct {
	uuid            device.UUID
	advertised      bool
	characteristics []*characteristic
}

func (cfg PeripheralConfig) build() (*peer, error) {
	defaults.SetDefaults(&cfg)
	if cfg.Address == "" {
		return nil, fmt.Errorf("simulated peripheral %q has no address", cfg.Name)
	}

	p := &peer{
		id:          device.IDFromAddress(cfg.Address),
		address:     cfg.Address,
		name:        cfg.Name,
		rssi:        cfg.RSSI,
		txPower:     cfg.TxPower,
		connectable: cfg.Connectable == nil || *cfg.Connectable,
		notifying:   map[device.CharacteristicID]func(){},
	}
	if cfg.ConnectError != "" {
		p.connectErr = fmt.Errorf("%s", cfg.ConnectError)
	}
	if cfg.Manufacturer != "" {
		data, err := decodeHex(cfg.Manufacturer)
		if err != nil {
			return nil, fmt.Errorf("peripheral %s manufacturer data: %w", cfg.Address, err)
		}
		p.manufacturer = data
	}

	for _, sc := range cfg.Services {
		svcUUID, err := device.ParseUUID(sc.UUID)
		if err != nil {
			return nil, fmt.Errorf("peripheral %s: %w", cfg.Address, err)
		}
		svc := &service{uuid: svcUUID, advertised: sc.Advertised}
		for _, cc := range sc.Characteristics {
			defaults.SetDefaults(&cc)
			c, err := cc.build(svcUUID)
			if err != nil {
				return nil, fmt.Errorf("peripheral %s service %s: %w", cfg.Address, svcUUID, err)
			}
			svc.characteristics = append(svc.characteristics, c)
		}
		p.services = append(p.services, svc)
	}
	return p, nil
}

func (cc CharacteristicConfig) build(svc device.UUID) (*characteristic, error) {
	u, err := device.ParseUUID(cc.UUID)
	if err != nil {
		return nil, err
	}
	props, err := device.ParseProperties(cc.Properties)
	if err != nil {
		return nil, fmt.Errorf("characteristic %s: %w", u, err)
	}
	c := &characteristic{
		id:    device.CharacteristicID{Service: svc, Characteristic: u},
		props: props,
	}
	if c.value, err = decodeHex(cc.Value); err != nil {
		return nil, fmt.Errorf("characteristic %s value: %w", u, err)
	}
	for _, n := range cc.Notifications {
		v, err := decodeHex(n)
		if err != nil {
			return nil, fmt.Errorf("characteristic %s notification: %w", u, err)
		}
		c.notifications = append(c.notifications, v)
	}
	if cc.ReadError != "" {
		c.readErr = fmt.Errorf("%s", cc.ReadError)
	}
	if cc.WriteError != "" {
		c.writeErr = fmt.Errorf("%s", cc.WriteError)
	}
	return c, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}
