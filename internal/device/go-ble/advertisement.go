package goble

import (
	"strings"
	"unicode"

	"github.com/go-ble/ble"
	"github.com/srg/blestream/internal/device"
)

// txPowerUnavailable is what go-ble reports when no TX power level was advertised.
const txPowerUnavailable = 127

// NewAdvertisement converts a go-ble advertising report.
func NewAdvertisement(adv ble.Advertisement) device.Advertisement {
	addr := adv.Addr().String()
	out := device.Advertisement{
		ID:               device.IDFromAddress(addr),
		Address:          addr,
		LocalName:        adv.LocalName(),
		RSSI:             adv.RSSI(),
		Connectable:      adv.Connectable(),
		ManufacturerData: adv.ManufacturerData(),
	}
	for _, u := range adv.Services() {
		out.Services = append(out.Services, fromBLEUUID(u))
	}
	if tx := adv.TxPowerLevel(); tx != txPowerUnavailable {
		out.TxPower = &tx
	}
	if out.LocalName == "" {
		out.LocalName = nameFromManufacturerData(out.ManufacturerData)
	}
	return out
}

func fromBLEUUID(u ble.UUID) device.UUID {
	return device.UUID(device.NormalizeUUID(u.String()))
}

func toBLEUUIDs(uuids []device.UUID) ([]ble.UUID, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	out := make([]ble.UUID, 0, len(uuids))
	for _, u := range uuids {
		parsed, err := ble.Parse(u.String())
		if err != nil {
			return nil, err
		}
		out = append(out, parsed)
	}
	return out, nil
}

// nameFromManufacturerData looks for an embedded printable name, which many
// devices put in manufacturer data when they omit the local name.
func nameFromManufacturerData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	for i := 0; i < len(data)-3; i++ {
		if !isReadableASCII(data[i]) {
			continue
		}
		var nameBytes []byte
		for j := i; j < len(data) && j < i+32; j++ {
			if !isReadableASCII(data[j]) {
				break
			}
			nameBytes = append(nameBytes, data[j])
		}
		if name := strings.TrimSpace(string(nameBytes)); isValidDeviceName(name) {
			return name
		}
	}
	return ""
}

func isReadableASCII(b byte) bool {
	return b >= 32 && b <= 126 && unicode.IsPrint(rune(b))
}

func isValidDeviceName(name string) bool {
	if len(name) < 3 || len(name) > 32 {
		return false
	}
	for _, r := range name {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
