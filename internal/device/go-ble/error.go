package goble

import (
	"fmt"
	"strings"

	"github.com/srg/blestream/internal/device"
)

// go-ble reports most failures as plain strings. Fragments are lowercase and
// checked in order; the first hit wins.
var errorFragments = []struct {
	fragment string
	sentinel error
}{
	{"is bluetooth turned on", device.ErrBluetoothOff},
	{"bluetooth is turned off", device.ErrBluetoothOff},
	{"device not connected", device.ErrNotConnected},
	{"disconnected", device.ErrNotConnected},
	{"not supported", device.ErrUnsupported},
}

// NormalizeError wraps a go-ble error in the matching device sentinel, keeping
// its message. Unrecognized errors are returned as is.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, f := range errorFragments {
		if strings.Contains(msg, f.fragment) {
			return fmt.Errorf("%w: %v", f.sentinel, err)
		}
	}
	return err
}
