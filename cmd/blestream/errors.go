package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/blestream/central"
	"github.com/srg/blestream/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the connection dropped while a command was
	// still using it.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns err into a message for the terminal. Known stream
// failures get a hint; anything else is printed as is.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var nf *device.NotFoundError
	switch {
	case errors.As(err, &nf):
		return fmt.Sprintf("%s (run 'blestream inspect' to list what the device exposes)", err)
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out (is the device in range and advertising?)"
	case errors.Is(err, ErrConnectionLost):
		return "connection to the device was lost"
	case errors.Is(err, central.ErrScanUnsupported):
		return "the selected backend cannot scan"
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off"
	case errors.Is(err, device.ErrUnknownPeer):
		return fmt.Sprintf("%s (scan first, or check the address)", err)
	}

	switch device.KindOf(err) {
	case device.KindConnectionFailure:
		return fmt.Sprintf("could not connect: %s", cause(err))
	case device.KindDisconnectionFailed:
		return fmt.Sprintf("could not disconnect: %s", cause(err))
	case device.KindServicesFoundError:
		return fmt.Sprintf("service discovery failed: %s", cause(err))
	case device.KindCharacteristicsFoundError:
		return fmt.Sprintf("characteristic discovery failed: %s", cause(err))
	case device.KindWriteFailed:
		return fmt.Sprintf("write failed: %s", cause(err))
	case device.KindInvalidData:
		return "the device returned an empty value"
	case device.KindDeallocated:
		return "the device client was released before the operation finished"
	}
	return err.Error()
}

// cause returns the platform cause of a BLEError, or err itself.
func cause(err error) string {
	var be *device.BLEError
	if errors.As(err, &be) && be.Err != nil {
		return be.Err.Error()
	}
	return err.Error()
}
