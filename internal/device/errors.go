package device

import (
	"errors"
	"fmt"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ErrorKind classifies failures surfaced by peripheral operations.
type ErrorKind string

const (
	KindDeallocated               ErrorKind = "deallocated"
	KindConnectionFailure         ErrorKind = "connection_failure"
	KindDisconnectionFailed       ErrorKind = "disconnection_failed"
	KindServicesFoundError        ErrorKind = "services_found_error"
	KindCharacteristicsFoundError ErrorKind = "characteristics_found_error"
	KindInvalidData               ErrorKind = "invalid_data"
	KindWriteFailed               ErrorKind = "write_failed"
	KindUnknown                   ErrorKind = "unknown"
)

// BLEError is the error type of every failed peripheral stream. Err holds the
// platform cause, if any.
type BLEError struct {
	Kind ErrorKind
	Err  error
}

// Error implements the error interface
func (e *BLEError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes the platform cause.
func (e *BLEError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare BLEError values by Kind
func (e *BLEError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*BLEError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrDeallocated          = &BLEError{Kind: KindDeallocated}
	ErrConnectionFailure    = &BLEError{Kind: KindConnectionFailure}
	ErrDisconnectionFailed  = &BLEError{Kind: KindDisconnectionFailed}
	ErrServicesFound        = &BLEError{Kind: KindServicesFoundError}
	ErrCharacteristicsFound = &BLEError{Kind: KindCharacteristicsFoundError}
	ErrInvalidData          = &BLEError{Kind: KindInvalidData}
	ErrWriteFailed          = &BLEError{Kind: KindWriteFailed}
	ErrUnknown              = &BLEError{Kind: KindUnknown}
)

// Platform errors reported by backends.
var (
	ErrNotConnected = errors.New("device not connected")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrUnsupported  = errors.New("unsupported")
	ErrUnknownPeer  = errors.New("unknown device")
)

func ConnectionFailure(cause error) error { return &BLEError{Kind: KindConnectionFailure, Err: cause} }

func DisconnectionFailed(cause error) error {
	return &BLEError{Kind: KindDisconnectionFailed, Err: cause}
}

func ServicesFoundError(cause error) error { return &BLEError{Kind: KindServicesFoundError, Err: cause} }

func CharacteristicsFoundError(cause error) error {
	return &BLEError{Kind: KindCharacteristicsFoundError, Err: cause}
}

func WriteFailed(cause error) error { return &BLEError{Kind: KindWriteFailed, Err: cause} }

// AsBLEError returns err unchanged if it already is a *BLEError and wraps it
// as KindUnknown otherwise. A nil err stays nil.
func AsBLEError(err error) error {
	if err == nil {
		return nil
	}
	var be *BLEError
	if errors.As(err, &be) {
		return err
	}
	return &BLEError{Kind: KindUnknown, Err: err}
}

// KindOf reports the ErrorKind of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var be *BLEError
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}
