package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected UUID
		wantErr  bool
	}{
		{name: "16-bit UUID", input: "2902", expected: "2902"},
		{name: "16-bit UUID with 0X prefix uppercase", input: "0X2902", expected: "2902"},
		{name: "Full Bluetooth SIG UUID uppercase", input: "00002902-0000-1000-8000-00805F9B34FB", expected: "2902"},
		{name: "Full Bluetooth SIG UUID with odd dashes", input: "0000-2902-0000-1000-8000-00805f9b34fb", expected: "2902"},
		{name: "32-bit UUID", input: "0000fff0", expected: "0000fff0"},
		{name: "Custom 128-bit UUID", input: "6E400001-B5A3-F393-E0A9-E50E24DCCA9E", expected: "6e400001b5a3f393e0a9e50e24dcca9e"},
		{name: "empty", input: "", wantErr: true},
		{name: "wrong length", input: "12345", wantErr: true},
		{name: "non-hex", input: "zz0d", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUUID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestMustParseUUIDPanics(t *testing.T) {
	assert.Panics(t, func() { MustParseUUID("not-a-uuid") })
	assert.Equal(t, UUID("180d"), MustParseUUID("0x180D"))
}

func TestUUIDMatches(t *testing.T) {
	hr := MustParseUUID("180d")
	assert.True(t, hr.Matches(nil), "empty filter MUST select everything")
	assert.True(t, hr.Matches([]UUID{"180f", "180d"}))
	assert.False(t, hr.Matches([]UUID{"180f"}))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "180d (Heart Rate)", DisplayName("180d"))
	assert.Equal(t, "2a19 (Battery Level)", DisplayName("2a19"))
	assert.Equal(t, "ffff", DisplayName("ffff"))
	assert.Equal(t, "6e400001", ShortenUUID("6e400001b5a3f393e0a9e50e24dcca9e"))
}

func TestIDFromAddress(t *testing.T) {
	t.Run("CoreBluetooth UUID address is used verbatim", func(t *testing.T) {
		addr := "3C1B2A4D-5E6F-4A1B-9C2D-3E4F5A6B7C8D"
		assert.Equal(t, uuid.MustParse(addr), uuid.UUID(IDFromAddress(addr)))
	})

	t.Run("MAC address is stable and case-insensitive", func(t *testing.T) {
		a := IDFromAddress("AA:BB:CC:DD:EE:FF")
		b := IDFromAddress("aa:bb:cc:dd:ee:ff")
		assert.Equal(t, a, b, "same MAC MUST map to the same ID")
		assert.NotEqual(t, a, IDFromAddress("11:22:33:44:55:66"))
		assert.NotEqual(t, NilID, a)
	})

	t.Run("ParseID round trips String", func(t *testing.T) {
		id := IDFromAddress("AA:BB:CC:DD:EE:FF")
		parsed, err := ParseID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)

		_, err = ParseID("nope")
		assert.Error(t, err)
	})
}

func TestBLEErrorKinds(t *testing.T) {
	cause := errors.New("link lost")

	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     ErrorKind
	}{
		{"connection failure", ConnectionFailure(cause), ErrConnectionFailure, KindConnectionFailure},
		{"disconnection failed", DisconnectionFailed(cause), ErrDisconnectionFailed, KindDisconnectionFailed},
		{"services found", ServicesFoundError(cause), ErrServicesFound, KindServicesFoundError},
		{"characteristics found", CharacteristicsFoundError(nil), ErrCharacteristicsFound, KindCharacteristicsFoundError},
		{"write failed", WriteFailed(cause), ErrWriteFailed, KindWriteFailed},
		{"unknown by default", AsBLEError(cause), ErrUnknown, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel, "kind MUST match its sentinel")
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.NotErrorIs(t, tt.err, ErrDeallocated)
		})
	}

	t.Run("cause stays reachable", func(t *testing.T) {
		err := fmt.Errorf("op: %w", WriteFailed(cause))
		assert.ErrorIs(t, err, cause)
		assert.ErrorIs(t, err, ErrWriteFailed)
	})

	t.Run("AsBLEError keeps classified errors", func(t *testing.T) {
		err := ServicesFoundError(cause)
		assert.Same(t, err, AsBLEError(err))
		assert.NoError(t, AsBLEError(nil))
	})
}

func TestNotFoundError(t *testing.T) {
	assert.Equal(t, "service not found", (&NotFoundError{Resource: "service"}).Error())
	assert.Equal(t, `service "180d" not found`, (&NotFoundError{Resource: "service", UUIDs: []string{"180d"}}).Error())
	assert.Equal(t, `characteristic "2a37" not found in service "180d"`,
		(&NotFoundError{Resource: "characteristic", UUIDs: []string{"180d", "2a37"}}).Error())
}

func TestProperties(t *testing.T) {
	p, err := ParseProperties("read, Notify,writeWithoutResponse")
	require.NoError(t, err)
	assert.True(t, p.Has(PropRead|PropNotify))
	assert.False(t, p.Has(PropWrite))
	assert.True(t, p.CanSubscribe())
	assert.Equal(t, "Read,WriteWithoutResponse,Notify", p.String())
	assert.Equal(t, Properties(0x16), p, "bit values MUST match the GATT declaration")

	_, err = ParseProperties("read,teleport")
	assert.Error(t, err)

	empty, err := ParseProperties("")
	require.NoError(t, err)
	assert.False(t, empty.CanSubscribe())
	assert.Empty(t, empty.String())
}
