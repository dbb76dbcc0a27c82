package device

import (
	"fmt"

	"github.com/srg/blestream/internal/bledb"
)

// NormalizeUUID is re-exported from bledb for convenience.
// It converts a UUID string to the internal format (lowercase, no dashes).
// Also strips 0x prefix if present (e.g., "0x2902" -> "2902").
// For full 128-bit UUIDs in Bluetooth SIG base format (0000xxxx-0000-1000-8000-00805f9b34fb),
// extracts the 16-bit short form (xxxx).
func NormalizeUUID(uuid string) string {
	return bledb.NormalizeUUID(uuid)
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
// Returns the first eight characters for long UUIDs and short UUIDs by themselves.
func ShortenUUID(uuid UUID) string {
	if len(uuid) > 8 {
		return string(uuid[:8])
	}
	return string(uuid)
}

// KnownName returns the SIG name of a service or characteristic UUID, or "".
func KnownName(uuid UUID) string {
	if name := bledb.LookupService(string(uuid)); name != "" {
		return name
	}
	return bledb.LookupCharacteristic(string(uuid))
}

// DisplayName renders a UUID with its known name, if any.
func DisplayName(uuid UUID) string {
	if name := KnownName(uuid); name != "" {
		return fmt.Sprintf("%s (%s)", uuid, name)
	}
	return string(uuid)
}
