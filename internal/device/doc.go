// Package device defines the hardware boundary of the BLE client: identities,
// GATT descriptors (services, characteristics, properties), the Adapter
// command interface, its Delegate callback interface, and the error kinds
// surfaced by peripheral operations.
//
// Backends live in sub-packages:
//   - go-ble: github.com/go-ble/ble (CoreBluetooth on macOS)
//   - tinygo: tinygo.org/x/bluetooth
//   - sim: an in-memory simulator used by tests and the sim backend
package device
