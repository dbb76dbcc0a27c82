package testutils

import (
	"sync"

	"github.com/srg/blestream/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockAdapter is a testify mock of device.Adapter. Commands only record the
// call; tests publish the matching events themselves.
//
// Commands need no expectation; queries fall back to nil (Services) or
// device.IDFromAddress (Resolve) unless stubbed:
//
//	a := testutils.NewMockAdapter()
//	a.On("Services", id).Return([]device.ServiceInfo{{UUID: "180d"}})
type MockAdapter struct {
	mock.Mock

	mu       sync.Mutex
	delegate device.Delegate
}

// NewMockAdapter returns an empty mock.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{}
}

// Delegate returns the delegate installed through SetDelegate.
func (m *MockAdapter) Delegate() device.Delegate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delegate
}

func (m *MockAdapter) SetDelegate(d device.Delegate) {
	m.mu.Lock()
	m.delegate = d
	m.mu.Unlock()
}

func (m *MockAdapter) Resolve(address string) (device.ID, error) {
	if m.stubbed("Resolve") {
		args := m.Called(address)
		return args.Get(0).(device.ID), args.Error(1)
	}
	return device.IDFromAddress(address), nil
}

func (m *MockAdapter) Connect(id device.ID, opts *device.ConnectOptions) {
	m.record("Connect", id, opts)
}

func (m *MockAdapter) CancelConnection(id device.ID) {
	m.record("CancelConnection", id)
}

func (m *MockAdapter) Services(id device.ID) []device.ServiceInfo {
	if !m.stubbed("Services") {
		return nil
	}
	args := m.Called(id)
	if v, ok := args.Get(0).([]device.ServiceInfo); ok {
		return v
	}
	return nil
}

func (m *MockAdapter) DiscoverServices(id device.ID, uuids []device.UUID) {
	m.record("DiscoverServices", id, uuids)
}

func (m *MockAdapter) DiscoverCharacteristics(id device.ID, service device.UUID, uuids []device.UUID) {
	m.record("DiscoverCharacteristics", id, service, uuids)
}

func (m *MockAdapter) ReadValue(id device.ID, char device.CharacteristicID) {
	m.record("ReadValue", id, char)
}

func (m *MockAdapter) WriteValue(id device.ID, char device.CharacteristicID, data []byte, withResponse bool) {
	m.record("WriteValue", id, char, data, withResponse)
}

func (m *MockAdapter) SetNotify(id device.ID, char device.CharacteristicID, enabled bool) {
	m.record("SetNotify", id, char, enabled)
}

func (m *MockAdapter) ReadRSSI(id device.ID) {
	m.record("ReadRSSI", id)
}

func (m *MockAdapter) Close() error {
	return nil
}

// record registers the call with testify. Commands without an explicit
// expectation are accepted so AssertCalled and AssertNotCalled still work.
func (m *MockAdapter) record(method string, args ...interface{}) {
	if !m.stubbed(method) {
		m.On(method, anything(len(args))...).Return()
	}
	m.MethodCalled(method, args...)
}

func (m *MockAdapter) stubbed(method string) bool {
	for _, c := range m.ExpectedCalls {
		if c.Method == method {
			return true
		}
	}
	return false
}

func anything(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = mock.Anything
	}
	return args
}

// Compile-time check
var _ device.Adapter = (*MockAdapter)(nil)
