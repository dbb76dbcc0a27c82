package goble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blestream/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

// fakeClient overrides the ble.Client calls the adapter makes; anything else panics.
type fakeClient struct {
	ble.Client

	mu           sync.Mutex
	disconnected chan struct{}
	services     []*ble.Service
	chars        []*ble.Characteristic
	value        []byte
	writes       [][]byte
	handler      ble.NotificationHandler
	rssi         int
}

func (c *fakeClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	if len(filter) == 0 {
		return c.services, nil
	}
	var out []*ble.Service
	for _, s := range c.services {
		if ble.Contains(filter, s.UUID) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *fakeClient) DiscoverCharacteristics(_ []ble.UUID, _ *ble.Service) ([]*ble.Characteristic, error) {
	return c.chars, nil
}

func (c *fakeClient) DiscoverDescriptors(_ []ble.UUID, _ *ble.Characteristic) ([]*ble.Descriptor, error) {
	return nil, nil
}

func (c *fakeClient) ReadCharacteristic(_ *ble.Characteristic) ([]byte, error) { return c.value, nil }

func (c *fakeClient) WriteCharacteristic(_ *ble.Characteristic, v []byte, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, v)
	return nil
}

func (c *fakeClient) Subscribe(_ *ble.Characteristic, _ bool, h ble.NotificationHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
	return nil
}

func (c *fakeClient) notify(data []byte) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	h(data)
}

func (c *fakeClient) ReadRSSI() int { return c.rssi }
func (c *fakeClient) ClearSubscriptions() error { return nil }
func (c *fakeClient) CancelConnection() error { return nil }
func (c *fakeClient) Disconnected() <-chan struct{} { return c.disconnected }
func (c *fakeClient) Unsubscribe(*ble.Characteristic, bool) error { return nil }

type fakeDevice struct {
	ble.Device
	client  *fakeClient
	dialErr error
}

func (d *fakeDevice) Dial(context.Context, ble.Addr) (ble.Client, error) {
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.client, nil
}

func (d *fakeDevice) Stop() error { return nil }

type event struct {
	method    string
	connected bool
	services  []device.ServiceInfo
	chars     []device.CharacteristicInfo
	value     []byte
	rssi      int
	err       error
}

type delegate struct{ ch chan event }

func (d *delegate) DidUpdateConnectionState(_ device.ID, connected bool, err error) {
	d.ch <- event{method: "state", connected: connected, err: err}
}
func (d *delegate) DidDiscoverServices(_ device.ID, s []device.ServiceInfo, err error) {
	d.ch <- event{method: "services", services: s, err: err}
}
func (d *delegate) DidDiscoverCharacteristics(_ device.ID, _ device.UUID, c []device.CharacteristicInfo, err error) {
	d.ch <- event{method: "characteristics", chars: c, err: err}
}
func (d *delegate) DidUpdateValue(_ device.ID, _ device.CharacteristicID, v []byte, err error) {
	d.ch <- event{method: "value", value: v, err: err}
}
func (d *delegate) DidWriteValue(_ device.ID, _ device.CharacteristicID, err error) {
	d.ch <- event{method: "write", err: err}
}
func (d *delegate) DidReadRSSI(_ device.ID, rssi int, err error) {
	d.ch <- event{method: "rssi", rssi: rssi, err: err}
}

// GoBLEAdapterTestSuite drives the adapter against a fake go-ble device
type GoBLEAdapterTestSuite struct {
	suite.Suite

	client   *fakeClient
	dev      *fakeDevice
	adapter  *Adapter
	delegate *delegate
	id       device.ID
	original func() (ble.Device, error)
}

func (suite *GoBLEAdapterTestSuite) SetupTest() {
	hrm := ble.NewCharacteristic(ble.UUID16(0x2a37))
	hrm.Property = ble.CharRead | ble.CharNotify
	suite.client = &fakeClient{
		disconnected: make(chan struct{}),
		services:     []*ble.Service{ble.NewService(ble.UUID16(0x180d))},
		chars:        []*ble.Characteristic{hrm},
		value:        []byte{0x00, 0x48},
		rssi:         -42,
	}
	suite.dev = &fakeDevice{client: suite.client}

	suite.original = DeviceFactory
	DeviceFactory = func() (ble.Device, error) { return suite.dev, nil }

	suite.adapter = New(logrus.New())
	suite.delegate = &delegate{ch: make(chan event, 16)}
	suite.adapter.SetDelegate(suite.delegate)

	var err error
	suite.id, err = suite.adapter.Resolve("AA:BB:CC:DD:EE:FF")
	suite.Require().NoError(err)
}

func (suite *GoBLEAdapterTestSuite) TearDownTest() {
	suite.NoError(suite.adapter.Close())
	DeviceFactory = suite.original
}

func (suite *GoBLEAdapterTestSuite) next() event {
	select {
	case ev := <-suite.delegate.ch:
		return ev
	case <-time.After(2 * time.Second):
		suite.FailNow("timed out waiting for a delegate callback")
		return event{}
	}
}

func (suite *GoBLEAdapterTestSuite) TestConnectUnknownAddress() {
	suite.adapter.Connect(device.IDFromAddress("00:00:00:00:00:01"), nil)
	ev := suite.next()
	suite.ErrorIs(ev.err, device.ErrUnknownPeer, "IDs never resolved MUST NOT be dialed")
}

func (suite *GoBLEAdapterTestSuite) TestConnectDialFailure() {
	suite.dev.dialErr = errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")
	suite.adapter.Connect(suite.id, nil)
	ev := suite.next()
	suite.False(ev.connected)
	suite.ErrorIs(ev.err, device.ErrBluetoothOff)
}

func (suite *GoBLEAdapterTestSuite) TestGATTFlow() {
	// GOAL: Verify every command reports through the delegate in order
	//
	// TEST SCENARIO: Connect → services → characteristics → read → write → notify → RSSI → remote disconnect
	cid := device.CharacteristicID{Service: "180d", Characteristic: "2a37"}

	suite.adapter.Connect(suite.id, &device.ConnectOptions{ConnectTimeout: time.Second})
	suite.True(suite.next().connected)

	suite.adapter.DiscoverServices(suite.id, []device.UUID{"180d"})
	ev := suite.next()
	suite.Require().NoError(ev.err)
	suite.Equal([]device.ServiceInfo{{UUID: "180d"}}, ev.services)
	suite.Equal(ev.services, suite.adapter.Services(suite.id))

	suite.adapter.DiscoverCharacteristics(suite.id, "180d", nil)
	ev = suite.next()
	suite.Require().NoError(ev.err)
	suite.Equal([]device.CharacteristicInfo{{UUID: "2a37", Properties: device.PropRead | device.PropNotify}}, ev.chars)

	suite.adapter.ReadValue(suite.id, cid)
	ev = suite.next()
	suite.Equal([]byte{0x00, 0x48}, ev.value)

	suite.adapter.WriteValue(suite.id, cid, []byte{1}, true)
	suite.Equal("write", suite.next().method)

	suite.adapter.SetNotify(suite.id, cid, true)
	suite.adapter.ReadRSSI(suite.id)
	ev = suite.next()
	suite.Equal(-42, ev.rssi, "SetNotify MUST NOT report anything on success")

	suite.client.notify([]byte{0x00, 0x50})
	suite.Equal([]byte{0x00, 0x50}, suite.next().value)

	close(suite.client.disconnected)
	ev = suite.next()
	suite.Equal("state", ev.method)
	suite.False(ev.connected)

	suite.adapter.ReadRSSI(suite.id)
	suite.ErrorIs(suite.next().err, device.ErrNotConnected)
}

func (suite *GoBLEAdapterTestSuite) TestUnknownCharacteristic() {
	suite.adapter.Connect(suite.id, nil)
	suite.True(suite.next().connected)

	suite.adapter.ReadValue(suite.id, device.CharacteristicID{Service: "180d", Characteristic: "2a38"})
	var nf *device.NotFoundError
	suite.ErrorAs(suite.next().err, &nf)
}

func TestGoBLEAdapterTestSuite(t *testing.T) {
	suite.Run(t, new(GoBLEAdapterTestSuite))
}

func TestNewProperties(t *testing.T) {
	p := NewProperties(ble.CharRead | ble.CharWriteNR | ble.CharIndicate)
	assert.Equal(t, device.PropRead|device.PropWriteWithoutResponse|device.PropIndicate, p)
	assert.Zero(t, NewProperties(0))
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"bluetooth off", errors.New("Bluetooth is turned off"), device.ErrBluetoothOff},
		{"powered off manager", errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), device.ErrBluetoothOff},
		{"not connected", errors.New("device not connected"), device.ErrNotConnected},
		{"disconnected", errors.New("peer disconnected"), device.ErrNotConnected},
		{"unsupported", errors.New("operation not supported"), device.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NormalizeError(tt.in)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), tt.in.Error(), "the original message MUST be kept")
		})
	}

	assert.NoError(t, NormalizeError(nil))
	other := errors.New("boom")
	assert.Same(t, other, NormalizeError(other))
}

func TestNameFromManufacturerData(t *testing.T) {
	assert.Equal(t, "Pulse-01", nameFromManufacturerData(append([]byte{0x4c, 0x00, 0x02}, []byte("Pulse-01")...)))
	assert.Empty(t, nameFromManufacturerData([]byte{0x4c, 0x00, 0x02, 0x15}))
	assert.Empty(t, nameFromManufacturerData([]byte("1234")), "names MUST contain a letter")
}
