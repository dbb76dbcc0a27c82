package central

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blestream/internal/bus"
	"github.com/srg/blestream/internal/device"
	"github.com/srg/blestream/internal/device/sim"
	"github.com/srg/blestream/internal/stream"
	"github.com/srg/blestream/internal/testutils"
	"github.com/srg/blestream/peripheral"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

// CentralTestSuite covers the registry and the delegate-to-bus bridge with a mock adapter
type CentralTestSuite struct {
	suite.Suite

	adapter *testutils.MockAdapter
	central *Central
	id      device.ID
}

func (suite *CentralTestSuite) SetupTest() {
	suite.adapter = testutils.NewMockAdapter()
	suite.central = New(suite.adapter, logrus.New())
	suite.id = device.IDFromAddress("AA:AA:AA:AA:AA:01")
}

func (suite *CentralTestSuite) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	suite.T().Cleanup(cancel)
	return ctx
}

func (suite *CentralTestSuite) TestInstallsDelegate() {
	suite.Same(suite.central, suite.adapter.Delegate(), "the central MUST be the adapter delegate")
}

func (suite *CentralTestSuite) TestRegistryReturnsSameClient() {
	// GOAL: Verify one client per device ID while it is referenced
	//
	// TEST SCENARIO: Look up the same ID twice and by address → verify identical pointers
	a := suite.central.Peripheral(suite.id)
	b := suite.central.Peripheral(suite.id)
	suite.Same(a, b)

	c, err := suite.central.PeripheralByAddress("aa:aa:aa:aa:aa:01")
	suite.Require().NoError(err)
	suite.Same(a, c)
	suite.Len(suite.central.Peripherals(), 1)
}

func (suite *CentralTestSuite) TestRegistryDropsCollectedClients() {
	// GOAL: Verify the registry holds clients weakly
	//
	// TEST SCENARIO: Create a client, drop it, GC → verify it is pruned from the registry
	func() {
		_ = suite.central.Peripheral(device.IDFromAddress("AA:AA:AA:AA:AA:09"))
	}()
	for range 5 {
		runtime.GC()
	}
	suite.Empty(suite.central.Peripherals(), "collected clients MUST NOT be reported")
}

func (suite *CentralTestSuite) TestDelegatePublishesEvents() {
	// GOAL: Verify every delegate callback becomes a bus event
	//
	// TEST SCENARIO: Subscribe to each topic → call each callback → verify delivery
	b := suite.central.Bus()
	got := map[bus.Kind]int{}
	b.ConnectionState.Subscribe(nil, func(bus.ConnectionStateEvent) { got[bus.KindConnectionState]++ })
	b.ServicesDiscovered.Subscribe(nil, func(bus.ServicesDiscoveredEvent) { got[bus.KindServicesDiscovered]++ })
	b.CharacteristicsDiscovered.Subscribe(nil, func(bus.CharacteristicsDiscoveredEvent) { got[bus.KindCharacteristicsDiscovered]++ })
	b.ValueUpdated.Subscribe(nil, func(bus.ValueUpdatedEvent) { got[bus.KindValueUpdated]++ })
	b.WriteAcknowledged.Subscribe(nil, func(bus.WriteAcknowledgedEvent) { got[bus.KindWriteAcknowledged]++ })
	b.RSSIRead.Subscribe(nil, func(bus.RSSIReadEvent) { got[bus.KindRSSIRead]++ })

	cid := device.CharacteristicID{Service: "180d", Characteristic: "2a37"}
	suite.central.DidUpdateConnectionState(suite.id, true, nil)
	suite.central.DidDiscoverServices(suite.id, nil, nil)
	suite.central.DidDiscoverCharacteristics(suite.id, "180d", nil, nil)
	suite.central.DidUpdateValue(suite.id, cid, []byte{1}, nil)
	suite.central.DidWriteValue(suite.id, cid, nil)
	suite.central.DidReadRSSI(suite.id, -40, nil)

	for _, k := range []bus.Kind{
		bus.KindConnectionState, bus.KindServicesDiscovered, bus.KindCharacteristicsDiscovered,
		bus.KindValueUpdated, bus.KindWriteAcknowledged, bus.KindRSSIRead,
	} {
		suite.Equal(1, got[k], "topic %s MUST receive exactly one event", k)
	}
}

func (suite *CentralTestSuite) TestCancelConnection() {
	suite.Run("ResolvesOnDisconnect", func() {
		s := suite.central.CancelConnection(suite.id)
		suite.adapter.AssertCalled(suite.T(), "CancelConnection", suite.id)

		suite.central.DidUpdateConnectionState(device.IDFromAddress("AA:AA:AA:AA:AA:02"), false, nil)
		suite.False(s.Terminated(), "other peripherals MUST NOT resolve the cancel")

		suite.central.DidUpdateConnectionState(suite.id, false, nil)
		got, err := stream.First(suite.ctx(), s)
		suite.NoError(err)
		suite.True(got)
	})

	suite.Run("FailsOnError", func() {
		s := suite.central.CancelConnection(suite.id)
		suite.central.DidUpdateConnectionState(suite.id, true, context.DeadlineExceeded)
		_, err := stream.First(suite.ctx(), s)
		suite.ErrorIs(err, device.ErrDisconnectionFailed)
		suite.ErrorIs(err, context.DeadlineExceeded)
	})
}

func (suite *CentralTestSuite) TestPeripheralDisconnectUsesCentral() {
	p := suite.central.Peripheral(suite.id)
	s := p.Disconnect()
	suite.adapter.AssertCalled(suite.T(), "CancelConnection", suite.id)
	suite.central.DidUpdateConnectionState(suite.id, false, nil)
	got, err := stream.First(suite.ctx(), s)
	suite.NoError(err)
	suite.True(got)
}

func (suite *CentralTestSuite) TestConnectDefaultsOptions() {
	suite.central.Connect(suite.id, nil)
	suite.adapter.AssertCalled(suite.T(), "Connect", suite.id, mock.AnythingOfType("*device.ConnectOptions"))
}

func (suite *CentralTestSuite) TestScanUnsupported() {
	_, err := stream.First(suite.ctx(), suite.central.Scan(suite.ctx(), nil))
	suite.ErrorIs(err, ErrScanUnsupported)
}

func TestCentralTestSuite(t *testing.T) {
	suite.Run(t, new(CentralTestSuite))
}

const fleet = `
- address: "AA:BB:CC:DD:EE:01"
  name: "Pulse"
  rssi: -50
  services:
    - uuid: "180d"
      advertised: true
      characteristics:
        - uuid: "2a37"
          properties: "read,notify"
          value: "0048"
          notifications: ["0041"]
        - uuid: "2a39"
          properties: "write,writewithoutresponse"
- address: "AA:BB:CC:DD:EE:02"
  name: "Cell"
  rssi: -70
  services:
    - uuid: "180f"
      advertised: true
      characteristics:
        - uuid: "2a19"
          properties: "read"
          value: "64"
`

// SimulatedCentralTestSuite runs full peripheral flows against the simulated adapter
type SimulatedCentralTestSuite struct {
	suite.Suite

	adapter *sim.Adapter
	central *Central
}

func (suite *SimulatedCentralTestSuite) SetupTest() {
	cfg, err := sim.ParsePeripherals([]byte(fleet))
	suite.Require().NoError(err)
	opts := sim.DefaultOptions()
	opts.Latency = time.Millisecond
	opts.NotifyInterval = 5 * time.Millisecond
	opts.ScanInterval = 5 * time.Millisecond

	suite.adapter, err = sim.New(cfg, opts, logrus.New())
	suite.Require().NoError(err)
	suite.central = New(suite.adapter, logrus.New())
}

func (suite *SimulatedCentralTestSuite) TearDownTest() {
	suite.NoError(suite.central.Close())
}

func (suite *SimulatedCentralTestSuite) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	suite.T().Cleanup(cancel)
	return ctx
}

func (suite *SimulatedCentralTestSuite) connect(address string) *peripheral.Peripheral {
	p, err := suite.central.PeripheralByAddress(address)
	suite.Require().NoError(err)
	got, err := stream.First(suite.ctx(), p.Connect(nil))
	suite.Require().NoError(err)
	suite.Require().Same(p, got)
	return p
}

func (suite *SimulatedCentralTestSuite) TestReadFlow() {
	// GOAL: Verify connect, discovery and a deferred read work end to end
	//
	// TEST SCENARIO: Connect → discover 180d → discover characteristics → read 2a37 → verify value and cache
	p := suite.connect("AA:BB:CC:DD:EE:01")

	services, err := stream.Collect(suite.ctx(), p.DiscoverServices([]device.UUID{"180d"}))
	suite.Require().NoError(err)
	suite.Require().Len(services, 1)

	chars, err := stream.Collect(suite.ctx(), p.DiscoverCharacteristics(nil, services[0]))
	suite.Require().NoError(err)
	suite.Require().Len(chars, 2)

	data, err := stream.First(suite.ctx(), p.ObserveValue(chars[0]).Subscribe())
	suite.Require().NoError(err)
	suite.Equal([]byte{0x00, 0x48}, data.Value)

	cached, err := stream.Collect(suite.ctx(), p.DiscoverServices(nil))
	suite.NoError(err)
	suite.Len(cached, 1, "a second discovery MUST be served from the adapter cache")
}

func (suite *SimulatedCentralTestSuite) TestNotifyAndWrite() {
	p := suite.connect("AA:BB:CC:DD:EE:01")
	_, err := stream.Collect(suite.ctx(), p.DiscoverServices(nil))
	suite.Require().NoError(err)
	chars, err := stream.Collect(suite.ctx(), p.DiscoverCharacteristics(nil, p.Service("180d")))
	suite.Require().NoError(err)

	s := p.ObserveValueUpdateAndSetNotification(chars[0]).Subscribe()
	var values [][]byte
	for range 2 {
		select {
		case d := <-s.C():
			values = append(values, d.Value)
		case <-suite.ctx().Done():
			suite.FailNow("no notification received")
		}
	}
	s.Cancel()
	suite.Equal([][]byte{{0x00, 0x41}, {0x00, 0x41}}, values)

	ok, err := stream.First(suite.ctx(), p.WriteValue([]byte{1}, chars[1], device.WithResponse))
	suite.NoError(err)
	suite.True(ok, "the acknowledgement MUST name the written characteristic")

	ok, err = stream.First(suite.ctx(), p.WriteValue([]byte{2}, chars[1], device.WithoutResponse))
	suite.NoError(err)
	suite.True(ok)
}

func (suite *SimulatedCentralTestSuite) TestConnectUnknown() {
	p := suite.central.Peripheral(device.IDFromAddress("00:00:00:00:00:00"))
	_, err := stream.First(suite.ctx(), p.Connect(nil))
	suite.ErrorIs(err, device.ErrConnectionFailure)
	suite.ErrorIs(err, device.ErrUnknownPeer)
}

func (suite *SimulatedCentralTestSuite) TestDisconnect() {
	p := suite.connect("AA:BB:CC:DD:EE:02")
	ok, err := stream.First(suite.ctx(), p.Disconnect())
	suite.NoError(err)
	suite.True(ok)
	suite.False(p.IsConnected())
}

func (suite *SimulatedCentralTestSuite) TestScan() {
	// GOAL: Verify scanning yields registered clients and honours the service filter
	//
	// TEST SCENARIO: Scan for 180f → verify only "Cell" is reported and its client carries the name
	ctx, cancel := context.WithCancel(suite.ctx())
	defer cancel()

	s := suite.central.Scan(ctx, []device.UUID{"180f"})
	results := take(suite.ctx(), s, 2)
	s.Cancel()

	suite.Require().Len(results, 2)
	for _, r := range results {
		suite.Equal("Cell", r.Advertisement.LocalName)
		suite.Equal("Cell", r.Peripheral.Name())
		suite.Equal(-70, r.RSSI)
	}
	suite.Same(results[0].Peripheral, results[1].Peripheral)
}

func TestSimulatedCentralTestSuite(t *testing.T) {
	suite.Run(t, new(SimulatedCentralTestSuite))
}

func take[T any](ctx context.Context, s *stream.Stream[T], n int) []T {
	var out []T
	c := s.C()
	for len(out) < n {
		select {
		case v, ok := <-c:
			if !ok {
				return out
			}
			out = append(out, v)
		case <-ctx.Done():
			return out
		}
	}
	return out
}
