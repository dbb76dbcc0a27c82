// Package simsuite provides a testify suite running a Central over the
// simulated adapter.
package simsuite

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blestream/central"
	"github.com/srg/blestream/internal/device/sim"
	"github.com/srg/blestream/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// Suite starts a fresh simulated radio and Central before every test.
//
// Embedding suites configure the fleet before calling the parent SetupTest:
//
//	func (s *InspectSuite) SetupTest() {
//	    s.WithFleet().
//	        WithPeripheral("AA:BB:CC:DD:EE:01", "Pulse").
//	        WithService("180d", true).
//	        WithCharacteristic("2a37", "read,notify", "0048")
//
//	    s.Suite.SetupTest() // Call parent last to apply configuration
//	}
//
// Without configuration DefaultFleet is used.
type Suite struct {
	suite.Suite

	Logger      *logrus.Logger
	Options     sim.Options
	Peripherals []sim.PeripheralConfig
	Adapter     *sim.Adapter
	Central     *central.Central
	TestTimeout time.Duration

	fleet *testutils.FleetBuilder
}

// SetupSuite creates the logger.
func (s *Suite) SetupSuite() {
	s.Logger = logrus.New()
	s.Logger.SetLevel(logrus.DebugLevel)
	s.TestTimeout = 5 * time.Second
}

// SetupTest builds the configured fleet.
func (s *Suite) SetupTest() {
	if s.fleet == nil {
		s.fleet = testutils.DefaultFleet()
	}
	s.Peripherals = s.fleet.Build()

	s.Options = sim.DefaultOptions()
	s.Options.Latency = time.Millisecond
	s.Options.NotifyInterval = 5 * time.Millisecond
	s.Options.ScanInterval = 5 * time.Millisecond

	var err error
	s.Adapter, err = sim.New(s.Peripherals, s.Options, s.Logger)
	s.Require().NoError(err)
	s.Central = central.New(s.Adapter, s.Logger)
}

// TearDownTest closes the radio and resets the fleet.
func (s *Suite) TearDownTest() {
	if s.Central != nil {
		s.NoError(s.Central.Close())
	}
	s.fleet = nil
}

// WithFleet returns the fleet builder for this test.
func (s *Suite) WithFleet() *testutils.FleetBuilder {
	if s.fleet == nil {
		s.fleet = testutils.NewFleetBuilder()
	}
	return s.fleet
}
