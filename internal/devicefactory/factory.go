package devicefactory

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/blestream/internal/device"
	goble "github.com/srg/blestream/internal/device/go-ble"
	"github.com/srg/blestream/internal/device/sim"
	"github.com/srg/blestream/internal/device/tinygo"
	"github.com/srg/blestream/pkg/config"
)

// Backend names accepted by NewAdapter.
const (
	BackendGoBLE  = "goble"
	BackendTinyGo = "tinygo"
	BackendSim    = "sim"
)

// AdapterFactory creates the device.Adapter selected by cfg.
// This is a variable so that it can be overridden in tests.
var AdapterFactory = func(cfg *config.Config, logger *logrus.Logger) (device.Adapter, error) {
	switch cfg.Backend {
	case BackendGoBLE, "":
		return goble.New(logger), nil
	case BackendTinyGo:
		return tinygo.New(logger), nil
	case BackendSim:
		return sim.New(cfg.Sim.Peripherals, cfg.Sim.Options, logger)
	default:
		return nil, fmt.Errorf("unknown backend %q (want %s, %s or %s)", cfg.Backend, BackendGoBLE, BackendTinyGo, BackendSim)
	}
}

// NewAdapter creates the configured adapter.
func NewAdapter(cfg *config.Config, logger *logrus.Logger) (device.Adapter, error) {
	return AdapterFactory(cfg, logger)
}
