package devicefactory

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/blestream/internal/device/sim"
	"github.com/srg/blestream/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAdapterSim(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backend = BackendSim
	cfg.Sim.Peripherals = []sim.PeripheralConfig{{Address: "AA:BB:CC:DD:EE:01"}}

	a, err := NewAdapter(cfg, logrus.New())
	require.NoError(t, err)
	defer a.Close()

	_, ok := a.(*sim.Adapter)
	assert.True(t, ok, "backend sim MUST create the simulated adapter")
}

func TestNewAdapterUnknownBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backend = "bluez"
	_, err := NewAdapter(cfg, logrus.New())
	assert.ErrorContains(t, err, `unknown backend "bluez"`)
}
