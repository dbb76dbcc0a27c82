package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/blestream/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const (
	pulseAddress  = "AA:BB:CC:DD:EE:01"
	scaleAddress  = "AA:BB:CC:DD:EE:02"
	lockedAddress = "AA:BB:CC:DD:EE:03"
)

// defaultCommandFleet is the simulated neighbourhood every command test runs in.
func defaultCommandFleet() *testutils.FleetBuilder {
	return testutils.NewFleetBuilder().FromJSON(`[
		{
			"address": %q,
			"name": "Pulse",
			"rssi": -45,
			"services": [
				{
					"uuid": "180D",
					"advertised": true,
					"characteristics": [
						{"uuid": "2A37", "properties": "read,notify", "value": "0048", "notifications": ["0041", "0042"]},
						{"uuid": "2A39", "properties": "write"}
					]
				},
				{
					"uuid": "180F",
					"characteristics": [
						{"uuid": "2A19", "properties": "read,notify", "value": "64"}
					]
				},
				{
					"uuid": "FFE0",
					"characteristics": [
						{"uuid": "FF01", "properties": "read,write,writewithoutresponse", "value": "6869"}
					]
				},
				{
					"uuid": "FFE1",
					"characteristics": [
						{"uuid": "FF01", "properties": "read", "value": "00"}
					]
				}
			]
		},
		{
			"address": %q,
			"name": "Scale",
			"rssi": -70,
			"services": [{"uuid": "181D", "advertised": true}]
		},
		{
			"address": %q,
			"name": "Locked",
			"rssi": -90,
			"connect_error": "peer rejected connection"
		}
	]`, pulseAddress, scaleAddress, lockedAddress)
}

// CommandTestSuite runs blestream commands against the sim backend through
// a generated config file.
type CommandTestSuite struct {
	suite.Suite

	ConfigPath string
	Stderr     *bytes.Buffer
	fleet      *testutils.FleetBuilder
}

// WithFleet replaces the default fleet for the next SetupTest.
func (s *CommandTestSuite) WithFleet(fleet *testutils.FleetBuilder) {
	s.fleet = fleet
}

func (s *CommandTestSuite) SetupSuite() {
	color.NoColor = true
}

func (s *CommandTestSuite) SetupTest() {
	if s.fleet == nil {
		s.fleet = defaultCommandFleet()
	}
	peripherals, err := json.Marshal(s.fleet.Build())
	s.Require().NoError(err)

	// JSON is valid YAML flow syntax
	cfg := fmt.Sprintf(`backend: sim
log_level: error
op_timeout: 2s
connect_timeout: 2s
scan_timeout: 100ms
sim:
  options:
    latency: 1ms
    notify_interval: 5ms
    scan_interval: 5ms
  peripherals: %s
`, peripherals)

	s.ConfigPath = filepath.Join(s.T().TempDir(), "blestream.yaml")
	s.Require().NoError(os.WriteFile(s.ConfigPath, []byte(cfg), 0o600))
	s.Stderr = new(bytes.Buffer)
}

func (s *CommandTestSuite) TearDownTest() {
	s.fleet = nil
}

// ExecuteCommand runs blestream with args and the suite config, returning
// stdout. Stderr is kept in s.Stderr.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	resetFlags(rootCmd)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	setContext(rootCmd, ctx)

	out := new(bytes.Buffer)
	s.Stderr.Reset()
	rootCmd.SetOut(out)
	rootCmd.SetErr(s.Stderr)
	rootCmd.SetArgs(append([]string{"--config", s.ConfigPath}, args...))
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

// resetFlags restores every flag of cmd and its children to its default so
// package-level flag variables do not leak between tests.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func setContext(cmd *cobra.Command, ctx context.Context) {
	cmd.SetContext(ctx)
	for _, c := range cmd.Commands() {
		setContext(c, ctx)
	}
}
