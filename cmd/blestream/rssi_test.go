package main

import (
	"testing"

	"github.com/srg/blestream/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type RSSICommandTestSuite struct {
	CommandTestSuite
}

func (suite *RSSICommandTestSuite) TestRSSI() {
	out, err := suite.ExecuteCommand("rssi", pulseAddress, "--count", "2", "--interval", "1ms")
	suite.Require().NoError(err)
	testutils.NewTextAsserter(suite.T()).Assert(out, "-45 dBm\n-45 dBm")
}

func (suite *RSSICommandTestSuite) TestRSSIInvalidCount() {
	_, err := suite.ExecuteCommand("rssi", pulseAddress, "--count", "0")
	suite.ErrorContains(err, "--count must be at least 1")
}

func (suite *RSSICommandTestSuite) TestRSSIUnknownDevice() {
	_, err := suite.ExecuteCommand("rssi", "00:00:00:00:00:00")
	suite.Error(err, "an address the backend cannot resolve MUST fail")
}

func TestRSSICommandTestSuite(t *testing.T) {
	suite.Run(t, new(RSSICommandTestSuite))
}
