package main

import (
	"strings"
	"testing"

	"github.com/srg/blestream/internal/device"
	"github.com/srg/blestream/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type ReadCommandTestSuite struct {
	CommandTestSuite
}

func (suite *ReadCommandTestSuite) TestReadSingle() {
	out, err := suite.ExecuteCommand("read", pulseAddress, "2a37", "--hex")
	suite.Require().NoError(err)
	testutils.NewTextAsserter(suite.T()).Assert(out, "0048")
}

func (suite *ReadCommandTestSuite) TestReadRaw() {
	out, err := suite.ExecuteCommand("read", pulseAddress, "ff01", "--service", "ffe0")
	suite.Require().NoError(err)
	testutils.NewTextAsserter(suite.T()).Assert(out, "hi")
}

func (suite *ReadCommandTestSuite) TestReadMultiple() {
	// GOAL: Verify several characteristics are read in order and prefixed by their UUID
	//
	// TEST SCENARIO: Read 2a37,2a19 → two prefixed lines in argument order
	out, err := suite.ExecuteCommand("read", pulseAddress, "2a37, 2a19", "--hex")
	suite.Require().NoError(err)
	testutils.NewTextAsserter(suite.T()).Assert(out, "2a37: 0048\n2a19: 64")
}

func (suite *ReadCommandTestSuite) TestReadService() {
	out, err := suite.ExecuteCommand("read", pulseAddress, "--service", "180f", "--hex")
	suite.Require().NoError(err)
	testutils.NewTextAsserter(suite.T()).Assert(out, "64")
}

func (suite *ReadCommandTestSuite) TestReadWatch() {
	out, err := suite.ExecuteCommand("read", pulseAddress, "2a19", "--hex", "--watch", "5ms", "--count", "3")
	suite.Require().NoError(err)
	suite.Equal(3, strings.Count(out, "64\n"), "watch MUST read once per interval until --count")
}

func (suite *ReadCommandTestSuite) TestReadErrors() {
	tests := []struct {
		name    string
		args    []string
		errText string
	}{
		{"no target", []string{pulseAddress}, "no characteristic UUID given"},
		{"ambiguous", []string{pulseAddress, "ff01"}, "found in multiple services, specify --service"},
		{"unknown characteristic", []string{pulseAddress, "2a00"}, `characteristic "2a00" not found`},
		{"unknown in service", []string{pulseAddress, "2a37", "--service", "180f"}, `characteristic "2a37" not found in service "180f"`},
		{"unknown service", []string{pulseAddress, "--service", "1811"}, `service "1811" not found`},
		{"not readable", []string{pulseAddress, "2a39"}, "characteristic 2a39 is not readable"},
		{"bad uuid", []string{pulseAddress, "xyz"}, "invalid UUID format"},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			_, err := suite.ExecuteCommand(append([]string{"read"}, tt.args...)...)
			suite.ErrorContains(err, tt.errText)
		})
	}
}

func (suite *ReadCommandTestSuite) TestReadNotFoundHint() {
	_, err := suite.ExecuteCommand("read", pulseAddress, "2a00")
	var nf *device.NotFoundError
	suite.Require().ErrorAs(err, &nf)
	suite.Contains(FormatUserError(err), "blestream inspect")
}

func TestReadCommandTestSuite(t *testing.T) {
	suite.Run(t, new(ReadCommandTestSuite))
}
