package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/srg/blestream/internal/device"
	"github.com/srg/blestream/internal/stream"
	"github.com/srg/blestream/peripheral"
)

// parseCSVUUIDs parses a comma-separated string of UUIDs into a slice.
// Handles whitespace and filters empty elements.
//
// Examples:
//
//	"2a37" -> []string{"2a37"}
//	"2a37, 2a38, 2a19" -> []string{"2a37", "2a38", "2a19"}
func parseCSVUUIDs(input string) []string {
	var result []string
	for _, u := range strings.Split(input, ",") {
		u = strings.TrimSpace(u)
		if u != "" {
			result = append(result, u)
		}
	}
	return result
}

// discoverAll discovers the services of p, restricted to services when not
// empty, and the characteristics of each. Characteristic discovery runs one
// service at a time since a new discovery supersedes the running one.
func discoverAll(ctx context.Context, p *peripheral.Peripheral, services []device.UUID, timeout time.Duration) ([]*peripheral.Service, error) {
	sctx, cancel := withTimeout(ctx, timeout)
	svcs, err := stream.Collect(sctx, p.DiscoverServices(services))
	cancel()
	if err != nil {
		return nil, err
	}

	for _, svc := range svcs {
		cctx, cancel := withTimeout(ctx, timeout)
		_, err := stream.Collect(cctx, p.DiscoverCharacteristics(nil, svc))
		cancel()
		if err != nil {
			return nil, err
		}
	}
	return svcs, nil
}

// resolveCharacteristics finds the characteristics named by charUUIDs.
//
// Resolution cases:
//  1. charUUIDs + serviceUUID: every characteristic must live in that service
//  2. charUUIDs only: each UUID must match exactly one characteristic across all services
//  3. serviceUUID only: every characteristic of that service
//  4. neither: error
func resolveCharacteristics(ctx context.Context, p *peripheral.Peripheral, serviceUUID string, charUUIDs []string, timeout time.Duration) ([]*peripheral.Characteristic, error) {
	targets, err := device.ParseUUIDs(charUUIDs)
	if err != nil {
		return nil, err
	}

	var filter []device.UUID
	if serviceUUID != "" {
		svcUUID, err := device.ParseUUID(serviceUUID)
		if err != nil {
			return nil, err
		}
		filter = []device.UUID{svcUUID}
	} else if len(targets) == 0 {
		return nil, fmt.Errorf("no UUIDs provided")
	}

	services, err := discoverAll(ctx, p, filter, timeout)
	if err != nil {
		return nil, err
	}
	if len(filter) > 0 && len(services) == 0 {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{string(filter[0])}}
	}

	if len(targets) == 0 {
		chars := services[0].Characteristics()
		if len(chars) == 0 {
			return nil, fmt.Errorf("no characteristics found in service %s", filter[0])
		}
		return chars, nil
	}

	var result []*peripheral.Characteristic
	for _, target := range targets {
		var found []*peripheral.Characteristic
		for _, svc := range services {
			if c := svc.Characteristic(target); c != nil {
				found = append(found, c)
			}
		}
		switch {
		case len(found) == 0 && len(filter) > 0:
			return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{string(filter[0]), string(target)}}
		case len(found) == 0:
			return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{string(target)}}
		case len(found) > 1:
			return nil, fmt.Errorf("characteristic %s found in multiple services, specify --service", target)
		}
		result = append(result, found[0])
	}
	return result, nil
}
