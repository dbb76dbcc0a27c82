package central

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blestream/internal/bus"
	"github.com/srg/blestream/internal/device"
)

func (c *Central) DidUpdateConnectionState(id device.ID, connected bool, err error) {
	fields := logrus.Fields{"peripheral": id, "connected": connected}
	switch {
	case err != nil:
		c.logger.WithFields(fields).WithField("error", err).Warn("Connection state error")
	case connected:
		c.logger.WithFields(fields).Info("Peripheral connected")
	default:
		c.logger.WithFields(fields).Info("Peripheral disconnected")
	}
	c.bus.Publish(bus.ConnectionStateEvent{Peripheral: id, Connected: connected, Err: err})
}

func (c *Central) DidDiscoverServices(id device.ID, services []device.ServiceInfo, err error) {
	c.logger.WithFields(logrus.Fields{
		"peripheral": id,
		"services":   len(services),
		"error":      err,
	}).Debug("Services discovered")
	c.bus.Publish(bus.ServicesDiscoveredEvent{Peripheral: id, Services: services, Err: err})
}

func (c *Central) DidDiscoverCharacteristics(id device.ID, service device.UUID, chars []device.CharacteristicInfo, err error) {
	c.logger.WithFields(logrus.Fields{
		"peripheral":      id,
		"service":         service,
		"characteristics": len(chars),
		"error":           err,
	}).Debug("Characteristics discovered")
	c.bus.Publish(bus.CharacteristicsDiscoveredEvent{Peripheral: id, Service: service, Characteristics: chars, Err: err})
}

func (c *Central) DidUpdateValue(id device.ID, char device.CharacteristicID, value []byte, err error) {
	c.bus.Publish(bus.ValueUpdatedEvent{Peripheral: id, Characteristic: char, Value: value, Err: err})
}

func (c *Central) DidWriteValue(id device.ID, char device.CharacteristicID, err error) {
	c.bus.Publish(bus.WriteAcknowledgedEvent{Peripheral: id, Characteristic: char, Err: err})
}

func (c *Central) DidReadRSSI(id device.ID, rssi int, err error) {
	c.bus.Publish(bus.RSSIReadEvent{Peripheral: id, RSSI: rssi, Err: err})
}

var _ device.Delegate = (*Central)(nil)
