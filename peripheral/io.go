package peripheral

import (
	"weak"

	"github.com/sirupsen/logrus"
	"github.com/srg/blestream/internal/bus"
	"github.com/srg/blestream/internal/device"
	"github.com/srg/blestream/internal/stream"
)

// ObserveValue reads c once and yields every later value update of c. Nothing
// happens until Subscribe: the update subscription is registered first and
// the read is issued right after, so the response cannot be missed.
func (p *Peripheral) ObserveValue(c *Characteristic) *stream.Cold[*Data] {
	return stream.Defer(func() *stream.Stream[*Data] {
		return p.observeValue(c, "read", func() {
			p.adapter.ReadValue(p.id, c.ID())
		})
	})
}

// ObserveValueUpdateAndSetNotification enables notifications on c and yields
// every value update of c. Like ObserveValue it is deferred until Subscribe.
func (p *Peripheral) ObserveValueUpdateAndSetNotification(c *Characteristic) *stream.Cold[*Data] {
	return stream.Defer(func() *stream.Stream[*Data] {
		return p.observeValue(c, "notify", func() {
			p.adapter.SetNotify(p.id, c.ID(), true)
		})
	})
}

// observeValue subscribes to updates of c and then runs command. Updates are
// matched by characteristic identity only. An update carrying an error fails
// the stream; an empty value fails it with ErrInvalidData.
func (p *Peripheral) observeValue(c *Characteristic, mode string, command func()) *stream.Stream[*Data] {
	cid := c.ID()
	s, e := open[*Data](p.ops, mode+":"+p.id.String()+":"+cid.String())

	wp := weak.Make(p)
	bind(s, p.bus.ValueUpdated.Subscribe(func(ev bus.ValueUpdatedEvent) bool {
		return ev.Characteristic == cid
	}, func(ev bus.ValueUpdatedEvent) {
		if ev.Err != nil {
			e.Fail(device.AsBLEError(ev.Err))
			return
		}
		if len(ev.Value) == 0 {
			e.Fail(device.ErrInvalidData)
			return
		}
		if wp.Value() == nil {
			e.Fail(device.ErrDeallocated)
			return
		}
		c.setValue(ev.Value)
		e.Emit(&Data{Value: ev.Value, Characteristic: cid, peripheral: wp})
	}))

	p.logger.WithFields(logrus.Fields{
		"peripheral":     p.id,
		"characteristic": cid,
		"mode":           mode,
	}).Debug("Observing characteristic value")
	command()
	return s
}

// SetNotifyValue toggles notifications on c. It is fire-and-forget; updates
// are observed with ObserveValue or ObserveValueUpdateAndSetNotification.
func (p *Peripheral) SetNotifyValue(enabled bool, c *Characteristic) {
	p.logger.WithFields(logrus.Fields{
		"peripheral":     p.id,
		"characteristic": c.ID(),
		"enabled":        enabled,
	}).Debug("Setting notify value")
	p.adapter.SetNotify(p.id, c.ID(), enabled)
}

// WriteValue writes data to c.
//
// WithResponse supersedes the previous acknowledged write and resolves with
// whether the acknowledgement names c, or fails with ErrWriteFailed.
// WithoutResponse issues the write and resolves with true immediately.
func (p *Peripheral) WriteValue(data []byte, c *Characteristic, writeType device.WriteType) *stream.Stream[bool] {
	cid := c.ID()
	log := p.logger.WithFields(logrus.Fields{
		"peripheral":     p.id,
		"characteristic": cid,
		"bytes":          len(data),
		"type":           writeType,
	})

	if writeType == device.WithoutResponse {
		log.Debug("Writing without response")
		p.adapter.WriteValue(p.id, cid, data, false)
		return stream.Just(p.opName(opWrite), true)
	}

	s, e := begin[bool](p.ops, opWrite, p.opName(opWrite))
	bind(s, p.bus.WriteAcknowledged.Subscribe(bus.ForPeripheral[bus.WriteAcknowledgedEvent](p.id), func(ev bus.WriteAcknowledgedEvent) {
		if ev.Err != nil {
			e.Fail(device.WriteFailed(ev.Err))
			return
		}
		e.Emit(ev.Characteristic == cid)
		e.Complete()
	}))

	log.Debug("Writing with response")
	p.adapter.WriteValue(p.id, cid, data, true)
	return s
}

// ObserveRSSIValue requests an RSSI reading and yields every RSSI reading
// published afterwards, from any peripheral. A new call cancels the previous
// RSSI stream.
func (p *Peripheral) ObserveRSSIValue() *stream.Stream[int] {
	s, e := begin[int](p.ops, opRSSI, p.opName(opRSSI))
	bind(s, p.bus.RSSIRead.Subscribe(nil, func(ev bus.RSSIReadEvent) {
		if ev.Err != nil {
			e.Fail(device.AsBLEError(ev.Err))
			return
		}
		e.Emit(ev.RSSI)
	}))

	p.logger.WithField("peripheral", p.id).Debug("Reading RSSI")
	p.adapter.ReadRSSI(p.id)
	return s
}
