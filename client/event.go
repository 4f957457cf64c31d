package client

import (
	"alexa-viewer/message"
	"alexa-viewer/metrics"
)

// SetEventCallback registers fn as the event handler, replacing any previous
// one. userCtx is handed back on every invocation. fn runs on the loop
// goroutine and must not block. A nil fn stops delivery.
func (c *Client) SetEventCallback(fn EventFunc, userCtx any) {
	if fn == nil {
		c.event.Store(nil)
		return
	}
	c.event.Store(&eventTarget{fn: fn, userCtx: userCtx})
}

// dispatch forwards the data field of ev to the registered handler. Events
// without one are dropped.
func (c *Client) dispatch(ev *message.Event) {
	target := c.event.Load()
	if target == nil {
		c.countEvent(metrics.EventDropped)
		return
	}
	data, ok := ev.Data()
	if !ok {
		c.logger.Debug("dropping event without data", "event", ev.Name)
		c.countEvent(metrics.EventDropped)
		return
	}
	target.fn(ev.Name, data, target.userCtx)
	c.countEvent(metrics.EventDispatched)
}

func (c *Client) countEvent(outcome string) {
	if c.metrics != nil {
		c.metrics.EventsTotal.WithLabelValues(outcome).Inc()
	}
}
