package influxdb

import (
	"strconv"
	"time"

	"github.com/hearthhub/hearth-core/internal/bus"
	"github.com/hearthhub/hearth-core/internal/core"
)

// MetricWriter is the write surface the exporter needs. *Client
// satisfies it.
type MetricWriter interface {
	WriteStateMetric(domain, entityID string, value float64, at time.Time)
}

// EventBus is the subscription surface the exporter consumes.
type EventBus interface {
	Subscribe(eventType string, listener bus.Listener) bus.Unsubscribe
}

// Exporter forwards numeric state transitions to a metric writer. One
// point per transition whose state value parses as a float; everything
// else is skipped.
type Exporter struct {
	writer MetricWriter
	bus    EventBus
	unsub  bus.Unsubscribe
}

// NewExporter creates an exporter. Call Start to begin forwarding.
func NewExporter(writer MetricWriter, eventBus EventBus) *Exporter {
	return &Exporter{writer: writer, bus: eventBus}
}

// Start subscribes to state_changed.
func (x *Exporter) Start() {
	x.unsub = x.bus.Subscribe(core.EventStateChanged, x.onStateChanged)
}

// Stop unsubscribes.
func (x *Exporter) Stop() {
	if x.unsub != nil {
		x.unsub()
		x.unsub = nil
	}
}

func (x *Exporter) onStateChanged(e *core.Event) {
	data, ok := core.StateChanged(e)
	if !ok || data.NewState == nil {
		return
	}

	value, err := strconv.ParseFloat(data.NewState.Value, 64)
	if err != nil {
		return
	}

	x.writer.WriteStateMetric(
		data.EntityID.Domain(),
		data.EntityID.String(),
		value,
		data.NewState.LastUpdated,
	)
}
