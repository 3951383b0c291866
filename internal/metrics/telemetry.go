package metrics

import (
	"net"

	"github.com/baozi-iot/baozi-node/internal/fota"
)

// Measurement names written by Telemetry.
const (
	MeasurementTransition = "fsm_transition"
	MeasurementUnhandled  = "fsm_unhandled"
	MeasurementDiscovery  = "ota_discovery"
	MeasurementTransfer   = "ota_transfer"
)

// PointWriter queues a time-series point. influxdb.Client satisfies it.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any)
}

// Telemetry forwards node activity to a time-series store as events.
// It implements fsm.Observer and fota.Observer.
type Telemetry struct {
	w PointWriter
}

// NewTelemetry creates a Telemetry writing through w.
func NewTelemetry(w PointWriter) *Telemetry {
	return &Telemetry{w: w}
}

// Transition implements fsm.Observer.
func (t *Telemetry) Transition(machine, from, to string) {
	t.w.WritePoint(MeasurementTransition,
		map[string]string{"machine": machine, "from": from, "to": to},
		map[string]any{"count": 1})
}

// Unhandled implements fsm.Observer.
func (t *Telemetry) Unhandled(machine, state, event string) {
	t.w.WritePoint(MeasurementUnhandled,
		map[string]string{"machine": machine, "state": state, "event": event},
		map[string]any{"count": 1})
}

// DiscoveryRejected implements fota.Observer.
func (t *Telemetry) DiscoveryRejected(reason error) {
	t.w.WritePoint(MeasurementDiscovery,
		map[string]string{"accepted": "false", "reason": Reason(reason)},
		map[string]any{"count": 1})
}

// TransferStarted implements fota.Observer.
func (t *Telemetry) TransferStarted(peer net.IP, declared int) {
	t.w.WritePoint(MeasurementDiscovery,
		map[string]string{"accepted": "true"},
		map[string]any{"count": 1, "declared": declared, "peer": peer.String()})
}

// TransferFinished implements fota.Observer.
func (t *Telemetry) TransferFinished(result fota.Result) {
	tags := map[string]string{"outcome": "committed"}
	if !result.Committed() {
		tags["outcome"] = "failed"
		tags["reason"] = Reason(result.Err)
	}
	t.w.WritePoint(MeasurementTransfer, tags, map[string]any{
		"declared":   result.Declared,
		"received":   result.Received,
		"elapsed_ms": result.Elapsed.Milliseconds(),
	})
}
