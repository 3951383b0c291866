package metrics

import (
	"errors"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/baozi-iot/baozi-node/internal/fota"
)

const namespace = "baozi"

// Reason labels for rejected announcements and failed transfers.
const (
	reasonTooShort   = "too_short"
	reasonSender     = "sender"
	reasonMalformed  = "malformed"
	reasonCommand    = "command"
	reasonPort       = "port"
	reasonTooSmall   = "too_small"
	reasonBusy       = "busy"
	reasonConnect    = "connect"
	reasonRead       = "read"
	reasonWrite      = "write"
	reasonWatchdog   = "watchdog"
	reasonOverrun    = "overrun"
	reasonPartition  = "partition"
	reasonFinish     = "finish"
	reasonBootTarget = "boot_target"
	reasonOther      = "other"
)

// Recorder records state machine and update activity as Prometheus series.
type Recorder struct {
	transitions *prometheus.CounterVec
	unhandled   *prometheus.CounterVec
	state       *prometheus.GaugeVec

	rejected *prometheus.CounterVec
	started  prometheus.Counter
	finished *prometheus.CounterVec
	duration *prometheus.HistogramVec
	received prometheus.Counter

	mu      sync.Mutex
	current map[string]string
}

// NewRecorder creates a Recorder and registers its collectors with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fsm",
			Name:      "transitions_total",
			Help:      "State changes by machine, source and target state.",
		}, []string{"machine", "from", "to"}),
		unhandled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fsm",
			Name:      "unhandled_events_total",
			Help:      "Events dropped because the current state has no handler.",
		}, []string{"machine", "state", "event"}),
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fsm",
			Name:      "state",
			Help:      "1 for the current state of each machine, 0 for states it has left.",
		}, []string{"machine", "state"}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ota",
			Name:      "discoveries_rejected_total",
			Help:      "Update announcements that were not accepted.",
		}, []string{"reason"}),
		started: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ota",
			Name:      "transfers_started_total",
			Help:      "Update announcements that were acknowledged.",
		}),
		finished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ota",
			Name:      "transfers_finished_total",
			Help:      "Finished transfers by outcome.",
		}, []string{"outcome", "reason"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ota",
			Name:      "transfer_duration_seconds",
			Help:      "Wall time from acknowledgement to commit or failure.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),
		received: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ota",
			Name:      "received_bytes_total",
			Help:      "Image bytes stored across all transfers.",
		}),
		current: make(map[string]string),
	}
}

// Transition implements fsm.Observer.
func (r *Recorder) Transition(machine, from, to string) {
	r.transitions.WithLabelValues(machine, from, to).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.current[machine]; ok {
		r.state.WithLabelValues(machine, prev).Set(0)
	} else {
		r.state.WithLabelValues(machine, from).Set(0)
	}
	r.state.WithLabelValues(machine, to).Set(1)
	r.current[machine] = to
}

// Unhandled implements fsm.Observer.
func (r *Recorder) Unhandled(machine, state, event string) {
	r.unhandled.WithLabelValues(machine, state, event).Inc()
}

// DiscoveryRejected implements fota.Observer.
func (r *Recorder) DiscoveryRejected(reason error) {
	r.rejected.WithLabelValues(Reason(reason)).Inc()
}

// TransferStarted implements fota.Observer.
func (r *Recorder) TransferStarted(net.IP, int) {
	r.started.Inc()
}

// TransferFinished implements fota.Observer.
func (r *Recorder) TransferFinished(result fota.Result) {
	outcome := "committed"
	reason := ""
	if !result.Committed() {
		outcome = "failed"
		reason = Reason(result.Err)
	}
	r.finished.WithLabelValues(outcome, reason).Inc()
	r.duration.WithLabelValues(outcome).Observe(result.Elapsed.Seconds())
	if result.Received > 0 {
		r.received.Add(float64(result.Received))
	}
}

// Reason maps an update handler error to a short label value.
func Reason(err error) string {
	switch {
	case errors.Is(err, fota.ErrPacketTooShort):
		return reasonTooShort
	case errors.Is(err, fota.ErrSenderNotIPv4):
		return reasonSender
	case errors.Is(err, fota.ErrMalformedDiscovery):
		return reasonMalformed
	case errors.Is(err, fota.ErrInvalidCommand):
		return reasonCommand
	case errors.Is(err, fota.ErrInvalidPort):
		return reasonPort
	case errors.Is(err, fota.ErrImageTooSmall):
		return reasonTooSmall
	case errors.Is(err, fota.ErrTransferInProgress):
		return reasonBusy
	case errors.Is(err, fota.ErrConnect):
		return reasonConnect
	case errors.Is(err, fota.ErrStreamRead):
		return reasonRead
	case errors.Is(err, fota.ErrStreamWrite):
		return reasonWrite
	case errors.Is(err, fota.ErrWatchdog):
		return reasonWatchdog
	case errors.Is(err, fota.ErrSizeOverrun):
		return reasonOverrun
	case errors.Is(err, fota.ErrPartitionBegin), errors.Is(err, fota.ErrPartitionWrite):
		return reasonPartition
	case errors.Is(err, fota.ErrFinish):
		return reasonFinish
	case errors.Is(err, fota.ErrBootTarget):
		return reasonBootTarget
	default:
		return reasonOther
	}
}
