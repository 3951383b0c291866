package connectivity

import (
	"encoding/json"
	"net"

	"github.com/baozi-iot/baozi-node/internal/fota"
	"github.com/baozi-iot/baozi-node/internal/infrastructure/mqtt"
)

// Publisher is the subset of the bus manager used for reports.
type Publisher interface {
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// OTAReport is the JSON document published on the OTA topic.
type OTAReport struct {
	Event     string `json:"event"`
	Peer      string `json:"peer,omitempty"`
	Declared  int    `json:"declared,omitempty"`
	Received  int    `json:"received,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Report events.
const (
	OTAEventStarted   = "started"
	OTAEventCommitted = "committed"
	OTAEventFailed    = "failed"
)

// OTAReporter publishes update outcomes while the bus is connected. It
// implements fota.Observer. Rejected announcements are not reported.
type OTAReporter struct {
	publisher Publisher
	topic     string
	logger    Logger
}

var _ fota.Observer = (*OTAReporter)(nil)

// NewOTAReporter creates a reporter publishing to topics.OTA().
func NewOTAReporter(publisher Publisher, topics mqtt.Topics, logger Logger) *OTAReporter {
	if logger == nil {
		logger = noopLogger{}
	}
	return &OTAReporter{publisher: publisher, topic: topics.OTA(), logger: logger}
}

// DiscoveryRejected implements fota.Observer.
func (r *OTAReporter) DiscoveryRejected(error) {}

// TransferStarted implements fota.Observer.
func (r *OTAReporter) TransferStarted(peer net.IP, declared int) {
	r.publish(OTAReport{Event: OTAEventStarted, Peer: peer.String(), Declared: declared})
}

// TransferFinished implements fota.Observer.
func (r *OTAReporter) TransferFinished(result fota.Result) {
	report := OTAReport{
		Event:     OTAEventCommitted,
		Peer:      result.Peer.String(),
		Declared:  result.Declared,
		Received:  result.Received,
		ElapsedMS: result.Elapsed.Milliseconds(),
	}
	if !result.Committed() {
		report.Event = OTAEventFailed
		report.Error = result.Err.Error()
	}
	r.publish(report)
}

func (r *OTAReporter) publish(report OTAReport) {
	if r.publisher == nil || !r.publisher.IsConnected() {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		r.logger.Error("encoding OTA report failed", "error", err)
		return
	}
	if err := r.publisher.Publish(r.topic, payload); err != nil {
		r.logger.Warn("publishing OTA report failed", "event", report.Event, "error", err)
	}
}
