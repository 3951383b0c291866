package bus

import "errors"

// Domain-specific errors for bus operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrPublishFailed is returned when the transport rejects a publish.
	ErrPublishFailed = errors.New("bus: publish failed")

	// ErrConnectFailed is returned when the transport cannot start a session.
	ErrConnectFailed = errors.New("bus: connect failed")

	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("bus: topic cannot be empty")

	// ErrNilHandler is returned when registering a nil handler.
	ErrNilHandler = errors.New("bus: handler cannot be nil")
)
