package connectivity

import "errors"

var (
	// ErrNoCredentials is returned when neither configuration nor the
	// settings store holds link credentials.
	ErrNoCredentials = errors.New("connectivity: no link credentials")

	// ErrLinkRejected is returned when the link manager refuses the
	// connect request.
	ErrLinkRejected = errors.New("connectivity: link connect rejected")

	// ErrLinkTimeout is returned when the link does not reach Connected.
	ErrLinkTimeout = errors.New("connectivity: link not connected")

	// ErrBrokerNotFound is returned when no broker could be located.
	ErrBrokerNotFound = errors.New("connectivity: broker not found")

	// ErrBusTimeout is returned when the bus does not reach Connected.
	ErrBusTimeout = errors.New("connectivity: bus not connected")

	// ErrNotStarted is returned by operations that need a started node.
	ErrNotStarted = errors.New("connectivity: node not started")

	errNotReady = errors.New("not ready")
)
