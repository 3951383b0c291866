package fota

import (
	"net"
	"time"
)

// Result describes a finished transfer.
type Result struct {
	Peer     net.IP
	Declared int
	Received int
	Elapsed  time.Duration

	// Err is nil for a committed image.
	Err error
}

// Committed reports whether the image was committed.
func (r Result) Committed() bool { return r.Err == nil }

// Observer receives update-handler outcomes.
type Observer interface {
	// DiscoveryRejected is called for every announcement that is not
	// accepted.
	DiscoveryRejected(reason error)

	// TransferStarted is called once an announcement has been acknowledged.
	TransferStarted(peer net.IP, declared int)

	// TransferFinished is called once per started transfer.
	TransferFinished(result Result)
}

// Observers combines several observers into one. Nil entries are skipped.
func Observers(observers ...Observer) Observer {
	var out multiObserver
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

type multiObserver []Observer

func (m multiObserver) DiscoveryRejected(reason error) {
	for _, o := range m {
		o.DiscoveryRejected(reason)
	}
}

func (m multiObserver) TransferStarted(peer net.IP, declared int) {
	for _, o := range m {
		o.TransferStarted(peer, declared)
	}
}

func (m multiObserver) TransferFinished(result Result) {
	for _, o := range m {
		o.TransferFinished(result)
	}
}

type noopObserver struct{}

func (noopObserver) DiscoveryRejected(error)     {}
func (noopObserver) TransferStarted(net.IP, int) {}
func (noopObserver) TransferFinished(Result)     {}
