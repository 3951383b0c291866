package fota

import (
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"
)

// Session is one in-flight transfer.
//
// received never exceeds declared: Accept refuses a chunk that would cross
// it. The failure flag is set by the watchdog from its own goroutine and
// read by the transfer loop.
type Session struct {
	Peer       net.IP
	StreamPort int
	Declared   int
	Token      string
	Started    time.Time

	received int
	failed   atomic.Bool
}

func newSession(d Discovery, peer net.IP) *Session {
	return &Session{
		Peer:       peer,
		StreamPort: d.StreamPort,
		Declared:   d.DeclaredSize,
		Token:      d.Token,
		Started:    time.Now(),
	}
}

// StreamAddr is the peer's stream endpoint.
func (s *Session) StreamAddr() string {
	return net.JoinHostPort(s.Peer.String(), strconv.Itoa(s.StreamPort))
}

// Accept records n more bytes. It fails without recording anything if that
// would exceed the declared size.
func (s *Session) Accept(n int) error {
	if s.received+n > s.Declared {
		return fmt.Errorf("%w: %d + %d > %d", ErrSizeOverrun, s.received, n, s.Declared)
	}
	s.received += n
	return nil
}

// Received returns the number of accepted bytes.
func (s *Session) Received() int { return s.received }

// Remaining returns the number of bytes still expected.
func (s *Session) Remaining() int { return s.Declared - s.received }

// Complete reports whether exactly the declared size has been accepted.
func (s *Session) Complete() bool { return s.received == s.Declared }

// Fail sets the failure flag.
func (s *Session) Fail() { s.failed.Store(true) }

// Failed reports whether the failure flag is set.
func (s *Session) Failed() bool { return s.failed.Load() }
