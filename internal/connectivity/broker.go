package connectivity

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

// Broker is a located MQTT broker.
type Broker struct {
	Host string
	Port int
}

// String returns host:port.
func (b Broker) String() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// BrokerLocator finds the broker to connect to.
type BrokerLocator interface {
	Locate(ctx context.Context) (Broker, error)
}

// StaticBroker is a broker address taken from configuration.
type StaticBroker Broker

// Locate implements BrokerLocator.
func (s StaticBroker) Locate(context.Context) (Broker, error) {
	if s.Host == "" {
		return Broker{}, fmt.Errorf("%w: no host configured", ErrBrokerNotFound)
	}
	return Broker(s), nil
}

// MDNSBrowser locates a broker by browsing for an mDNS service such as
// _mqtt._tcp.
type MDNSBrowser struct {
	Service string
	Domain  string

	// Timeout bounds one browse.
	Timeout time.Duration
}

// Locate implements BrokerLocator. It returns the first instance that
// resolves to an IPv4 address.
func (m MDNSBrowser) Locate(ctx context.Context) (Broker, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return Broker{}, fmt.Errorf("creating mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, m.Service, m.Domain, entries); err != nil {
		return Broker{}, fmt.Errorf("browsing %s: %w", m.Service, err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return Broker{}, fmt.Errorf("%w: no %s instance answered", ErrBrokerNotFound, m.Service)
			}
			if b, ok := brokerFromEntry(entry); ok {
				return b, nil
			}
		case <-ctx.Done():
			return Broker{}, fmt.Errorf("%w: no %s instance within %s", ErrBrokerNotFound, m.Service, m.Timeout)
		}
	}
}

func brokerFromEntry(entry *zeroconf.ServiceEntry) (Broker, bool) {
	if entry == nil || len(entry.AddrIPv4) == 0 || entry.Port <= 0 {
		return Broker{}, false
	}
	return Broker{Host: entry.AddrIPv4[0].String(), Port: entry.Port}, true
}
