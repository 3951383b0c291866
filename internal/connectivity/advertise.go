package connectivity

import (
	"fmt"
	"net"
	"strings"

	"github.com/grandcat/zeroconf"
)

// DefaultDomain is the mDNS domain.
const DefaultDomain = "local."

// Advertiser publishes the node on the local network. The returned
// function withdraws the advertisement.
type Advertiser interface {
	Advertise(instance string, port int, txt []string) (stop func(), err error)
}

// MDNSAdvertiser registers an mDNS service.
type MDNSAdvertiser struct {
	Service string
	Domain  string
}

// Advertise implements Advertiser.
func (a MDNSAdvertiser) Advertise(instance string, port int, txt []string) (func(), error) {
	domain := a.Domain
	if domain == "" {
		domain = DefaultDomain
	}
	server, err := zeroconf.Register(instance, a.Service, domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("registering %s as %s: %w", instance, a.Service, err)
	}
	return server.Shutdown, nil
}

// DeviceName derives the node name from a hardware address, e.g.
// baozi-a1b2c3d4e5f6. An empty address yields "baozi-node".
func DeviceName(mac net.HardwareAddr) string {
	if len(mac) == 0 {
		return "baozi-node"
	}
	return "baozi-" + strings.ReplaceAll(mac.String(), ":", "")
}
