package otapush

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// DefaultService is the mDNS service type nodes advertise.
const DefaultService = "_baozi._udp"

// Node is a discovered update target.
type Node struct {
	Instance string
	Host     string
	Port     int
	Version  string
}

// Addr returns the node's announcement address.
func (n Node) Addr() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// Discover browses for nodes until timeout and returns them sorted by
// instance name.
func Discover(ctx context.Context, service, domain string, timeout time.Duration) ([]Node, error) {
	if service == "" {
		service = DefaultService
	}
	if domain == "" {
		domain = "local."
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("creating mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return nil, fmt.Errorf("browsing %s: %w", service, err)
	}

	seen := make(map[string]Node)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return sortNodes(seen), nil
			}
			if n, ok := nodeFromEntry(entry); ok {
				seen[n.Instance] = n
			}
		case <-ctx.Done():
			return sortNodes(seen), nil
		}
	}
}

func sortNodes(seen map[string]Node) []Node {
	nodes := make([]Node, 0, len(seen))
	for _, n := range seen {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Instance < nodes[j].Instance })
	return nodes
}

// nodeFromEntry converts a browse result. Entries without an IPv4 address
// are skipped.
func nodeFromEntry(entry *zeroconf.ServiceEntry) (Node, bool) {
	if entry == nil || len(entry.AddrIPv4) == 0 {
		return Node{}, false
	}

	n := Node{
		Instance: entry.Instance,
		Host:     entry.AddrIPv4[0].String(),
		Port:     entry.Port,
	}
	for _, kv := range entry.Text {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch key {
		case "version":
			n.Version = value
		case "ota_port":
			if port, err := strconv.Atoi(value); err == nil {
				n.Port = port
			}
		}
	}
	return n, true
}
