package fota

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Protocol constants.
const (
	// DefaultPort is the discovery datagram port.
	DefaultPort = 3232

	// MinPacketSize is the shortest discovery packet accepted, in bytes.
	MinPacketSize = 44

	// MinStreamPort is the lowest stream port a peer may announce.
	MinStreamPort = 80

	// DefaultMinImageSize is the smallest declared image size accepted.
	DefaultMinImageSize = 1000

	// DefaultChunkSize bounds a single stream read.
	DefaultChunkSize = 1024

	// DefaultWatchdogTimeout is the longest wait for the next chunk.
	DefaultWatchdogTimeout = 10 * time.Second

	// DefaultRebootDelay is the pause between commit and restart.
	DefaultRebootDelay = 5 * time.Second

	// maxDatagramSize bounds the discovery read buffer.
	maxDatagramSize = 512
)

// Ack is the acknowledgement literal sent after an accepted announcement and
// after a committed transfer.
const Ack = "OK"

// Discovery is a parsed announcement.
type Discovery struct {
	// Command is the single-character command token. Its value is not
	// interpreted.
	Command string

	// StreamPort is the peer port to dial for the image stream.
	StreamPort int

	// DeclaredSize is the exact image size in bytes.
	DeclaredSize int

	// Token is the integrity token: everything after the size field. It is
	// carried for logging and not verified.
	Token string
}

// String formats the announcement as it appears on the wire.
func (d Discovery) String() string {
	return fmt.Sprintf("%s %d %d %s", d.Command, d.StreamPort, d.DeclaredSize, d.Token)
}

// ParseDiscovery validates and parses a discovery packet.
//
// Checks run in order: packet length, command length, stream port, then
// the declared size against minImageSize. A NUL byte terminates the packet.
func ParseDiscovery(packet []byte, minImageSize int) (Discovery, error) {
	msg := string(packet)
	if i := strings.IndexByte(msg, 0); i >= 0 {
		msg = msg[:i]
	}
	if len(msg) < MinPacketSize {
		return Discovery{}, fmt.Errorf("%w: %d bytes", ErrPacketTooShort, len(msg))
	}

	fields := discoveryFields(strings.TrimRight(msg, "\r\n"))
	if len(fields) < 3 {
		return Discovery{}, fmt.Errorf("%w: want at least 3 fields, got %d", ErrMalformedDiscovery, len(fields))
	}

	d := Discovery{Command: fields[0]}
	if len(d.Command) != 1 {
		return Discovery{}, fmt.Errorf("%w: %q", ErrInvalidCommand, d.Command)
	}

	port, err := strconv.Atoi(fields[1])
	if err != nil || port < MinStreamPort || port > 65535 {
		return Discovery{}, fmt.Errorf("%w: %q", ErrInvalidPort, fields[1])
	}
	d.StreamPort = port

	size, err := strconv.Atoi(fields[2])
	if err != nil {
		return Discovery{}, fmt.Errorf("%w: size %q", ErrMalformedDiscovery, fields[2])
	}
	if size < minImageSize {
		return Discovery{}, fmt.Errorf("%w: %d < %d", ErrImageTooSmall, size, minImageSize)
	}
	d.DeclaredSize = size

	if len(fields) == 4 {
		d.Token = fields[3]
	}
	return d, nil
}

// discoveryFields splits the command, port and size on runs of spaces and
// returns the remainder, leading spaces removed, as a fourth field.
func discoveryFields(msg string) []string {
	fields := make([]string, 0, 4)
	rest := msg
	for len(fields) < 3 {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			return fields
		}
		var tok string
		tok, rest, _ = strings.Cut(rest, " ")
		fields = append(fields, tok)
	}
	if rest = strings.TrimLeft(rest, " "); rest != "" {
		fields = append(fields, rest)
	}
	return fields
}

// senderIPv4 returns the IPv4 address of a datagram sender.
func senderIPv4(addr *net.UDPAddr) (net.IP, error) {
	if addr == nil {
		return nil, ErrSenderNotIPv4
	}
	ip := addr.IP.To4()
	if ip == nil {
		return nil, fmt.Errorf("%w: %s", ErrSenderNotIPv4, addr.IP)
	}
	return ip, nil
}
