package otapush

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/baozi-iot/baozi-node/internal/fota"
)

// Defaults for Config zero values.
const (
	DefaultAnswerTimeout  = 2 * time.Second
	DefaultAttempts       = 5
	DefaultConnectTimeout = 10 * time.Second
	DefaultStreamTimeout  = 10 * time.Second
	DefaultCommitTimeout  = 30 * time.Second

	// CommandFlash is the command token for an application image.
	CommandFlash = "0"
)

// Config holds push settings.
type Config struct {
	// ChunkSize is the number of bytes sent per acknowledgement. It must not
	// exceed the node's chunk size.
	ChunkSize int

	// ListenAddr is the local address the node connects back to. The port
	// is usually 0. An empty host binds all interfaces.
	ListenAddr string

	// AnswerTimeout bounds the wait for OK after each announcement.
	AnswerTimeout time.Duration

	// Attempts is the number of announcements sent before giving up.
	Attempts int

	// ConnectTimeout bounds the wait for the node's stream connection.
	ConnectTimeout time.Duration

	// StreamTimeout bounds each chunk write and acknowledgement read.
	StreamTimeout time.Duration

	// CommitTimeout bounds the wait for the final OK after the last chunk.
	CommitTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = fota.DefaultChunkSize
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":0"
	}
	if c.AnswerTimeout <= 0 {
		c.AnswerTimeout = DefaultAnswerTimeout
	}
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.StreamTimeout <= 0 {
		c.StreamTimeout = DefaultStreamTimeout
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = DefaultCommitTimeout
	}
}

// Progress is called after every acknowledged chunk.
type Progress func(sent, total int)

// Pusher sends images to nodes.
type Pusher struct {
	cfg Config
}

// New creates a Pusher.
func New(cfg Config) *Pusher {
	cfg.applyDefaults()
	return &Pusher{cfg: cfg}
}

// Push sends img to the node listening for announcements at node
// (host:port). It returns once the node has confirmed the commit.
func (p *Pusher) Push(ctx context.Context, node string, img Image, progress Progress) error {
	nodeAddr, err := net.ResolveUDPAddr("udp4", node)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidNodeAddr, node, err)
	}

	ln, err := net.Listen("tcp4", p.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("opening stream listener: %w", err)
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	packet := Announcement(port, img)
	if len(packet) < fota.MinPacketSize {
		return fmt.Errorf("%w: %d bytes", ErrPacketTooShort, len(packet))
	}

	if err := p.announce(ctx, nodeAddr, packet); err != nil {
		return err
	}

	conn, err := p.accept(ctx, ln.(*net.TCPListener))
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	pending, err := p.stream(conn, img, progress)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return p.awaitCommit(conn, pending)
}

// Announcement formats the discovery datagram for an image served on port.
func Announcement(port int, img Image) string {
	d := fota.Discovery{
		Command:      CommandFlash,
		StreamPort:   port,
		DeclaredSize: img.Size(),
		Token:        img.Token,
	}
	return d.String() + "\n"
}

// announce sends the datagram until the node answers OK.
func (p *Pusher) announce(ctx context.Context, node *net.UDPAddr, packet string) error {
	conn, err := net.DialUDP("udp4", nil, node)
	if err != nil {
		return fmt.Errorf("opening announcement socket: %w", err)
	}
	defer conn.Close()

	policy := backoff.WithContext(p.announcePolicy(), ctx)

	err = backoff.Retry(func() error {
		if _, err := conn.Write([]byte(packet)); err != nil {
			return fmt.Errorf("sending announcement: %w", err)
		}
		if err := conn.SetReadDeadline(time.Now().Add(p.cfg.AnswerTimeout)); err != nil {
			return backoff.Permanent(err)
		}

		buf := make([]byte, 64)
		n, err := conn.Read(buf)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNoAnswer, err)
		}
		if reply := strings.TrimRight(string(buf[:n]), "\x00\r\n"); reply != fota.Ack {
			return backoff.Permanent(fmt.Errorf("%w: %q", ErrRefused, reply))
		}
		return nil
	}, policy)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// announcePolicy retries announcements back to back; each attempt is
// already bounded by its read deadline.
func (p *Pusher) announcePolicy() backoff.BackOff {
	if p.cfg.Attempts <= 1 {
		return &backoff.StopBackOff{}
	}
	// #nosec G115 -- Attempts is positive after applyDefaults
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(p.cfg.Attempts-1))
}

// accept waits for the node to dial the stream listener.
func (p *Pusher) accept(ctx context.Context, ln *net.TCPListener) (net.Conn, error) {
	deadline := time.Now().Add(p.cfg.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := ln.SetDeadline(deadline); err != nil {
		return nil, err
	}

	conn, err := ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoConnection, err)
	}
	return conn, nil
}

// ackBufferSize bounds a single pacing read. The node acknowledges every
// read it completes, so one chunk may be answered by several decimals.
const ackBufferSize = 512

// stream sends the image one chunk at a time and waits for acknowledgement
// bytes after each. Their value is not checked: a node that receives a
// chunk in pieces answers each piece. Bytes read after the last chunk are
// returned so awaitCommit can find an OK that arrived with them.
func (p *Pusher) stream(conn net.Conn, img Image, progress Progress) ([]byte, error) {
	total := img.Size()
	ack := make([]byte, ackBufferSize)
	for off := 0; off < total; off += p.cfg.ChunkSize {
		chunk := img.Data[off:min(off+p.cfg.ChunkSize, total)]
		last := off+len(chunk) == total

		if err := conn.SetDeadline(time.Now().Add(p.cfg.StreamTimeout)); err != nil {
			return nil, err
		}
		if _, err := conn.Write(chunk); err != nil {
			return nil, fmt.Errorf("sending chunk at %d: %w", off, err)
		}

		n, err := conn.Read(ack)
		if err != nil && !last {
			return nil, fmt.Errorf("%w: reading ack at %d: %w", ErrBadAck, off, err)
		}

		if progress != nil {
			progress(off+len(chunk), total)
		}
		if last {
			return append([]byte(nil), ack[:n]...), nil
		}
	}
	return nil, nil
}

// awaitCommit reads the node's final reply. The node closes the stream
// after answering; pending holds bytes already read by stream.
func (p *Pusher) awaitCommit(conn net.Conn, pending []byte) error {
	if bytes.Contains(pending, []byte(fota.Ack)) {
		return nil
	}
	if err := conn.SetReadDeadline(time.Now().Add(p.cfg.CommitTimeout)); err != nil {
		return err
	}

	rest, err := io.ReadAll(io.LimitReader(conn, 4*ackBufferSize))
	reply := append(pending, rest...)
	if bytes.Contains(reply, []byte(fota.Ack)) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotCommitted, err)
	}
	return fmt.Errorf("%w: got %q", ErrNotCommitted, reply)
}
