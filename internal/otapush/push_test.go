package otapush

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/baozi-iot/baozi-node/internal/fota"
	"github.com/baozi-iot/baozi-node/internal/system"
)

const testTimeout = 10 * time.Second

type memPartition struct {
	finishErr error

	mu       sync.Mutex
	data     bytes.Buffer
	finished bool
	booted   bool
	aborted  bool
}

func (p *memPartition) Begin(int) (fota.Update, error) { return p, nil }

func (p *memPartition) Write(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data.Write(b)
	return nil
}

func (p *memPartition) Finish() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finishErr != nil {
		return p.finishErr
	}
	p.finished = true
	return nil
}

func (p *memPartition) SetBootTarget() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.booted = true
	return nil
}

func (p *memPartition) Abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aborted = true
}

// startNode runs an update handler on loopback and returns its address and
// a channel receiving restart reasons.
func startNode(t *testing.T, cfg fota.Config, part fota.Partition) (string, <-chan string) {
	t.Helper()

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	cfg.RebootDelay = time.Millisecond

	restarts := make(chan string, 1)
	restarter := system.RestarterFunc(func(reason string) { restarts <- reason })

	h := fota.NewHandler(cfg, part, restarter)
	if err := h.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		h.Close()
		select {
		case <-done:
		case <-time.After(testTimeout):
			t.Error("Serve() did not return")
		}
	})

	return h.Addr().String(), restarts
}

func testImage(t *testing.T, size int) Image {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 253)
	}
	img, err := NewImage(data, 0)
	if err != nil {
		t.Fatalf("NewImage() error = %v", err)
	}
	return img
}

func loopbackPusher() *Pusher {
	return New(Config{
		ListenAddr:    "127.0.0.1:0",
		AnswerTimeout: 200 * time.Millisecond,
		Attempts:      2,
	})
}

func TestPush_CommitsImage(t *testing.T) {
	part := &memPartition{}
	addr, restarts := startNode(t, fota.Config{}, part)
	img := testImage(t, 50_000)

	var lastSent, lastTotal int
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	err := loopbackPusher().Push(ctx, addr, img, func(sent, total int) {
		lastSent, lastTotal = sent, total
	})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	if lastSent != img.Size() || lastTotal != img.Size() {
		t.Errorf("final progress = %d/%d, want %d/%d", lastSent, lastTotal, img.Size(), img.Size())
	}

	select {
	case <-restarts:
	case <-time.After(testTimeout):
		t.Fatal("node did not restart after commit")
	}

	part.mu.Lock()
	defer part.mu.Unlock()
	if !bytes.Equal(part.data.Bytes(), img.Data) {
		t.Errorf("stored %d bytes, want the %d-byte image", part.data.Len(), img.Size())
	}
	if !part.finished || !part.booted {
		t.Errorf("finished = %v, booted = %v, want both true", part.finished, part.booted)
	}
}

func TestPush_NodeRejectsSmallImage(t *testing.T) {
	part := &memPartition{}
	addr, _ := startNode(t, fota.Config{MinImageSize: 100_000}, part)

	err := loopbackPusher().Push(context.Background(), addr, testImage(t, 5_000), nil)
	if !errors.Is(err, ErrNoAnswer) {
		t.Errorf("Push() error = %v, want ErrNoAnswer", err)
	}
}

func TestPush_CommitFailure(t *testing.T) {
	part := &memPartition{finishErr: errors.New("bad image")}
	addr, _ := startNode(t, fota.Config{}, part)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	err := loopbackPusher().Push(ctx, addr, testImage(t, 8_000), nil)
	if !errors.Is(err, ErrNotCommitted) {
		t.Errorf("Push() error = %v, want ErrNotCommitted", err)
	}

	part.mu.Lock()
	defer part.mu.Unlock()
	if !part.aborted {
		t.Error("update not aborted after failed commit")
	}
}

// silentAddr returns a loopback UDP address nobody answers on.
func silentAddr(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn.LocalAddr().String()
}

func TestPush_NoNode(t *testing.T) {
	err := loopbackPusher().Push(context.Background(), silentAddr(t), testImage(t, 2_000), nil)
	if !errors.Is(err, ErrNoAnswer) {
		t.Errorf("Push() error = %v, want ErrNoAnswer", err)
	}
}

func TestPush_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := loopbackPusher().Push(ctx, silentAddr(t), testImage(t, 2_000), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Push() error = %v, want context.Canceled", err)
	}
}

func TestPush_InvalidNodeAddr(t *testing.T) {
	err := loopbackPusher().Push(context.Background(), "no-port", testImage(t, 2_000), nil)
	if !errors.Is(err, ErrInvalidNodeAddr) {
		t.Errorf("Push() error = %v, want ErrInvalidNodeAddr", err)
	}
}

func TestAnnouncement(t *testing.T) {
	img := testImage(t, 204800)
	got := Announcement(40000, img)

	if !strings.HasPrefix(got, "0 40000 204800 ") || !strings.HasSuffix(got, "\n") {
		t.Errorf("Announcement() = %q", got)
	}

	d, err := fota.ParseDiscovery([]byte(got), fota.DefaultMinImageSize)
	if err != nil {
		t.Fatalf("ParseDiscovery(Announcement()) error = %v", err)
	}
	if d.StreamPort != 40000 || d.DeclaredSize != 204800 || d.Token != img.Token {
		t.Errorf("parsed = %+v", d)
	}
}

func TestNewImage(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		minSize int
		wantErr error
	}{
		{"default minimum", fota.DefaultMinImageSize, 0, nil},
		{"below default minimum", fota.DefaultMinImageSize - 1, 0, ErrImageTooSmall},
		{"custom minimum", 500, 100, nil},
		{"too large", MaxImageSize + 1, 0, ErrImageTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := NewImage(make([]byte, tt.size), tt.minSize)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("NewImage() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && len(img.Token) != 32 {
				t.Errorf("Token = %q, want 32 hex characters", img.Token)
			}
		})
	}
}

func TestNewImage_Token(t *testing.T) {
	img, err := NewImage([]byte(strings.Repeat("a", 1000)), 0)
	if err != nil {
		t.Fatalf("NewImage() error = %v", err)
	}
	const want = "cabe45dcc9ae5b66ba86600cca6b8ba8"
	if img.Token != want {
		t.Errorf("Token = %q, want %q", img.Token, want)
	}
}

// pieceNode accepts one stream, reads it in pieces of at most piece bytes,
// acknowledges every read with its length and answers OK once want bytes
// have arrived.
func pieceNode(t *testing.T, piece, want int) (string, <-chan []byte) {
	t.Helper()

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var got []byte
		buf := make([]byte, piece)
		for len(got) < want {
			n, err := conn.Read(buf)
			if err != nil {
				break
			}
			got = append(got, buf[:n]...)
			if _, err := conn.Write([]byte(strconv.Itoa(n))); err != nil {
				break
			}
		}
		if len(got) == want {
			conn.Write([]byte(fota.Ack)) //nolint:errcheck
		}
		received <- got
	}()

	return ln.Addr().String(), received
}

func TestStream_NodeReadsShortPieces(t *testing.T) {
	img := testImage(t, 10_000)
	addr, received := pieceNode(t, 500, img.Size())

	conn, err := net.DialTimeout("tcp4", addr, testTimeout)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	p := loopbackPusher()
	pending, err := p.stream(conn, img, nil)
	if err != nil {
		t.Fatalf("stream() error = %v", err)
	}
	if err := p.awaitCommit(conn, pending); err != nil {
		t.Fatalf("awaitCommit() error = %v", err)
	}

	select {
	case got := <-received:
		if !bytes.Equal(got, img.Data) {
			t.Errorf("node received %d bytes, want the %d-byte image", len(got), img.Size())
		}
	case <-time.After(testTimeout):
		t.Fatal("node did not finish reading")
	}
}

func TestAwaitCommit_AckAlreadyRead(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	if err := loopbackPusher().awaitCommit(client, []byte("524OK")); err != nil {
		t.Errorf("awaitCommit() error = %v, want nil", err)
	}
}
