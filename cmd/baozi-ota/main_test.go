package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/baozi-iot/baozi-node/internal/fota"
	"github.com/baozi-iot/baozi-node/internal/otapush"
	"github.com/baozi-iot/baozi-node/internal/system"
)

type memUpdate struct {
	mu        sync.Mutex
	data      bytes.Buffer
	committed bool
}

func (u *memUpdate) Begin(int) (fota.Update, error) { return u, nil }
func (u *memUpdate) Finish() error                  { return nil }
func (u *memUpdate) Abort()                         {}

func (u *memUpdate) Write(p []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.data.Write(p)
	return nil
}

func (u *memUpdate) SetBootTarget() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.committed = true
	return nil
}

func startNode(t *testing.T, part fota.Partition) string {
	t.Helper()

	h := fota.NewHandler(fota.Config{ListenAddr: "127.0.0.1:0", RebootDelay: time.Millisecond}, part,
		system.RestarterFunc(func(string) {}))
	if err := h.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Serve(ctx) //nolint:errcheck // shutdown path
	}()
	t.Cleanup(func() {
		cancel()
		h.Close()
		<-done
	})
	return h.Addr().String()
}

func TestPushCommand(t *testing.T) {
	part := &memUpdate{}
	addr := startNode(t, part)

	image := bytes.Repeat([]byte{0x7f, 'E', 'L', 'F'}, 5000)
	path := filepath.Join(t.TempDir(), "baozi-node")
	if err := os.WriteFile(path, image, 0o644); err != nil {
		t.Fatalf("writing image: %v", err)
	}

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"push", path, "--node", addr, "--listen", "127.0.0.1:0"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := root.ExecuteContext(ctx); err != nil {
		t.Fatalf("push error = %v", err)
	}

	if !strings.Contains(out.String(), "100%") || !strings.Contains(out.String(), "committed") {
		t.Errorf("output = %q, want progress to 100%% and a commit line", out.String())
	}

	part.mu.Lock()
	defer part.mu.Unlock()
	if !bytes.Equal(part.data.Bytes(), image) || !part.committed {
		t.Errorf("stored %d bytes (committed %v), want %d committed", part.data.Len(), part.committed, len(image))
	}
}

func TestPushCommand_ImageTooSmall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.bin")
	if err := os.WriteFile(path, []byte("tiny"), 0o644); err != nil {
		t.Fatalf("writing image: %v", err)
	}

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"push", path, "--node", "127.0.0.1"})

	if err := root.Execute(); !errors.Is(err, otapush.ErrImageTooSmall) {
		t.Errorf("push error = %v, want ErrImageTooSmall", err)
	}
}

func TestResolveTarget_NoTarget(t *testing.T) {
	if _, err := resolveTarget(context.Background(), pushFlags{}); !errors.Is(err, errNoTarget) {
		t.Errorf("resolveTarget() error = %v, want errNoTarget", err)
	}
}

func TestWithDefaultPort(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"192.168.1.40", "192.168.1.40:3232"},
		{"192.168.1.40:4000", "192.168.1.40:4000"},
		{"node.local", "node.local:3232"},
	}
	for _, tt := range tests {
		if got := withDefaultPort(tt.in); got != tt.want {
			t.Errorf("withDefaultPort(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPrintNodes(t *testing.T) {
	var out bytes.Buffer
	cmd := newDiscoverCmd()
	cmd.SetOut(&out)

	err := printNodes(cmd, []otapush.Node{
		{Instance: "baozi-a1", Host: "10.0.0.2", Port: 3232, Version: "1.2.0"},
		{Instance: "baozi-b2", Host: "10.0.0.3", Port: 3232},
	})
	if err != nil {
		t.Fatalf("printNodes() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3: %q", len(lines), out.String())
	}
	if !strings.Contains(lines[1], "10.0.0.2:3232") || !strings.Contains(lines[1], "1.2.0") {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.HasSuffix(lines[2], "-") {
		t.Errorf("line 2 = %q, want missing version shown as -", lines[2])
	}
}
