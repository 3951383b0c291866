package fota

import (
	"errors"
	"net"
	"testing"
)

const testToken = "d41d8cd98f00b204e9800998ecf8427e"

func TestParseDiscovery(t *testing.T) {
	tests := []struct {
		name    string
		packet  string
		want    Discovery
		wantErr error
	}{
		{
			name:   "valid announcement",
			packet: "U 8080 204800 " + testToken,
			want:   Discovery{Command: "U", StreamPort: 8080, DeclaredSize: 204800, Token: testToken},
		},
		{
			name:   "NUL terminated",
			packet: "U 8080 204800 " + testToken + "\x00garbage",
			want:   Discovery{Command: "U", StreamPort: 8080, DeclaredSize: 204800, Token: testToken},
		},
		{
			name:   "token keeps spaces",
			packet: "F 40000 5000 " + testToken + " extra",
			want:   Discovery{Command: "F", StreamPort: 40000, DeclaredSize: 5000, Token: testToken + " extra"},
		},
		{
			name:   "repeated spaces",
			packet: "U  8080   204800    " + testToken,
			want:   Discovery{Command: "U", StreamPort: 8080, DeclaredSize: 204800, Token: testToken},
		},
		{
			name:   "leading spaces",
			packet: "  U 8080 204800 " + testToken,
			want:   Discovery{Command: "U", StreamPort: 8080, DeclaredSize: 204800, Token: testToken},
		},
		{
			name:   "minimum port",
			packet: "U 80 204800 " + testToken + "00",
			want:   Discovery{Command: "U", StreamPort: 80, DeclaredSize: 204800, Token: testToken + "00"},
		},
		{
			name:   "minimum size",
			packet: "U 8080 1000 " + testToken + "00",
			want:   Discovery{Command: "U", StreamPort: 8080, DeclaredSize: 1000, Token: testToken + "00"},
		},
		{
			name:    "too short",
			packet:  "U 8080 204800 abc",
			wantErr: ErrPacketTooShort,
		},
		{
			name:    "NUL makes packet too short",
			packet:  "U 8080 204800\x00" + testToken,
			wantErr: ErrPacketTooShort,
		},
		{
			name:    "long command",
			packet:  "UP 8080 204800 " + testToken,
			wantErr: ErrInvalidCommand,
		},
		{
			name:    "port below minimum",
			packet:  "U 79 204800 " + testToken + "000",
			wantErr: ErrInvalidPort,
		},
		{
			name:    "port above range",
			packet:  "U 65536 204800 " + testToken,
			wantErr: ErrInvalidPort,
		},
		{
			name:    "port not numeric",
			packet:  "U http 204800 " + testToken,
			wantErr: ErrInvalidPort,
		},
		{
			name:    "size below minimum",
			packet:  "U 8080 999 " + testToken + "00000",
			wantErr: ErrImageTooSmall,
		},
		{
			name:    "size not numeric",
			packet:  "U 8080 big " + testToken + "000000",
			wantErr: ErrMalformedDiscovery,
		},
		{
			name:    "missing size",
			packet:  "U 8080" + "_" + testToken + "000000",
			wantErr: ErrMalformedDiscovery,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDiscovery([]byte(tt.packet), DefaultMinImageSize)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseDiscovery(%q) error = %v, want %v", tt.packet, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDiscovery(%q) error = %v", tt.packet, err)
			}
			if got != tt.want {
				t.Errorf("ParseDiscovery(%q) = %+v, want %+v", tt.packet, got, tt.want)
			}
		})
	}
}

func TestParseDiscoveryLargeImageWithSmallPort(t *testing.T) {
	// A port below the size threshold must not be mistaken for the size.
	d, err := ParseDiscovery([]byte("U 443 204800 "+testToken), DefaultMinImageSize)
	if err != nil {
		t.Fatalf("ParseDiscovery() error = %v", err)
	}
	if d.StreamPort != 443 {
		t.Errorf("StreamPort = %d, want 443", d.StreamPort)
	}
}

func TestDiscoveryString(t *testing.T) {
	d := Discovery{Command: "U", StreamPort: 8080, DeclaredSize: 204800, Token: testToken}
	want := "U 8080 204800 " + testToken
	if got := d.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestSenderIPv4(t *testing.T) {
	tests := []struct {
		name    string
		addr    *net.UDPAddr
		want    string
		wantErr bool
	}{
		{name: "ipv4", addr: &net.UDPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 5000}, want: "192.168.1.20"},
		{name: "ipv6", addr: &net.UDPAddr{IP: net.ParseIP("fe80::1"), Port: 5000}, wantErr: true},
		{name: "nil", addr: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip, err := senderIPv4(tt.addr)
			if tt.wantErr {
				if !errors.Is(err, ErrSenderNotIPv4) {
					t.Errorf("senderIPv4() error = %v, want %v", err, ErrSenderNotIPv4)
				}
				return
			}
			if err != nil {
				t.Fatalf("senderIPv4() error = %v", err)
			}
			if ip.String() != tt.want {
				t.Errorf("senderIPv4() = %s, want %s", ip, tt.want)
			}
		})
	}
}

func TestSessionAccept(t *testing.T) {
	s := newSession(Discovery{StreamPort: 8080, DeclaredSize: 2048}, net.IPv4(10, 0, 0, 5))

	if got := s.StreamAddr(); got != "10.0.0.5:8080" {
		t.Errorf("StreamAddr() = %q, want %q", got, "10.0.0.5:8080")
	}

	if err := s.Accept(1024); err != nil {
		t.Fatalf("Accept(1024) error = %v", err)
	}
	if s.Complete() {
		t.Error("Complete() = true after half the image")
	}
	if err := s.Accept(1025); !errors.Is(err, ErrSizeOverrun) {
		t.Errorf("Accept(1025) error = %v, want %v", err, ErrSizeOverrun)
	}
	if got := s.Received(); got != 1024 {
		t.Errorf("Received() after overrun = %d, want 1024", got)
	}
	if err := s.Accept(1024); err != nil {
		t.Fatalf("Accept(1024) error = %v", err)
	}
	if !s.Complete() {
		t.Error("Complete() = false with declared size received")
	}
	if got := s.Remaining(); got != 0 {
		t.Errorf("Remaining() = %d, want 0", got)
	}
}

func TestSessionFailFlag(t *testing.T) {
	s := newSession(Discovery{DeclaredSize: 1000}, net.IPv4(10, 0, 0, 5))
	if s.Failed() {
		t.Fatal("Failed() = true for new session")
	}
	s.Fail()
	if !s.Failed() {
		t.Error("Failed() = false after Fail()")
	}
}
