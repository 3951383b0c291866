package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/baozi-iot/baozi-node/internal/connectivity"
	"github.com/baozi-iot/baozi-node/internal/infrastructure/config"
	"github.com/baozi-iot/baozi-node/internal/infrastructure/database"
	"github.com/baozi-iot/baozi-node/internal/infrastructure/logging"
	"github.com/baozi-iot/baozi-node/internal/infrastructure/mqtt"
	"github.com/baozi-iot/baozi-node/internal/link"
	"github.com/baozi-iot/baozi-node/internal/metrics"
	"github.com/baozi-iot/baozi-node/internal/settings"
	"github.com/baozi-iot/baozi-node/internal/system"
)

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("BAOZI_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with an invalid config path")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("BAOZI_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("BAOZI_CONFIG", "/etc/baozi/node.yaml")
	if got := getConfigPath(); got != "/etc/baozi/node.yaml" {
		t.Errorf("getConfigPath() = %q, want %q", got, "/etc/baozi/node.yaml")
	}
}

func TestDeviceName(t *testing.T) {
	cfg := config.Default()
	cfg.Device.Name = "kitchen"
	if got := deviceName(cfg); got != "kitchen" {
		t.Errorf("deviceName() = %q, want %q", got, "kitchen")
	}

	cfg.Device.Name = ""
	cfg.Link.Interface = "no-such-interface0"
	if got := deviceName(cfg); got != "baozi-node" {
		t.Errorf("deviceName() = %q, want %q", got, "baozi-node")
	}
}

func TestRetry(t *testing.T) {
	got := retry(config.RetryConfig{Attempts: 15, Interval: 5})
	want := connectivity.Retry{Attempts: 15, Interval: 5 * time.Second}
	if got != want {
		t.Errorf("retry() = %+v, want %+v", got, want)
	}
}

func TestBrokerLocator(t *testing.T) {
	cfg := config.Default().MQTT

	if _, ok := brokerLocator(cfg).(connectivity.MDNSBrowser); !ok {
		t.Errorf("brokerLocator() without host = %T, want MDNSBrowser", brokerLocator(cfg))
	}

	cfg.Broker.Host = "10.0.0.5"
	b, err := brokerLocator(cfg).Locate(context.Background())
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if b.Host != "10.0.0.5" || b.Port != 1883 {
		t.Errorf("Locate() = %+v, want 10.0.0.5:1883", b)
	}
}

func TestStartTelemetry_Disabled(t *testing.T) {
	tel, client := startTelemetry(config.InfluxDBConfig{}, "node", logging.Discard())
	if tel != nil || client != nil {
		t.Errorf("startTelemetry() = %v, %v, want nil, nil", tel, client)
	}
}

func TestObservers_SkipNilTelemetry(t *testing.T) {
	rec := metrics.NewRecorder(prometheus.NewRegistry())

	if got := len(fsmObservers(rec, nil)); got != 1 {
		t.Errorf("len(fsmObservers) = %d, want 1", got)
	}
	if got := len(fotaObservers(rec, nil, nil)); got != 2 {
		t.Errorf("len(fotaObservers) = %d, want 2", got)
	}

	tel := metrics.NewTelemetry(nil)
	if got := len(fsmObservers(rec, tel)); got != 2 {
		t.Errorf("len(fsmObservers) with telemetry = %d, want 2", got)
	}
}

func openTestStore(t *testing.T) *settings.Store {
	t.Helper()
	store, err := settings.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "settings.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("settings.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() }) //nolint:errcheck // Test cleanup
	return store
}

func TestHealthChecks(t *testing.T) {
	store := openTestStore(t)
	var client atomic.Pointer[mqtt.Client]

	health := func() (int, metrics.HealthStatus) {
		srv := metrics.NewServer("127.0.0.1:0", "", prometheus.NewRegistry(), nil,
			healthChecks(store, &client, nil)...)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, metrics.HealthPath, nil))

		var body metrics.HealthStatus
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("health body is not JSON: %v", err)
		}
		return rec.Code, body
	}

	code, body := health()
	if code != http.StatusServiceUnavailable {
		t.Errorf("status code before dial = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if body.Checks["settings"] != "ok" {
		t.Errorf("settings check = %q, want ok", body.Checks["settings"])
	}
	if body.Checks["mqtt"] != mqtt.ErrNotConnected.Error() {
		t.Errorf("mqtt check = %q, want %q", body.Checks["mqtt"], mqtt.ErrNotConnected)
	}
	if _, ok := body.Checks["influxdb"]; ok {
		t.Error("influxdb checked while telemetry is off")
	}

	dial := mqttDialer(config.Default().MQTT, "node", logging.Discard(), &client)
	dial(connectivity.Broker{Host: "127.0.0.1", Port: 1})
	if client.Load() == nil {
		t.Fatal("dialer did not record the client")
	}
	if _, body := health(); body.Checks["mqtt"] != mqtt.ErrNotConnected.Error() {
		t.Errorf("mqtt check for unconnected client = %q, want %q", body.Checks["mqtt"], mqtt.ErrNotConnected)
	}
}

// nullLink ignores every request.
type nullLink struct{}

func (nullLink) SetEventSink(func(link.Event))     {}
func (nullLink) StartAccessPoint(string) error     { return nil }
func (nullLink) StartStation(string, string) error { return nil }
func (nullLink) Associate() error                  { return nil }
func (nullLink) Teardown() error                   { return nil }

func TestRegisterCommands(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if err := store.SaveLinkCredentials(ctx, settings.Credentials{SSID: "net", Password: "pw"}); err != nil {
		t.Fatalf("SaveLinkCredentials() error = %v", err)
	}

	var restarts []string
	restarter := system.RestarterFunc(func(reason string) { restarts = append(restarts, reason) })
	linkManager := link.NewManager(nullLink{}, link.Config{}, restarter)

	topics := mqtt.Topics{Device: "node"}
	r := connectivity.NewCommandRouter(topics, nil)
	registerCommands(ctx, r, linkManager, store, restarter, logging.Discard())

	r.Handle(topics.Command(commandAccessPoint), nil)
	if got := linkManager.State(); got != link.AccessPointMode {
		t.Errorf("link state = %v, want %v", got, link.AccessPointMode)
	}

	r.Handle(topics.Command(commandForgetLink), nil)
	if _, err := store.LinkCredentials(ctx); !errors.Is(err, settings.ErrNotFound) {
		t.Errorf("LinkCredentials() after forget error = %v, want ErrNotFound", err)
	}

	r.Handle(topics.Command(commandRestart), nil)
	if len(restarts) != 1 {
		t.Errorf("restarts = %v, want one", restarts)
	}
}
