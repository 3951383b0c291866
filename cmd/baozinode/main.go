// baozi-node is the device daemon.
//
// It brings the link up, connects to the MQTT broker, announces itself and
// listens for firmware updates. A committed update, or a startup step that
// cannot complete, ends the process with the restart exit code so the boot
// supervisor relaunches it from the current boot slot.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/baozi-iot/baozi-node/internal/bus"
	"github.com/baozi-iot/baozi-node/internal/connectivity"
	"github.com/baozi-iot/baozi-node/internal/fota"
	"github.com/baozi-iot/baozi-node/internal/fsm"
	"github.com/baozi-iot/baozi-node/internal/infrastructure/config"
	"github.com/baozi-iot/baozi-node/internal/infrastructure/database"
	"github.com/baozi-iot/baozi-node/internal/infrastructure/influxdb"
	"github.com/baozi-iot/baozi-node/internal/infrastructure/logging"
	"github.com/baozi-iot/baozi-node/internal/infrastructure/mqtt"
	"github.com/baozi-iot/baozi-node/internal/link"
	"github.com/baozi-iot/baozi-node/internal/metrics"
	"github.com/baozi-iot/baozi-node/internal/partition"
	"github.com/baozi-iot/baozi-node/internal/settings"
	"github.com/baozi-iot/baozi-node/internal/system"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// defaultConfigPath is used when BAOZI_CONFIG is unset. A missing file at
// this path falls back to built-in defaults.
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the node and blocks until ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting baozi node",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	restarter := system.NewExitRestarter(log.Component("system"))

	store, err := settings.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening settings: %w", err)
	}
	defer closeStore(store, log)
	restarter.BeforeExit(func() { closeStore(store, log) })

	device := deviceName(cfg)
	log = log.With("device", device)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(reg)

	telemetry, influxClient := startTelemetry(cfg.InfluxDB, device, log)
	if influxClient != nil {
		defer influxClient.Close()
		restarter.BeforeExit(func() { influxClient.Close() })
	}

	machineObserver := fsm.Observers(fsmObservers(recorder, telemetry)...)

	linkManager := link.NewManager(
		link.NewNetifTransport(cfg.Link.Interface, config.Seconds(cfg.Link.PollInterval)),
		link.Config{
			RetryCeiling:    cfg.Link.RetryCeiling,
			AccessPointSSID: cfg.Link.AccessPointSSID,
		},
		restarter,
		fsm.WithLogger(log.Component("fsm")),
		fsm.WithObserver(machineObserver),
	)
	linkManager.SetLogger(log.Component("link"))

	nodeOpts := []connectivity.Option{
		connectivity.WithLogger(log.Component("connectivity")),
		connectivity.WithCredentialStore(store),
		connectivity.WithBusOptions(
			fsm.WithLogger(log.Component("fsm")),
			fsm.WithObserver(machineObserver),
		),
	}
	if cfg.Device.Advertise {
		nodeOpts = append(nodeOpts, connectivity.WithAdvertiser(connectivity.MDNSAdvertiser{
			Service: cfg.Device.Service,
			Domain:  cfg.MQTT.Discovery.Domain,
		}))
	}

	var mqttClient atomic.Pointer[mqtt.Client]
	node := connectivity.New(connectivity.Config{
		DeviceName:  device,
		SSID:        cfg.Link.SSID,
		Password:    cfg.Link.Password,
		LinkWait:    retry(cfg.Link.Wait),
		BrokerRetry: retry(cfg.MQTT.Discovery.Retry),
		BusWait:     retry(cfg.MQTT.Wait),
		OTAPort:     cfg.OTA.Port,
		Version:     version,
	}, linkManager, brokerLocator(cfg.MQTT), mqttDialer(cfg.MQTT, device, log, &mqttClient), nodeOpts...)
	defer node.Close()

	commands := connectivity.NewCommandRouter(node.Topics(), log.Component("commands"))
	registerCommands(ctx, commands, linkManager, store, restarter, log)
	if err := commands.Install(node); err != nil {
		return fmt.Errorf("installing command handler: %w", err)
	}

	errCh := make(chan error, 2)

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path, reg, log.Component("metrics"),
			healthChecks(store, &mqttClient, influxClient)...)
		go func() {
			if err := srv.Serve(ctx); err != nil {
				log.Error("metrics endpoint stopped", "error", err)
			}
		}()
	}

	if cfg.OTA.Enabled {
		handler, err := newUpdateHandler(ctx, cfg, store, restarter, log,
			fota.Observers(fotaObservers(recorder, telemetry,
				connectivity.NewOTAReporter(node, node.Topics(), log.Component("ota")))...),
			machineObserver,
		)
		if err != nil {
			return err
		}
		go func() { errCh <- handler.Run(ctx) }()
	}

	go func() {
		err := node.Start(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
		case errors.Is(err, connectivity.ErrNoCredentials):
			log.Warn("no link credentials, waiting in access point mode")
		default:
			log.Error("startup failed", "error", err)
			restarter.Restart("startup failed: " + err.Error())
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("update handler: %w", err)
		}
		return nil
	}
}

// getConfigPath returns BAOZI_CONFIG or the default path.
func getConfigPath() string {
	if path := os.Getenv("BAOZI_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig loads the configuration file. Only a missing default file is
// tolerated.
func loadConfig() (*config.Config, error) {
	path := getConfigPath()
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path == defaultConfigPath && errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
		return cfg, cfg.Validate()
	}
	return nil, err
}

func closeStore(store *settings.Store, log *logging.Logger) {
	if err := store.Close(); err != nil {
		log.Error("error closing settings", "error", err)
	}
}

// deviceName returns the configured name or derives one from the link
// interface's hardware address.
func deviceName(cfg *config.Config) string {
	if cfg.Device.Name != "" {
		return cfg.Device.Name
	}
	mac, err := link.HardwareAddr(cfg.Link.Interface)
	if err != nil {
		return connectivity.DeviceName(nil)
	}
	return connectivity.DeviceName(mac)
}

func retry(r config.RetryConfig) connectivity.Retry {
	return connectivity.Retry{Attempts: r.Attempts, Interval: config.Seconds(r.Interval)}
}

// brokerLocator uses the configured host, or browses mDNS when none is set.
func brokerLocator(cfg config.MQTTConfig) connectivity.BrokerLocator {
	if cfg.Broker.Host != "" {
		return connectivity.StaticBroker{Host: cfg.Broker.Host, Port: cfg.Broker.Port}
	}
	return connectivity.MDNSBrowser{
		Service: cfg.Discovery.Service,
		Domain:  cfg.Discovery.Domain,
		Timeout: config.Seconds(cfg.Discovery.Timeout),
	}
}

// mqttDialer builds an MQTT transport for a located broker and keeps the
// latest one in current for health checks.
func mqttDialer(cfg config.MQTTConfig, device string, log *logging.Logger, current *atomic.Pointer[mqtt.Client]) connectivity.Dialer {
	return func(b connectivity.Broker) bus.Transport {
		c := cfg
		c.Broker.Host = b.Host
		c.Broker.Port = b.Port
		client := mqtt.New(c, mqtt.Topics{Device: device})
		client.SetLogger(log.Component("mqtt"))
		current.Store(client)
		return client
	}
}

// healthChecks lists the dependencies reported on the health route.
// InfluxDB is checked only when telemetry is connected.
func healthChecks(store *settings.Store, client *atomic.Pointer[mqtt.Client], influx *influxdb.Client) []metrics.ServerOption {
	opts := []metrics.ServerOption{
		metrics.WithVersion(version),
		metrics.WithHealthCheck("settings", store.HealthCheck),
		metrics.WithHealthCheck("mqtt", func(ctx context.Context) error {
			c := client.Load()
			if c == nil {
				return mqtt.ErrNotConnected
			}
			return c.HealthCheck(ctx)
		}),
	}
	if influx != nil {
		opts = append(opts, metrics.WithHealthCheck("influxdb", influx.HealthCheck))
	}
	return opts
}

// Command names accepted on <device>/command/<name>.
const (
	commandRestart     = "restart"
	commandAccessPoint = "access-point"
	commandForgetLink  = "forget-link"
)

// registerCommands installs the operator commands.
func registerCommands(
	ctx context.Context,
	r *connectivity.CommandRouter,
	linkManager *link.Manager,
	store *settings.Store,
	restarter system.Restarter,
	log *logging.Logger,
) {
	r.Register(commandRestart, func([]byte) {
		restarter.Restart("restart requested over mqtt")
	})
	r.Register(commandAccessPoint, func([]byte) {
		linkManager.SwitchToAccessPoint()
	})
	r.Register(commandForgetLink, func([]byte) {
		if err := store.ForgetLinkCredentials(ctx); err != nil {
			log.Error("forgetting link credentials failed", "error", err)
			return
		}
		linkManager.Reset()
	})
}

// startTelemetry connects to InfluxDB when enabled. Failure to connect is
// logged and telemetry stays off.
func startTelemetry(cfg config.InfluxDBConfig, device string, log *logging.Logger) (*metrics.Telemetry, *influxdb.Client) {
	if !cfg.Enabled {
		return nil, nil
	}
	client, err := influxdb.Connect(cfg, device)
	if err != nil {
		log.Warn("telemetry disabled", "error", err)
		return nil, nil
	}
	client.SetOnError(func(err error) {
		log.Warn("telemetry write failed", "error", err)
	})
	log.Info("telemetry connected", "url", cfg.URL, "bucket", cfg.Bucket)
	return metrics.NewTelemetry(client), client
}

func fsmObservers(recorder *metrics.Recorder, telemetry *metrics.Telemetry) []fsm.Observer {
	observers := []fsm.Observer{recorder}
	if telemetry != nil {
		observers = append(observers, telemetry)
	}
	return observers
}

func fotaObservers(recorder *metrics.Recorder, telemetry *metrics.Telemetry, reporter *connectivity.OTAReporter) []fota.Observer {
	observers := []fota.Observer{recorder, reporter}
	if telemetry != nil {
		observers = append(observers, telemetry)
	}
	return observers
}

// newUpdateHandler opens the slot pair and builds the firmware update
// handler on top of it.
func newUpdateHandler(
	ctx context.Context,
	cfg *config.Config,
	store *settings.Store,
	restarter system.Restarter,
	log *logging.Logger,
	observer fota.Observer,
	lifecycle fsm.Observer,
) (*fota.Handler, error) {
	slots, err := partition.New(ctx, cfg.OTA.SlotsDir, store,
		partition.WithLogger(log.Component("partition")),
		partition.WithFactoryImage(cfg.Boot.FactoryImage),
	)
	if err != nil {
		return nil, fmt.Errorf("opening update slots: %w", err)
	}

	return fota.NewHandler(fota.Config{
		ListenAddr:      ":" + strconv.Itoa(cfg.OTA.Port),
		ChunkSize:       cfg.OTA.ChunkSize,
		MinImageSize:    cfg.OTA.MinImageSize,
		WatchdogTimeout: config.Seconds(cfg.OTA.WatchdogTimeout),
		RebootDelay:     config.Seconds(cfg.OTA.RebootDelay),
	}, slots, restarter,
		fota.WithLogger(log.Component("ota")),
		fota.WithObserver(observer),
		fota.WithLifecycleObserver(lifecycle),
	), nil
}
