// drivelink keeps a USB motor controller connected.
//
// It owns the device connection, probes it, reconnects after unplugs and
// reboots, and exposes the device over a local HTTP/WebSocket API. Connection
// events are journalled to SQLite and optionally mirrored to MQTT and InfluxDB.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/drivelink/internal/api"
	"github.com/nerrad567/drivelink/internal/command"
	"github.com/nerrad567/drivelink/internal/connection"
	"github.com/nerrad567/drivelink/internal/driver"
	"github.com/nerrad567/drivelink/internal/driver/sim"
	"github.com/nerrad567/drivelink/internal/infrastructure/config"
	"github.com/nerrad567/drivelink/internal/infrastructure/database"
	"github.com/nerrad567/drivelink/internal/infrastructure/influxdb"
	"github.com/nerrad567/drivelink/internal/infrastructure/logging"
	"github.com/nerrad567/drivelink/internal/infrastructure/mqtt"
	"github.com/nerrad567/drivelink/internal/journal"
	"github.com/nerrad567/drivelink/internal/usbreset"
	"github.com/nerrad567/drivelink/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// retentionInterval is how often old journal entries are pruned.
const retentionInterval = time.Hour

// errNoDriver is returned when no device transport can be built.
var errNoDriver = errors.New("no native device driver is linked into this build; set dev.simulate to use the simulator")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting drivelink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Refuse early, before anything is opened.
	drv, err := buildDriver(cfg, log)
	if err != nil {
		return err
	}

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	repo := journal.NewRepository(db.DB, log.Component("journal"))

	mgr := connection.NewManager(connectionConfig(cfg.Device), drv)
	mgr.SetLogger(log.Component("connection"))
	defer func() {
		log.Info("stopping connection manager")
		mgr.Close()
	}()
	mgr.AddSink(repo)

	if cfg.Device.USBReset.Enabled {
		resetter, resetErr := usbreset.New(usbreset.Config{
			VendorID:  cfg.Device.USBReset.VendorID,
			ProductID: cfg.Device.USBReset.ProductID,
		})
		if resetErr != nil {
			return fmt.Errorf("configuring usb reset: %w", resetErr)
		}
		resetter.SetLogger(log.Component("usbreset"))
		mgr.SetRecoverer(resetter)
		log.Info("usb reset recovery enabled",
			"device", resetter.Device(),
			"after_attempts", cfg.Device.USBReset.AfterAttempts,
		)
	}

	executor := command.NewExecutor(mgr)
	executor.SetLogger(log.Component("command"))

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		var bridge *mqtt.CommandBridge
		mqttClient, bridge, err = startMQTT(ctx, cfg, mgr, executor, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if stopErr := bridge.Stop(); stopErr != nil {
				log.Warn("error stopping MQTT command bridge", "error", stopErr)
			}
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		mgr.AddSink(influxClient)
		mgr.SetProbeObserver(influxClient.ObserveProbe)
	} else {
		log.Info("InfluxDB disabled")
	}

	srv, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log.Component("api"),
		Manager:  mgr,
		Executor: executor,
		Journal:  repo,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	mgr.AddSink(srv.Hub())

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	retentionDone := make(chan struct{})
	if cfg.Database.Retention > 0 {
		go func() {
			defer close(retentionDone)
			runRetention(ctx, repo, cfg.Database.Retention, retentionInterval, log.Component("retention"))
		}()
	} else {
		close(retentionDone)
		log.Info("journal retention disabled")
	}

	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		//nolint:errcheck // Run only returns when ctx is cancelled
		mgr.Run(ctx)
	}()

	log.Info("initialisation complete, waiting for shutdown signal",
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"poll_interval", cfg.Device.PollInterval,
	)

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	<-watchdogDone
	<-retentionDone

	log.Info("drivelink stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses DRIVELINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DRIVELINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectionConfig maps the device section onto the manager's settings.
// Scan and return-wait timeouts keep their package defaults.
func connectionConfig(dc config.DeviceConfig) connection.Config {
	cc := connection.DefaultConfig()
	cc.ProbeProperty = dc.ProbeProperty
	cc.ConnectTimeout = dc.ConnectTimeout
	cc.ReconnectTimeout = dc.ReconnectTimeout
	cc.RebootReconnectTimeout = dc.RebootReconnectTimeout
	cc.RebootGracePeriod = dc.RebootGracePeriod
	cc.RebootCheckGrace = dc.RebootCheckGrace
	cc.RetryDelay = dc.RetryDelay
	cc.RebootRetryDelay = dc.RebootRetryDelay
	cc.MaxReconnectAttempts = dc.MaxReconnectAttempts
	cc.PollInterval = dc.PollInterval
	if dc.USBReset.Enabled {
		cc.RecoveryAfterAttempts = dc.USBReset.AfterAttempts
	}
	return cc
}

// buildDriver returns the device transport. Only the simulator is linked.
func buildDriver(cfg *config.Config, log *logging.Logger) (driver.Driver, error) {
	if !cfg.Dev.Simulate {
		return nil, errNoDriver
	}

	bus := sim.NewBus(sim.Options{BootDelay: cfg.Dev.BootDelay})
	for _, serial := range cfg.Dev.Serials {
		bus.Plug(driver.Identity(serial))
	}
	log.Warn("using simulated device bus",
		"devices", len(cfg.Dev.Serials),
		"boot_delay", cfg.Dev.BootDelay,
	)
	return bus, nil
}

// startMQTT connects to the broker and wires event publishing and the
// command topic. The caller stops the bridge before closing the client.
func startMQTT(ctx context.Context, cfg *config.Config, mgr *connection.Manager, executor *command.Executor, log *logging.Logger) (*mqtt.Client, *mqtt.CommandBridge, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttLog := log.Component("mqtt")
	client.SetLogger(mqttLog)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	qos := byte(cfg.MQTT.QoS)
	mgr.AddSink(mqtt.NewEventPublisher(client, qos, mqttLog))

	bridge := mqtt.NewCommandBridge(client, executor, qos, mqttLog)
	if err := bridge.Start(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("starting MQTT command bridge: %w", err)
	}
	return client, bridge, nil
}

// pruner deletes journal entries older than a cutoff.
type pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// runRetention prunes once at startup and then every interval until ctx
// is cancelled. Failures are logged and retried on the next tick.
func runRetention(ctx context.Context, p pruner, retention, interval time.Duration, log *logging.Logger) {
	prune := func() {
		n, err := p.Prune(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("pruning journal failed", "error", err)
			}
			return
		}
		if n > 0 {
			log.Info("pruned journal", "deleted", n, "retention", retention)
		}
	}

	prune()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// Clients that are disabled are nil and skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
