// LightLink - MQTT-driven light controller
//
// LightLink keeps one MQTT broker session alive, holds a single
// subscription and drives a binary actuator from the "lights_state" field
// of incoming JSON messages. Dispatch outcomes are journalled to SQLite,
// optionally exported to InfluxDB, and exposed on a read-only diagnostics
// API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/lightlink/internal/actuator"
	"github.com/nerrad567/lightlink/internal/api"
	"github.com/nerrad567/lightlink/internal/controller"
	"github.com/nerrad567/lightlink/internal/infrastructure/config"
	"github.com/nerrad567/lightlink/internal/infrastructure/database"
	"github.com/nerrad567/lightlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/lightlink/internal/infrastructure/logging"
	"github.com/nerrad567/lightlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/lightlink/internal/infrastructure/network"
	"github.com/nerrad567/lightlink/internal/journal"
	"github.com/nerrad567/lightlink/migrations"
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

// configEnvVar overrides the configuration file path.
const configEnvVar = "LIGHTLINK_CONFIG"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks in the control loop until ctx is
// cancelled. Only configuration and wiring failures are returned.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting LightLink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath, explicit := getConfigPath()
	cfg, err := config.Load(configPath, !explicit)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version).With("device_id", cfg.Device.ID)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Network first: the broker is unreachable without an address.
	lease, err := network.Bringup(ctx, cfg.Network, log)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("bringing up network: %w", err)
	}

	driver, err := actuator.New(cfg.Actuator, log)
	if err != nil {
		return fmt.Errorf("creating actuator: %w", err)
	}
	initial, err := actuator.ParseState(cfg.Actuator.InitialState)
	if err != nil {
		return fmt.Errorf("parsing initial state: %w", err)
	}

	transport := newTransport(cfg.MQTT, lease.Dialer(cfg.Network.BindLocal))
	transport.SetLogger(log)
	defer func() {
		log.Info("disconnecting from MQTT")
		transport.Disconnect()
	}()

	ctrl := controller.New(controller.Config{
		ClientID:     cfg.MQTT.Broker.ClientID,
		CommandTopic: cfg.MQTT.Topics.Command,
		StateTopic:   cfg.MQTT.StateTopic(),
		StatusTopic:  cfg.MQTT.StatusTopic(),
		Backoff:      cfg.MQTT.Reconnect.Backoff,
		MaxPayload:   cfg.MQTT.MaxPayload,
	}, transport, driver, initial)
	ctrl.SetLogger(log)

	if err := ctrl.Prime(ctx); err != nil {
		return fmt.Errorf("initialising actuator: %w", err)
	}

	checks := map[string]api.HealthChecker{"mqtt": transport}

	var repo journal.Repository
	if cfg.Database.Enabled {
		db, err := database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		if err := db.Migrate(ctx, migrations.FS, migrations.Dir); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		log.Info("database ready", "path", db.Path())

		sqliteRepo := journal.NewSQLiteRepository(db.DB)
		repo = sqliteRepo
		ctrl.AddObserver(newJournalObserver(repo, log))
		checks["database"] = db

		if cfg.Journal.Retention > 0 {
			pruneCtx, stopPrune := context.WithCancel(ctx)
			pruneDone := make(chan struct{})
			go func() {
				defer close(pruneDone)
				journal.RunRetention(pruneCtx, sqliteRepo, cfg.Journal.Retention, cfg.Journal.PruneInterval, log)
			}()
			// Runs before the database close above.
			defer func() {
				stopPrune()
				<-pruneDone
			}()
		}
	} else {
		log.Info("command journal disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			// Telemetry is optional; the light still works without it.
			log.Warn("InfluxDB unavailable, telemetry disabled", "error", err)
		} else {
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			ctrl.AddObserver(newTelemetryObserver(influxClient, cfg.Device.ID))
			checks["influxdb"] = influxClient
			log.Info("InfluxDB connected",
				"url", cfg.InfluxDB.URL,
				"org", cfg.InfluxDB.Org,
				"bucket", cfg.InfluxDB.Bucket,
			)
		}
	} else {
		log.Info("InfluxDB disabled")
	}

	if cfg.API.Enabled {
		srv, err := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log,
			State:    ctrl,
			Journal:  repo,
			Checks:   checks,
			DeviceID: cfg.Device.ID,
			Version:  version,

			ReadTimeout:  cfg.GetReadTimeout(),
			WriteTimeout: cfg.GetWriteTimeout(),
			IdleTimeout:  cfg.GetIdleTimeout(),
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		ctrl.AddObserver(srv.Hub())
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete",
		"broker", brokerAddress(cfg.MQTT),
		"protocol", cfg.MQTT.Protocol,
		"topic", cfg.MQTT.Topics.Command,
		"address", lease.Address.String(),
	)

	// Run returns only on cancellation. Deferred closes then run in
	// reverse order: API, InfluxDB, database, MQTT.
	if err := ctrl.Run(ctx); err != nil {
		return fmt.Errorf("control loop: %w", err)
	}

	log.Info("LightLink stopped")
	return nil
}

// getConfigPath returns the configuration file path and whether it was
// set explicitly through LIGHTLINK_CONFIG.
func getConfigPath() (string, bool) {
	if path := os.Getenv(configEnvVar); path != "" {
		return path, true
	}
	return defaultConfigPath, false
}

// brokerTransport is the session used by the loop plus the lifecycle
// hooks main needs.
type brokerTransport interface {
	controller.Transport
	SetLogger(logger mqtt.Logger)
	HealthCheck(ctx context.Context) error
}

// newTransport selects the client for the configured protocol version.
func newTransport(cfg config.MQTTConfig, dialer *net.Dialer) brokerTransport {
	if cfg.Protocol == config.ProtocolV5 {
		return mqtt.NewV5(cfg, dialer)
	}
	return mqtt.New(cfg, dialer)
}

func brokerAddress(cfg config.MQTTConfig) string {
	return net.JoinHostPort(cfg.Broker.Host, fmt.Sprint(cfg.Broker.Port))
}
