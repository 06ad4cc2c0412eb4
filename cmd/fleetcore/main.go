// fleetcore - IoT fleet automation engine
//
// This is the main entry point for the fleetcore daemon. fleetcore ingests
// device telemetry over MQTT, evaluates automation rules against it, and
// dispatches actions (device commands, scene activations, notifications)
// with retries and an audit trail. A REST API and WebSocket feed expose
// rule, device, and scene management.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/stokeworth/fleetcore/migrations"

	"github.com/stokeworth/fleetcore/internal/api"
	"github.com/stokeworth/fleetcore/internal/audit"
	"github.com/stokeworth/fleetcore/internal/command"
	"github.com/stokeworth/fleetcore/internal/device"
	"github.com/stokeworth/fleetcore/internal/infrastructure/config"
	"github.com/stokeworth/fleetcore/internal/infrastructure/database"
	"github.com/stokeworth/fleetcore/internal/infrastructure/logging"
	"github.com/stokeworth/fleetcore/internal/infrastructure/mqtt"
	"github.com/stokeworth/fleetcore/internal/infrastructure/tsdb"
	"github.com/stokeworth/fleetcore/internal/notify"
	"github.com/stokeworth/fleetcore/internal/rule"
	"github.com/stokeworth/fleetcore/internal/scene"
	"github.com/stokeworth/fleetcore/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting fleetcore",
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

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database and run migrations
	db, err := database.Open(database.Config{
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Repositories and caches
	deviceRepo := device.NewSQLiteRepository(db.DB)
	devices := device.NewRegistry(deviceRepo)
	devices.SetLogger(log)
	if refreshErr := devices.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", devices.DeviceCount())

	ruleRepo := rule.NewSQLiteRepository(db.DB)
	rules := rule.NewStore(ruleRepo, rule.NewIndex())
	rules.SetLogger(log)
	if refreshErr := rules.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading rule store: %w", refreshErr)
	}
	log.Info("rule store initialised", "rules", rules.RuleCount())

	sceneRepo := scene.NewSQLiteRepository(db.DB)
	scenes := scene.NewRegistry(sceneRepo)
	scenes.SetLogger(log)
	if refreshErr := scenes.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading scene registry: %w", refreshErr)
	}
	log.Info("scene registry initialised", "scenes", scenes.SceneCount())

	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, log)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var historyClient *tsdb.Client
	if cfg.History.Enabled {
		historyClient, err = tsdb.Connect(cfg.History)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := historyClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.History.URL,
			"org", cfg.History.Org,
			"bucket", cfg.History.Bucket,
		)
		historyClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("telemetry history disabled")
	}

	// WebSocket hub, shared by the engine and the API server
	hub := api.NewHub(cfg.WebSocket, log)
	hubCtx, hubCancel := context.WithCancel(ctx)
	defer hubCancel()
	go hub.Run(hubCtx)

	// Engine collaborators
	notifier := notify.New(cfg.Notify, log)
	commands := command.NewChannel(devices, mqttClient, log)
	sceneEngine := scene.NewEngine(scenes, commands, hub, sceneRepo, log)

	dispatcher := rule.NewDispatcher(notifier, commands, sceneEngine, recorder, rule.DispatcherConfig{
		MaxAttempts:    cfg.Engine.MaxAttempts,
		RetryBackoff:   cfg.Engine.RetryBackoff(),
		AttemptTimeout: cfg.Engine.AttemptTimeoutDuration(),
	}, log)

	coordinator := rule.NewCoordinator(rules, dispatcher, ruleRepo, hub, recorder, rule.CoordinatorConfig{
		AutoDisableThreshold: cfg.Engine.AutoDisableThreshold,
	}, log)
	if historyClient != nil {
		coordinator.SetHistory(historyClient)
	}

	// Telemetry ingestion drives the coordinator
	var historyWriter telemetry.HistoryWriter
	if historyClient != nil {
		historyWriter = historyClient
	}
	ingestor := telemetry.NewIngestor(mqttClient, devices, coordinator, historyWriter, log)
	if startErr := ingestor.Start(); startErr != nil {
		return fmt.Errorf("starting telemetry ingestor: %w", startErr)
	}
	defer func() {
		log.Info("stopping telemetry ingestor")
		if closeErr := ingestor.Close(); closeErr != nil {
			log.Error("error closing ingestor", "error", closeErr)
		}
	}()
	log.Info("telemetry ingestor started")

	// REST API and WebSocket server
	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		Rules:       rules,
		RuleRepo:    ruleRepo,
		Devices:     devices,
		Scenes:      scenes,
		SceneEngine: sceneEngine,
		SceneRepo:   sceneRepo,
		AuditRepo:   auditRepo,
		Audit:       recorder,
		MQTT:        mqttClient,
		History:     healthCheckerOrNil(historyClient),
		ExternalHub: hub,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, historyClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, telemetry ingestor, InfluxDB (if enabled), MQTT, database.

	log.Info("fleetcore stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FLEETCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FLEETCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheckerOrNil avoids wrapping a nil *tsdb.Client in a non-nil
// interface value, which would make the /health probe call through it.
func healthCheckerOrNil(c *tsdb.Client) api.HealthChecker {
	if c == nil {
		return nil
	}
	return c
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, historyClient *tsdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if historyClient != nil {
		if err := historyClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
