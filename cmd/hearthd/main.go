// Hearth Core - Home Automation Hub
//
// This is the main entry point for the Hearth Core daemon. Hearth is a
// local-first home automation hub designed for:
//   - Offline-first operation (no cloud dependency)
//   - Pluggable device integrations (Hue, MiHome)
//   - Declarative capabilities with uniform action dispatch
//   - Voice control over local transcription
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/emberfield/hearth-core/migrations"

	"github.com/emberfield/hearth-core/internal/api"
	"github.com/emberfield/hearth-core/internal/device"
	"github.com/emberfield/hearth-core/internal/dispatch"
	"github.com/emberfield/hearth-core/internal/eventbus"
	"github.com/emberfield/hearth-core/internal/infrastructure/config"
	"github.com/emberfield/hearth-core/internal/infrastructure/database"
	"github.com/emberfield/hearth-core/internal/infrastructure/logging"
	"github.com/emberfield/hearth-core/internal/infrastructure/mqtt"
	"github.com/emberfield/hearth-core/internal/infrastructure/telemetry"
	"github.com/emberfield/hearth-core/internal/plugin"
	"github.com/emberfield/hearth-core/internal/plugins/hue"
	"github.com/emberfield/hearth-core/internal/plugins/mihome"
	"github.com/emberfield/hearth-core/internal/voice"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // wiring is linear but long
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Hearth Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
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

	// Open database
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Event bus: every component publishes here
	bus := eventbus.New(cfg.EventBus.BufferSize)
	defer bus.Close()
	bus.SetLogger(log)

	// Device registry with warm start from the last known inventory.
	// Persisted devices come up offline until their plugin re-confirms them.
	deviceRepo := device.NewSQLiteRepository(db.DB)
	deviceRegistry := device.NewRegistry(deviceRepo)
	deviceRegistry.SetLogger(log)
	deviceRegistry.SetEventPublisher(bus)

	if refreshErr := deviceRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", deviceRegistry.GetDeviceCount())

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		// Mirror bus events onto MQTT for external observers
		relay := eventbus.NewRelay(bus, mqttClient, mqtt.TopicPrefix, byte(cfg.MQTT.QoS))
		relay.SetLogger(log)
		go relay.Run(ctx)
	} else {
		log.Info("MQTT disabled")
	}

	// Plugin registry
	pluginRegistry := plugin.NewRegistry(deviceRegistry, cfg.Plugins.DiscoveryGrace)
	pluginRegistry.SetLogger(log)
	pluginRegistry.SetEventPublisher(bus)

	if regErr := registerPlugins(cfg, pluginRegistry, mqttClient, deviceRegistry, log); regErr != nil {
		return fmt.Errorf("registering plugins: %w", regErr)
	}

	pluginRegistry.InitializeAll(ctx)
	pluginRegistry.StartAll(ctx)
	defer func() {
		log.Info("stopping plugins")
		pluginRegistry.StopAll(context.Background())
	}()

	// Periodic discovery keeps the inventory in sync with reality
	go pluginRegistry.RunDiscovery(ctx, cfg.DiscoveryInterval())

	// Action dispatcher
	dispatcher := dispatch.New(deviceRegistry, pluginRegistry, cfg.ActionTimeout(), cfg.Dispatcher.WakeActions)
	dispatcher.SetLogger(log)
	dispatcher.SetEventPublisher(bus)
	applyPluginTimeouts(cfg, dispatcher)

	// Voice interpreter (optional)
	var interpreter *voice.Interpreter
	if cfg.Voice.Enabled {
		opts := []voice.Option{}
		if cfg.Voice.WakeWordEnabled {
			opts = append(opts, voice.WithWakeWord(cfg.Voice.WakeWord))
		}
		interpreter = voice.New(deviceRegistry, dispatcher, opts...)
		interpreter.SetLogger(log)
		interpreter.SetEventPublisher(bus)
		log.Info("voice interpreter ready",
			"wake_word_enabled", cfg.Voice.WakeWordEnabled,
			"greeting", cfg.Voice.Greeting,
		)
	} else {
		log.Info("voice interpreter disabled")
	}

	// Connect to InfluxDB telemetry (optional)
	var telemetryClient *telemetry.Client
	if cfg.Telemetry.Enabled {
		telemetryClient, err = telemetry.Connect(cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("connecting to telemetry: %w", err)
		}
		defer func() {
			log.Info("closing telemetry connection")
			if closeErr := telemetryClient.Close(); closeErr != nil {
				log.Error("error closing telemetry", "error", closeErr)
			}
		}()
		log.Info("telemetry connected",
			"url", cfg.Telemetry.URL,
			"org", cfg.Telemetry.Org,
			"bucket", cfg.Telemetry.Bucket,
		)

		telemetryClient.SetOnError(func(err error) {
			log.Error("telemetry write error", "error", err)
		})

		// Record numeric state changes from the bus
		recorder := telemetry.NewRecorder(bus, telemetryClient)
		recorder.SetLogger(log)
		go recorder.Run(ctx)
	} else {
		log.Info("telemetry disabled")
	}

	// HTTP API server
	apiDeps := api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log,
		Devices:    deviceRegistry,
		Plugins:    pluginRegistry,
		Dispatcher: dispatcher,
		Bus:        bus,
		Version:    version,
	}
	if interpreter != nil {
		apiDeps.Voice = interpreter
	}
	if telemetryClient != nil {
		apiDeps.History = telemetryClient
	}

	apiServer, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, telemetryClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Telemetry (if enabled)
	// 3. Plugins
	// 4. MQTT (if enabled)
	// 5. Event bus
	// 6. Database

	log.Info("Hearth Core stopped")
	return nil
}

// registerPlugins constructs and registers every plugin named in the
// enabled list, passing each its settings block. Hub-level keys like
// action_timeout are stripped first so they don't trip the plugin's
// config schema.
func registerPlugins(cfg *config.Config, registry *plugin.Registry, mqttClient *mqtt.Client, devices *device.Registry, log *logging.Logger) error {
	for _, name := range cfg.Plugins.Enabled {
		settings := pluginSettings(cfg.Plugins.Settings[name])

		switch name {
		case "hue":
			p := hue.New()
			p.SetLogger(log)
			if err := registry.Register(name, p, settings); err != nil {
				return fmt.Errorf("registering hue: %w", err)
			}

		case "mihome":
			if mqttClient == nil {
				return fmt.Errorf("mihome plugin requires MQTT to be enabled")
			}
			p := mihome.New(mqttClient, devices)
			p.SetLogger(log)
			if err := registry.Register(name, p, settings); err != nil {
				return fmt.Errorf("registering mihome: %w", err)
			}

		default:
			return fmt.Errorf("unknown plugin %q in plugins.enabled", name)
		}

		log.Info("plugin registered", "plugin", name)
	}
	return nil
}

// pluginSettings returns a plugin's settings block minus the hub-level
// keys the dispatcher consumes.
func pluginSettings(settings map[string]any) map[string]any {
	if _, ok := settings["action_timeout"]; !ok {
		return settings
	}
	out := make(map[string]any, len(settings))
	for k, v := range settings {
		if k == "action_timeout" {
			continue
		}
		out[k] = v
	}
	return out
}

// applyPluginTimeouts forwards per-plugin action_timeout settings to
// the dispatcher.
func applyPluginTimeouts(cfg *config.Config, dispatcher *dispatch.Dispatcher) {
	for name, settings := range cfg.Plugins.Settings {
		raw, ok := settings["action_timeout"]
		if !ok {
			continue
		}
		if secs, ok := raw.(int); ok && secs > 0 {
			dispatcher.SetPluginTimeout(name, time.Duration(secs)*time.Second)
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses HEARTH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HEARTH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - telemetryClient: Telemetry client to check (may be nil if disabled)
//   - apiServer: API server to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, telemetryClient *telemetry.Client, apiServer *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if telemetryClient != nil {
		if err := telemetryClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}

	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}
