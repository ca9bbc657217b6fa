// Hearth Core - Home Automation Gateway
//
// This is the main entry point for the Hearth Core gateway. Hearth owns
// the device command dispatch and status lifecycle for a single site:
//   - Offline-first operation (no cloud dependency)
//   - Write-behind SQLite persistence with restart recovery
//   - In-process typed event bus for protocol bridges
//   - Optional MQTT mirror and InfluxDB statistics
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/hearthworks/hearth-core/migrations"

	"github.com/hearthworks/hearth-core/internal/commands"
	"github.com/hearthworks/hearth-core/internal/device"
	"github.com/hearthworks/hearth-core/internal/events"
	"github.com/hearthworks/hearth-core/internal/infrastructure/config"
	"github.com/hearthworks/hearth-core/internal/infrastructure/database"
	"github.com/hearthworks/hearth-core/internal/infrastructure/logging"
	"github.com/hearthworks/hearth-core/internal/infrastructure/mqtt"
	"github.com/hearthworks/hearth-core/internal/infrastructure/stats"
	"github.com/hearthworks/hearth-core/internal/platform"
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
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
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
func run(ctx context.Context) error {
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
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB statistics (optional)
	var collector *stats.Collector
	statsClient, err := stats.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, stats.ErrDisabled):
		log.Info("statistics disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := statsClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		statsClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		collector = stats.NewCollector(statsClient)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	// Load the command catalog
	catalog, err := commands.NewRepository(db).LoadCatalog(ctx, cfg.Devices.FuzzyLimiter)
	if err != nil {
		return fmt.Errorf("loading command catalog: %w", err)
	}
	log.Info("command catalog loaded", "commands", catalog.Len())

	// Platform capability table and event bus
	platforms := platform.NewRegistry(platform.Defaults())
	bus := events.NewBus()
	bus.SetLogger(log)

	// Device persistence: repository plus write-behind flusher
	deviceRepo := device.NewRepository(db)
	flusher := device.NewFlusher(deviceRepo,
		cfg.Devices.FlushIntervalDuration(), cfg.Devices.FlushBatchSize, log)

	// Optional MQTT status mirror, wired before the registry so every
	// device picks it up
	var publisher device.SnapshotPublisher
	if mqttClient != nil {
		publisher = &statusPublisher{client: mqttClient}
	}

	deps := device.Deps{
		Catalog:         catalog,
		Platforms:       platforms,
		Bus:             bus,
		Flush:           flusher,
		Stats:           collector,
		Publisher:       publisher,
		Logger:          log,
		DefaultMaxDelay: cfg.Devices.DefaultMaxDelayDuration(),
		CommandRingSize: cfg.Devices.CommandHistorySize,
		StatusRingSize:  cfg.Devices.StatusHistorySize,
	}

	registry := device.NewRegistry(deviceRepo, deps, cfg.Devices.FuzzyLimiter)
	flusher.SetOnCommandsFlushed(registry.MarkCommandsPersisted)
	flusher.Start()
	defer func() {
		log.Info("draining flusher")
		flusher.Close()
	}()

	if loadErr := registry.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading device registry: %w", loadErr)
	}
	log.Info("device registry initialised", "devices", registry.Count())

	// Replay persisted non-terminal commands from before the restart
	if recoverErr := registry.Recover(ctx); recoverErr != nil {
		return fmt.Errorf("recovering commands: %w", recoverErr)
	}
	log.Info("command recovery complete")

	// Wire the MQTT surfaces: inbound status injection and outbound
	// command lifecycle mirror
	if mqttClient != nil {
		if subErr := subscribeSetStatus(mqttClient, registry, log); subErr != nil {
			return fmt.Errorf("subscribing to set_status: %w", subErr)
		}
		if mirErr := mirrorCommandStatus(bus, mqttClient, registry, log); mirErr != nil {
			return fmt.Errorf("wiring command status mirror: %w", mirErr)
		}
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, statsClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Flusher drain (last writes reach SQLite)
	// 2. InfluxDB (if enabled)
	// 3. MQTT (offline status via clean disconnect)
	// 4. Database

	log.Info("Hearth Core stopped")
	return nil
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
//   - statsClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, statsClient *stats.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if statsClient != nil {
		if err := statsClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// statusPublisher adapts the infrastructure MQTT client to the device
// engine's SnapshotPublisher interface. Snapshots are retained so late
// subscribers see the current state immediately.
type statusPublisher struct {
	client *mqtt.Client
	topics mqtt.Topics
}

// PublishStatus implements device.SnapshotPublisher.
func (p *statusPublisher) PublishStatus(deviceLabel string, payload []byte) error {
	return p.client.PublishRetained(p.topics.DeviceStatus(deviceLabel), payload)
}

// setStatusMessage is the JSON payload accepted on the per-device
// set_status topic.
type setStatusMessage struct {
	MachineStatus      float64        `json:"machine_status"`
	MachineStatusExtra string         `json:"machine_status_extra,omitempty"`
	Aux                map[string]any `json:"aux,omitempty"`
	HumanStatus        string         `json:"human_status,omitempty"`
	HumanMessage       string         `json:"human_message,omitempty"`
	RequestID          string         `json:"request_id,omitempty"`
	EnergyUsage        float64        `json:"energy_usage,omitempty"`
	ReportedBy         string         `json:"reported_by,omitempty"`
	Force              bool           `json:"force,omitempty"`
}

func (m setStatusMessage) toUpdate() device.StatusUpdate {
	return device.StatusUpdate{
		MachineStatus:      m.MachineStatus,
		MachineStatusExtra: m.MachineStatusExtra,
		Aux:                m.Aux,
		HumanStatus:        m.HumanStatus,
		HumanMessage:       m.HumanMessage,
		RequestID:          m.RequestID,
		EnergyUsage:        m.EnergyUsage,
		ReportedBy:         m.ReportedBy,
		Force:              m.Force,
	}
}

// subscribeSetStatus routes external status reports from MQTT into the
// device status engine. Producers (protocol bridges running out of
// process, test harnesses) publish to hearth/devices/{label}/set_status.
//
// Parameters:
//   - client: Connected MQTT client
//   - registry: Device registry for routing by machine label
//   - log: Logger instance
//
// Returns:
//   - error: If the subscription cannot be established
func subscribeSetStatus(client *mqtt.Client, registry *device.Registry, log *logging.Logger) error {
	topics := mqtt.Topics{}
	return client.Subscribe(topics.AllDeviceSetStatus(), 1, func(topic string, payload []byte) error {
		label, ok := deviceLabelFromTopic(topic)
		if !ok {
			return fmt.Errorf("unroutable topic %q", topic)
		}

		var msg setStatusMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("parsing set_status payload for %q: %w", label, err)
		}

		upd := msg.toUpdate()
		if upd.ReportedBy == "" {
			upd.ReportedBy = "mqtt"
		}

		if _, err := registry.SetStatus(context.Background(), label, upd); err != nil {
			return fmt.Errorf("applying status for %q: %w", label, err)
		}

		log.Debug("status injected via MQTT", "device", label)
		return nil
	})
}

// commandStatusMessage is the JSON payload mirrored on the per-device
// command_status topic for every lifecycle transition.
type commandStatusMessage struct {
	RequestID string `json:"request_id"`
	CommandID string `json:"command_id"`
	Previous  string `json:"previous"`
	Status    string `json:"status"`
}

// mirrorCommandStatus republishes command lifecycle transitions to MQTT.
// The mirror is purely observational: it never acknowledges events, so it
// cannot advance a command to received.
//
// Parameters:
//   - bus: Event bus carrying command.status_changed events
//   - client: Connected MQTT client
//   - registry: Device registry for resolving machine labels
//   - log: Logger instance
//
// Returns:
//   - error: If the bus subscription is rejected
func mirrorCommandStatus(bus *events.Bus, client *mqtt.Client, registry *device.Registry, log *logging.Logger) error {
	topics := mqtt.Topics{}
	return bus.Subscribe("mqtt-command-mirror", []events.Kind{events.KindCommandStatusChanged},
		func(ctx context.Context, ev events.Event) events.Result {
			change, ok := ev.Payload.(*device.CommandChange)
			if !ok {
				return events.Result{}
			}

			dev, err := registry.Get(ev.DeviceID)
			if err != nil {
				return events.Result{}
			}

			payload, err := json.Marshal(commandStatusMessage{
				RequestID: change.Command.RequestID,
				CommandID: change.Command.Command.ID,
				Previous:  string(change.Previous),
				Status:    string(change.Next),
			})
			if err != nil {
				return events.Result{Err: err}
			}

			if err := client.Publish(topics.DeviceCommandStatus(dev.MachineLabel), payload, 1, false); err != nil {
				log.Warn("command status mirror publish failed",
					"device", dev.MachineLabel,
					"request_id", change.Command.RequestID,
					"error", err,
				)
			}
			return events.Result{}
		})
}

// deviceLabelFromTopic extracts the machine label from a device topic.
// Topics follow hearth/devices/{label}/{suffix}.
func deviceLabelFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "hearth" || parts[1] != "devices" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}
