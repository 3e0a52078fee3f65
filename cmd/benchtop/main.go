// Benchtop Core - bench instrument coordinator
//
// This is the main entry point for the Benchtop Core service. It opens one
// session per bench instrument (power supply, meter, function generator,
// oscilloscope), polls telemetry, serialises user commands from HTTP and
// MQTT onto the shared bus, and leaves every output off on shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/benchtop-core/migrations"

	"github.com/nerrad567/benchtop-core/internal/api"
	"github.com/nerrad567/benchtop-core/internal/bench"
	"github.com/nerrad567/benchtop-core/internal/discovery"
	"github.com/nerrad567/benchtop-core/internal/infrastructure/config"
	"github.com/nerrad567/benchtop-core/internal/infrastructure/database"
	"github.com/nerrad567/benchtop-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/benchtop-core/internal/infrastructure/logging"
	"github.com/nerrad567/benchtop-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/benchtop-core/internal/instrument"
	"github.com/nerrad567/benchtop-core/internal/telemetry"
	"github.com/nerrad567/benchtop-core/internal/transport"
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

// startupTimeout bounds instrument discovery, initialization and the
// startup sequences.
const startupTimeout = 60 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Benchtop Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"site", cfg.Site.ID,
		"level", cfg.Logging.Level,
	)

	// Readings log
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
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	mqttClient := connectMQTT(cfg, log)
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Instrument layer
	manager := transport.NewManager(serialConfig(cfg.Serial))
	manager.SetLogger(log.Component("transport"))

	registry := instrument.NewRegistry(manager, instrument.WithSessionTimeout(cfg.Bench.SessionTimeout))
	registry.SetLogger(log.Component("registry"))

	router := instrument.NewRouter(registry, instrument.NewGate())
	router.SetLogger(log.Component("router"))

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(hubCtx)

	sink := bench.NewSink(sinkOptions(cfg, db, mqttClient, influxClient, hub, log))

	dispatcher := bench.NewDispatcher(router, cfg.Bench.CommandQueue)
	dispatcher.SetLogger(log.Component("dispatcher"))

	controller := bench.NewController(dispatcher, bench.ControllerConfig{
		SupplyCurrentLimit: cfg.Bench.SupplyCurrentLimit,
		PreviewSamples:     cfg.Bench.PreviewSamples,
	}, sink)
	controller.SetLogger(log.Component("controller"))

	poller := telemetry.NewPoller(router, sink.Consume, telemetry.PollerConfig{
		Interval:    cfg.Bench.PollInterval,
		SettleDelay: cfg.Bench.SettleDelay,
		MeterRange:  cfg.Bench.MeterRange,
	})
	poller.SetLogger(log.Component("poller"))

	// The sequencer exists before any session is opened so that a failed
	// startup still leaves the bench in a safe state.
	sequencer := bench.NewSequencer(bench.SequencerOptions{
		Poller:     poller,
		Dispatcher: dispatcher,
		Router:     router,
		Registry:   registry,
		Opener:     manager,
		Logger:     log.Component("shutdown"),
	})
	defer sequencer.Shutdown()

	if startErr := startBench(ctx, cfg, registry, dispatcher, controller, log); startErr != nil {
		return startErr
	}

	if pollErr := poller.Start(ctx); pollErr != nil {
		return fmt.Errorf("starting poller: %w", pollErr)
	}

	if mqttClient != nil {
		frontEnd := bench.NewCommandFrontEnd(mqttClient, controller)
		frontEnd.SetLogger(log.Component("mqtt-commands"))
		if feErr := frontEnd.Start(ctx); feErr != nil {
			log.Warn("MQTT command intake unavailable", "error", feErr)
		} else {
			defer frontEnd.Stop()
		}
	}

	if cfg.API.Enabled {
		mqttCheck, influxCheck := healthCheckers(mqttClient, influxClient)
		server, apiErr := api.New(api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Logger:     log.Component("api"),
			Controller: controller,
			Readings:   telemetry.NewSQLiteReadingRepository(db.DB),
			Poller:     poller,
			Sessions:   registry,
			Latest:     sink,
			Database:   db,
			MQTT:       mqttCheck,
			Metrics:    influxCheck,
			Hub:        hub,
			Version:    version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if apiErr = server.Start(ctx); apiErr != nil {
			return fmt.Errorf("starting API server: %w", apiErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
		log.Info("API server listening", "addr", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// The bench goes safe before the API and bus go away; the remaining
	// deferred closes then run in reverse order.
	sequencer.Shutdown()
	if seqErr := sequencer.Err(); seqErr != nil {
		log.Warn("shutdown completed with failures", "error", seqErr)
	}

	log.Info("Benchtop Core stopped")
	return nil
}

// startBench opens every instrument session, starts the dispatcher and runs
// the startup sequences. A missing or unreachable instrument is fatal.
func startBench(ctx context.Context, cfg *config.Config, registry *instrument.Registry,
	dispatcher *bench.Dispatcher, controller *bench.Controller, log *logging.Logger,
) error {
	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	var source discovery.Source = discovery.FromConfig(cfg.Instruments)
	addrs, err := source.Discover(startCtx)
	if err != nil {
		return fmt.Errorf("discovering instruments: %w", err)
	}
	if missing := discovery.Missing(addrs); len(missing) > 0 {
		log.Warn("instruments not configured", "roles", missing)
	}

	if err := registry.Initialize(startCtx, addrs); err != nil {
		var initErr *instrument.InitError
		if errors.As(err, &initErr) {
			log.Error("instrument initialization failed", "role", initErr.Role, "error", initErr)
		}
		return fmt.Errorf("initializing instruments: %w", err)
	}
	log.Info("instruments open", "sessions", len(registry.Sessions()))

	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("starting dispatcher: %w", err)
	}

	if cfg.Bench.ConfigureOnStart {
		if err := controller.Configure(startCtx); err != nil {
			return fmt.Errorf("configuring bench: %w", err)
		}
		log.Info("bench configured")
	}

	ids, err := controller.Identify(startCtx)
	if err != nil {
		log.Warn("identify failed", "error", err)
	}
	for role, id := range ids {
		log.Info("instrument identified", "role", role, "idn", id)
	}
	return nil
}

// connectMQTT connects to the broker when enabled. The bench runs without
// MQTT when the broker is unreachable; only remote command intake and the
// MQTT telemetry feed are lost.
func connectMQTT(cfg *config.Config, log *logging.Logger) *mqtt.Client {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT disabled")
		return nil
	}

	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		log.Warn("MQTT unavailable, continuing without it", "error", err)
		return nil
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client
}

// sinkOptions wires the optional telemetry outputs. Disabled outputs stay
// nil interfaces rather than typed nil pointers.
func sinkOptions(cfg *config.Config, db *database.DB, mqttClient *mqtt.Client,
	influxClient *influxdb.Client, hub *api.Hub, log *logging.Logger,
) bench.SinkOptions {
	topics := mqtt.Topics{}
	opts := bench.SinkOptions{
		Band:     telemetry.Band{Low: cfg.Bench.PassBand.Low, High: cfg.Bench.PassBand.High},
		Readings: telemetry.NewSQLiteReadingRepository(db.DB),
		Topics: bench.Topics{
			Telemetry:       topics.Telemetry(),
			Reading:         topics.Reading(),
			WaveformPreview: topics.WaveformPreview(),
		},
		Logger: log.Component("sink"),
	}
	if hub != nil {
		opts.Hub = hub
	}
	if mqttClient != nil {
		opts.MQTT = mqttClient
	}
	if influxClient != nil {
		opts.Metrics = influxClient
	}
	return opts
}

// healthCheckers returns the optional /health dependencies. A disabled
// client stays a nil interface.
func healthCheckers(mqttClient *mqtt.Client, influxClient *influxdb.Client) (mqttCheck, influxCheck api.HealthChecker) {
	if mqttClient != nil {
		mqttCheck = mqttClient
	}
	if influxClient != nil {
		influxCheck = influxClient
	}
	return mqttCheck, influxCheck
}

func serialConfig(c config.SerialConfig) transport.SerialConfig {
	return transport.SerialConfig{
		BaudRate:   c.BaudRate,
		DataBits:   c.DataBits,
		StopBits:   c.StopBits,
		Parity:     c.Parity,
		Terminator: c.Terminator,
	}
}

// getConfigPath returns the configuration file path.
// Uses BENCHTOP_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BENCHTOP_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
