package main

import (
	"context"
	"fmt"
	"time"

	_ "github.com/hearthhub/hearth-core/migrations"

	"github.com/hearthhub/hearth-core/internal/automation"
	"github.com/hearthhub/hearth-core/internal/bus"
	"github.com/hearthhub/hearth-core/internal/condition"
	"github.com/hearthhub/hearth-core/internal/configentry"
	"github.com/hearthhub/hearth-core/internal/core"
	"github.com/hearthhub/hearth-core/internal/history"
	"github.com/hearthhub/hearth-core/internal/infrastructure/config"
	"github.com/hearthhub/hearth-core/internal/infrastructure/database"
	"github.com/hearthhub/hearth-core/internal/infrastructure/influxdb"
	"github.com/hearthhub/hearth-core/internal/infrastructure/logging"
	"github.com/hearthhub/hearth-core/internal/infrastructure/mqtt"
	"github.com/hearthhub/hearth-core/internal/registry"
	"github.com/hearthhub/hearth-core/internal/script"
	"github.com/hearthhub/hearth-core/internal/service"
	"github.com/hearthhub/hearth-core/internal/state"
	"github.com/hearthhub/hearth-core/internal/template"
	"github.com/hearthhub/hearth-core/internal/trigger"
)

// run wires the hub together and blocks until the context is
// cancelled. Separated from main so tests can drive it.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting Hearth Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise the logger with the configured level and format.
	log = logging.New(cfg.Logging, version)

	// Kernel: bus, state store, service registry, evaluators, executor.
	eventBus := bus.New()
	eventBus.SetLogger(log)

	states := state.NewStore(eventBus)
	states.SetLogger(log)

	services := service.NewRegistry(eventBus)
	services.SetLogger(log)

	engine := template.NewEngine(states)
	conditions := condition.NewEvaluator(states, engine)
	triggers := trigger.NewEvaluator(engine)

	executor := script.NewExecutor(eventBus, services, engine, conditions, triggers)
	executor.SetLogger(log)

	// Persistent registries and config entries.
	areas := registry.NewAreaRegistry(cfg.Storage.Dir, eventBus)
	floors := registry.NewFloorRegistry(cfg.Storage.Dir, eventBus)
	labels := registry.NewLabelRegistry(cfg.Storage.Dir, eventBus)
	devices := registry.NewDeviceRegistry(cfg.Storage.Dir, eventBus)
	entities := registry.NewEntityRegistry(cfg.Storage.Dir, eventBus)

	type loadable interface {
		SetLogger(registry.Logger)
		Load() error
		Flush() error
	}
	registries := map[string]loadable{
		"areas":    areas,
		"floors":   floors,
		"labels":   labels,
		"devices":  devices,
		"entities": entities,
	}
	for name, r := range registries {
		r.SetLogger(log)
		if err := r.Load(); err != nil {
			return fmt.Errorf("loading %s registry: %w", name, err)
		}
	}
	defer func() {
		for name, r := range registries {
			if err := r.Flush(); err != nil {
				log.Error("flushing registry", "registry", name, "error", err)
			}
		}
	}()

	entries := configentry.NewManager(cfg.Storage.Dir)
	entries.SetLogger(log)
	if err := entries.Load(); err != nil {
		return fmt.Errorf("loading config entries: %w", err)
	}
	defer func() {
		if err := entries.Flush(); err != nil {
			log.Error("flushing config entries", "error", err)
		}
	}()
	log.Info("registries loaded", "dir", cfg.Storage.Dir)

	// State history recorder.
	if cfg.History.Enabled {
		db, err := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Error("closing database", "error", err)
			}
		}()

		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		log.Info("database ready", "path", cfg.Database.Path)

		recorder := history.NewRecorder(db, eventBus, history.Config{
			RetentionDays: cfg.History.RetentionDays,
			PurgeInterval: time.Duration(cfg.History.PurgeInterval) * time.Minute,
		}, log)
		recorder.Start(ctx)
		defer func() {
			if err := recorder.Stop(); err != nil {
				log.Error("stopping recorder", "error", err)
			}
		}()
	} else {
		log.Info("state history disabled")
	}

	// MQTT event bridge.
	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			if err := mqttClient.Close(); err != nil {
				log.Error("closing MQTT", "error", err)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		// #nosec G115 -- QoS validated to 0..2 by config.Validate
		bridge := mqtt.NewBridge(mqttClient, eventBus, mqttClient.Topics(), byte(cfg.MQTT.QoS), log)
		if err := bridge.Start(); err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		defer bridge.Stop()
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB state metrics.
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			if err := influxClient.Close(); err != nil {
				log.Error("closing InfluxDB", "error", err)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)

		exporter := influxdb.NewExporter(influxClient, eventBus)
		exporter.Start()
		defer exporter.Stop()
	} else {
		log.Info("InfluxDB disabled")
	}

	// Automations.
	manager := automation.NewManager(eventBus, states, executor, triggers, conditions)
	manager.SetLogger(log)

	defs, err := automation.LoadFile(cfg.Automations.Path)
	if err != nil {
		return fmt.Errorf("loading automations: %w", err)
	}
	for _, def := range defs {
		if err := manager.Add(def); err != nil {
			return fmt.Errorf("adding automation %q: %w", def.Alias, err)
		}
	}
	manager.Start(ctx)
	defer manager.Stop()
	log.Info("automations loaded", "count", len(defs))

	// Clock events drive time and time_pattern triggers.
	go runClock(ctx, eventBus)

	eventBus.Fire(core.NewEvent(core.EventHearthStart, nil, core.NewContext()))
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	eventBus.Fire(core.NewEvent(core.EventHearthStop, nil, core.NewContext()))

	log.Info("Hearth Core stopped")
	return nil
}

// runClock fires time_changed once per second so time and time_pattern
// triggers see the clock advance.
func runClock(ctx context.Context, eventBus *bus.Bus) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			eventBus.Fire(core.NewEvent(core.EventTimeChanged,
				map[string]any{"now": now}, core.NewContext()))
		}
	}
}
