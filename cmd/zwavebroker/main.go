// Gray Logic Z-Wave - Z-Wave JS to Gray Logic bridge
//
// This is the main entry point for the Z-Wave bridge. It runs an embedded
// MQTT broker that a Z-Wave JS gateway (zwavejs2mqtt / Z-Wave JS UI)
// connects to, learns the gateway's devices from its discovery messages,
// and mirrors every Z-Wave value onto a Gray Logic entity.
//
// Optional components:
//   - Gray Logic bus uplink (retained entity state, bus commands)
//   - InfluxDB history of entity values
//   - REST + WebSocket API
//   - mDNS advertisement of the broker
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/gray-logic-zwave/migrations"

	"github.com/nerrad567/gray-logic-zwave/internal/api"
	"github.com/nerrad567/gray-logic-zwave/internal/audit"
	"github.com/nerrad567/gray-logic-zwave/internal/bridges/zwave"
	"github.com/nerrad567/gray-logic-zwave/internal/broker"
	"github.com/nerrad567/gray-logic-zwave/internal/device"
	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-zwave/internal/uplink"
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
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component, blocks until ctx is cancelled or a component
// fails, then tears down in reverse order through the deferred closes.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Z-Wave",
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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading entity registry: %w", refreshErr)
	}
	log.Info("entity registry initialised", "entities", registry.Count())

	auditRepo := audit.NewSQLiteRepository(db.DB)

	g, gctx := errgroup.WithContext(ctx)

	clients := broker.NewClientSet()
	bridge, err := zwave.NewBridge(zwave.BridgeOptions{
		Store:     zwave.NewSQLiteStore(db.DB),
		Host:      &hostAdapter{registry: registry},
		Publisher: clients,
		Logger:    log.Component("zwave"),
	})
	if err != nil {
		return fmt.Errorf("creating Z-Wave bridge: %w", err)
	}
	if startErr := bridge.Start(gctx); startErr != nil {
		return fmt.Errorf("loading Z-Wave mapping table: %w", startErr)
	}
	log.Info("Z-Wave mapping table loaded", "devices", len(bridge.Discovery().Snapshot().Devices()))

	influxClient, err := startInflux(ctx, cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(ctx, cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log.Component("mqtt"))
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
	} else {
		log.Info("Gray Logic bus uplink disabled")
	}

	if relay, relayErr := newRelay(mqttClient, influxClient, bridge, auditRepo, log.Component("uplink")); relayErr != nil {
		return relayErr
	} else if relay != nil {
		if startErr := relay.Start(gctx); startErr != nil {
			return fmt.Errorf("starting uplink: %w", startErr)
		}
		registry.Subscribe(relay.HandleEvent)
		g.Go(func() error { return relay.Run(gctx) })
	}

	var tracer broker.Tracer
	if cfg.Broker.Trace.Enabled {
		t, traceErr := logging.OpenTracer(cfg.Broker.Trace.Path)
		if traceErr != nil {
			return fmt.Errorf("opening message trace: %w", traceErr)
		}
		defer func() {
			if closeErr := t.Close(); closeErr != nil {
				log.Error("error closing message trace", "error", closeErr)
			}
		}()
		tracer = t
		log.Info("broker message trace enabled", "path", t.Path())
	}

	srv, err := broker.NewServer(broker.ServerOptions{
		Config:  cfg.Broker,
		Router:  bridge,
		Clients: clients,
		Tracer:  tracer,
		Logger:  log.Component("broker"),
	})
	if err != nil {
		return fmt.Errorf("creating broker: %w", err)
	}
	if startErr := srv.Start(gctx); startErr != nil {
		return fmt.Errorf("starting broker: %w", startErr)
	}
	defer func() {
		log.Info("stopping broker")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error stopping broker", "error", closeErr)
		}
	}()

	if cfg.Broker.Advertise.Enabled {
		adv, advErr := broker.Advertise(cfg.Broker.Advertise, listenerPort(srv.Addr()), listenerPort(srv.TLSAddr()))
		if advErr != nil {
			log.Warn("mDNS advertisement failed, gateways need a configured address", "error", advErr)
		} else {
			defer adv.Shutdown()
			log.Info("broker advertised over mDNS", "instance", cfg.Broker.Advertise.Instance)
		}
	}

	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log.Component("api"),
			Registry: registry,
			Commands: bridge,
			Mappings: bridge.Discovery(),
			Clients:  clients,
			Audit:    auditRepo,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(gctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-gctx.Done()

	log.Info("shutdown signal received, cleaning up")
	if waitErr := g.Wait(); waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return fmt.Errorf("component failed: %w", waitErr)
	}

	log.Info("Gray Logic Z-Wave stopped")
	return nil
}

func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func startInflux(ctx context.Context, cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil //nolint:nilnil // disabled is not an error
	}
	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}

// newRelay builds the uplink from whichever of the bus and history store
// are configured. It returns nil when neither is.
func newRelay(bus *mqtt.Client, history *influxdb.Client, commands uplink.CommandDispatcher, trail uplink.AuditRecorder, log *logging.Logger) (*uplink.Relay, error) {
	opts := uplink.Options{Commands: commands, Audit: trail, Logger: log}
	if bus != nil {
		opts.Bus = bus
	}
	if history != nil {
		opts.History = history
	}
	if opts.Bus == nil && opts.History == nil {
		return nil, nil //nolint:nilnil // nothing to relay to
	}
	relay, err := uplink.New(opts)
	if err != nil {
		return nil, fmt.Errorf("creating uplink: %w", err)
	}
	return relay, nil
}

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

// listenerPort returns the TCP port of addr, or 0 when addr is nil.
func listenerPort(addr net.Addr) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}
