// spherod is the spherolink daemon.
//
// It keeps a fleet of Sphero-class toys connected through a transport
// adapter and exposes them over MQTT and an HTTP/WebSocket API. Every
// command executed through either surface lands in the audit log; session
// counters are exported to InfluxDB when enabled.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/spherolink/internal/api"
	"github.com/nerrad567/spherolink/internal/audit"
	"github.com/nerrad567/spherolink/internal/auth"
	"github.com/nerrad567/spherolink/internal/automation"
	"github.com/nerrad567/spherolink/internal/bridge"
	"github.com/nerrad567/spherolink/internal/fleet"
	"github.com/nerrad567/spherolink/internal/infrastructure/config"
	"github.com/nerrad567/spherolink/internal/infrastructure/database"
	"github.com/nerrad567/spherolink/internal/infrastructure/influxdb"
	"github.com/nerrad567/spherolink/internal/infrastructure/logging"
	"github.com/nerrad567/spherolink/internal/infrastructure/mqtt"
	"github.com/nerrad567/spherolink/internal/process"
	"github.com/nerrad567/spherolink/internal/registry"
	"github.com/nerrad567/spherolink/internal/toy"
	"github.com/nerrad567/spherolink/internal/transport"
	"github.com/nerrad567/spherolink/internal/transport/sim"
	"github.com/nerrad567/spherolink/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/spherolink.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the daemon, separated from main for testability.
//
// Parameters:
//   - ctx: Cancelled on SIGINT/SIGTERM
//
// Returns:
//   - error: nil on clean shutdown, or the first startup or runtime failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting spherod", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"adapter", cfg.Adapter.Type,
		"toys", len(cfg.Toys),
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
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	reg := registry.New(registry.NewSQLiteRepository(db.DB))
	reg.SetLogger(log.Component("registry"))
	if err := reg.Load(ctx); err != nil {
		return fmt.Errorf("loading toy registry: %w", err)
	}
	imported, err := reg.Import(ctx, cfg.Toys)
	if err != nil {
		return fmt.Errorf("importing configured toys: %w", err)
	}
	log.Info("toy registry loaded", "toys", reg.Count(), "imported", imported)

	adapterProc, err := startAdapterProcess(ctx, cfg, log)
	if err != nil {
		return err
	}
	if adapterProc != nil {
		// Registered before the fleet so toys close before the adapter dies.
		defer func() {
			log.Info("stopping adapter process")
			if stopErr := adapterProc.Stop(); stopErr != nil {
				log.Error("error stopping adapter process", "error", stopErr)
			}
		}()
	}

	adapter, err := buildAdapter(cfg, log)
	if err != nil {
		return err
	}

	toys, err := buildFleet(ctx, cfg, adapter, reg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing fleet")
		if closeErr := toys.Close(); closeErr != nil {
			log.Error("error closing fleet", "error", closeErr)
		}
	}()

	authSvc := auth.NewService(
		auth.NewOperatorRepository(db.DB),
		cfg.Security.JWT.Secret,
		time.Duration(cfg.Security.JWT.AccessTokenTTL)*time.Minute,
		log.Component("auth"),
	)
	if _, err := authSvc.SeedAdmin(ctx, cfg.Security.Bootstrap.Username, cfg.Security.Bootstrap.Password); err != nil {
		return fmt.Errorf("seeding admin operator: %w", err)
	}

	recorder := audit.NewRecorder(audit.NewSQLiteRepository(db.DB), log.Component("audit"))

	routines, engine, err := loadRoutines(ctx, db, toys, recorder, log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MQTT.Enabled {
		mqttClient, stop, err := startBridge(cfg, toys, recorder, engine, log)
		if err != nil {
			return err
		}
		defer func() {
			stop()
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT bridge disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
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
		interval := time.Duration(cfg.InfluxDB.StatsInterval) * time.Second
		g.Go(func() error {
			toys.RecordStats(gctx, influxClient, interval)
			return nil
		})
		log.Info("session statistics export enabled", "url", cfg.InfluxDB.URL, "interval", interval)
	} else {
		log.Info("InfluxDB disabled")
	}

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log,
			Fleet:    toys,
			Registry: reg,
			Auth:     authSvc,
			Audit:    recorder,
			Routines: routines,
			Engine:   engine,
			Version:  version,
		}
		if adapterProc != nil {
			deps.Adapter = adapterProc
		}
		srv, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(gctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	// Connection failures at startup are not fatal: supervisors keep retrying.
	g.Go(func() error {
		if err := toys.ConnectAll(gctx); err != nil {
			log.Warn("some toys failed to connect", "error", err)
		}
		return nil
	})

	log.Info("initialisation complete, waiting for shutdown signal")
	<-gctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("spherod stopped")
	return nil
}

// getConfigPath returns SPHEROLINK_CONFIG when set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("SPHEROLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startAdapterProcess launches the configured adapter binary and waits for
// it to listen. It returns nil when no binary is configured.
func startAdapterProcess(ctx context.Context, cfg *config.Config, log *logging.Logger) (*process.Manager, error) {
	pc := cfg.Adapter.Process
	if pc.Binary == "" {
		return nil, nil //nolint:nilnil // no process to supervise
	}
	mgr := process.NewManager(process.Config{
		Name:         "adapter",
		Binary:       pc.Binary,
		Args:         pc.Args,
		Address:      cfg.Adapter.Address,
		ReadyTimeout: time.Duration(pc.ReadyTimeout) * time.Second,
		RestartDelay: time.Duration(pc.RestartDelay) * time.Second,
		MaxRestarts:  pc.MaxRestarts,
	}, log.Component("adapter"))
	if err := mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting adapter process: %w", err)
	}
	return mgr, nil
}

// buildAdapter selects the transport named in the adapter section. The sim
// adapter serves every configured toy from an in-process simulator.
func buildAdapter(cfg *config.Config, log *logging.Logger) (transport.Adapter, error) {
	switch cfg.Adapter.Type {
	case config.AdapterSim:
		pipe := transport.NewPipeAdapter()
		simLog := log.Component("sim")
		for _, t := range cfg.Toys {
			s, err := sim.New(t.ToyKind(), t.Name, t.Address, sim.WithLogger(simLog))
			if err != nil {
				return nil, fmt.Errorf("simulating %s: %w", t.Name, err)
			}
			pipe.Add(s)
		}
		log.Info("using simulated adapter", "toys", len(cfg.Toys))
		return pipe, nil
	case config.AdapterTCP:
		log.Info("using TCP adapter", "address", cfg.Adapter.Address)
		return transport.NewTCPAdapter(transport.TCPConfig{
			Address:     cfg.Adapter.Address,
			DialTimeout: cfg.ConnectTimeout(),
			ScanTimeout: cfg.ScanTimeout(),
		}, log.Component("transport")), nil
	default:
		return nil, fmt.Errorf("unknown adapter type %q", cfg.Adapter.Type)
	}
}

// buildFleet creates the fleet from the registry and records when each
// toy was last connected.
func buildFleet(ctx context.Context, cfg *config.Config, adapter transport.Adapter, reg *registry.Registry, log *logging.Logger) (*fleet.Fleet, error) {
	initial, maxDelay := cfg.ReconnectBackoff()
	toyLog := log.Component("toy")
	f := fleet.New(adapter,
		fleet.WithLogger(log.Component("fleet")),
		fleet.WithBackoff(initial, maxDelay),
		fleet.WithToyOptions(
			toy.WithLogger(toyLog),
			toy.WithDefaultTimeout(cfg.CommandTimeout()),
			toy.WithQueueSize(cfg.Protocol.QueueSize),
		),
	)

	for _, t := range reg.List() {
		if _, err := f.Add(t.Entry()); err != nil {
			_ = f.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("adding %s to fleet: %w", t.Name, err)
		}
	}

	f.Observe(func(sc fleet.StateChange) {
		log.Info("toy state changed", "toy", sc.Toy, "kind", sc.Kind, "state", sc.State, "cause", sc.Cause)
		if sc.State != toy.StateConnected {
			return
		}
		if err := reg.Seen(ctx, sc.Toy, sc.At); err != nil && !errors.Is(err, registry.ErrNotFound) {
			log.Warn("recording last seen", "toy", sc.Toy, "error", err)
		}
	})
	return f, nil
}

// loadRoutines builds the routine registry and engine over the database.
// Routine steps are validated against the fleet's members.
func loadRoutines(ctx context.Context, db *database.DB, f *fleet.Fleet, recorder *audit.Recorder, log *logging.Logger) (*automation.Registry, *automation.Engine, error) {
	repo := automation.NewSQLiteRepository(db.DB)
	reg := automation.NewRegistry(repo)
	reg.SetLogger(log.Component("routines"))
	reg.SetKindLookup(f.Kind)
	if err := reg.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("loading routines: %w", err)
	}

	engine := automation.NewEngine(reg, f, repo, log.Component("routines"))
	engine.SetAuditor(recorder)
	return reg, engine, nil
}

// startBridge connects to the broker and starts relaying MQTT commands.
// The returned stop function must run before the client is closed.
func startBridge(cfg *config.Config, f *fleet.Fleet, recorder *audit.Recorder, engine *automation.Engine, log *logging.Logger) (*mqtt.Client, func(), error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() { log.Info("MQTT reconnected") })
	client.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	b := bridge.New(client, f,
		bridge.WithLogger(log.Component("bridge")),
		bridge.WithAuditor(recorder),
		bridge.WithRoutines(engine),
		bridge.WithCommandTimeout(cfg.CommandTimeout()),
	)
	if err := b.Start(); err != nil {
		_ = client.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("starting MQTT bridge: %w", err)
	}
	return client, b.Stop, nil
}
