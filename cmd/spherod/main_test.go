package main

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/spherolink/internal/audit"
	"github.com/nerrad567/spherolink/internal/auth"
	"github.com/nerrad567/spherolink/internal/automation"
	"github.com/nerrad567/spherolink/internal/fleet"
	"github.com/nerrad567/spherolink/internal/infrastructure/config"
	"github.com/nerrad567/spherolink/internal/infrastructure/database"
	"github.com/nerrad567/spherolink/internal/infrastructure/logging"
	"github.com/nerrad567/spherolink/internal/process"
	"github.com/nerrad567/spherolink/internal/protocol/command"
	"github.com/nerrad567/spherolink/internal/registry"
	"github.com/nerrad567/spherolink/internal/transport"
	"github.com/nerrad567/spherolink/migrations"
)

// writeConfig writes a sim-adapter config with the API and MQTT disabled.
func writeConfig(t *testing.T, dbPath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spherolink.yaml")
	content := `
service:
  id: test-daemon

adapter:
  type: sim

toys:
  - name: bolt
    kind: bolt
    address: bolt-addr
    auto_connect: true

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

api:
  enabled: false

logging:
  level: warn
  format: text
  output: stdout

security:
  bootstrap:
    username: root
    password: bootstrap-password
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("SPHEROLINK_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_InvalidAdapter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("adapter:\n  type: bluetooth\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SPHEROLINK_CONFIG", path)

	if err := run(context.Background()); err == nil {
		t.Fatal("run() should fail with unknown adapter type")
	}
}

// TestRun_SimulatedStartupAndShutdown runs the daemon against simulated
// toys until the context ends, then checks what it persisted.
func TestRun_SimulatedStartupAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "spherolink.db")
	t.Setenv("SPHEROLINK_CONFIG", writeConfig(t, dbPath))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	db, err := database.Open(config.DatabaseConfig{Path: dbPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer db.Close()

	reg := registry.New(registry.NewSQLiteRepository(db.DB))
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got, err := reg.Get(context.Background(), "bolt")
	if err != nil {
		t.Fatalf("Get(bolt) error = %v", err)
	}
	if !got.AutoConnect || got.Address != "bolt-addr" {
		t.Errorf("imported toy = %+v", got)
	}

	svc := auth.NewService(auth.NewOperatorRepository(db.DB), "test-secret-key-at-least-32-characters-long", time.Minute, nil)
	if _, err := svc.Login(context.Background(), "root", "bootstrap-password"); err != nil {
		t.Errorf("bootstrap admin login error = %v", err)
	}
}

func TestBuildAdapter(t *testing.T) {
	cfg := config.Default()
	cfg.Toys = []config.ToyConfig{{Name: "mini", Kind: "mini", Address: "mini-addr"}}

	tests := []struct {
		name    string
		typ     string
		wantErr bool
	}{
		{"sim", config.AdapterSim, false},
		{"tcp", config.AdapterTCP, false},
		{"unknown", "serial", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg.Adapter.Type = tt.typ
			a, err := buildAdapter(cfg, logging.Discard())
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildAdapter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if a == nil {
				t.Fatal("buildAdapter() returned nil adapter")
			}
		})
	}

	cfg.Adapter.Type = config.AdapterSim
	a, err := buildAdapter(cfg, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	ads, err := a.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(ads) != 1 || ads[0].Address != "mini-addr" {
		t.Errorf("Scan() = %+v, want the simulated mini", ads)
	}
	if _, ok := a.(*transport.PipeAdapter); !ok {
		t.Errorf("sim adapter type = %T", a)
	}
}

func TestStartAdapterProcess(t *testing.T) {
	cfg := config.Default()
	mgr, err := startAdapterProcess(context.Background(), cfg, logging.Discard())
	if err != nil || mgr != nil {
		t.Fatalf("no binary: got %v, %v; want nil, nil", mgr, err)
	}

	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	cfg.Adapter.Address = ln.Addr().String()
	cfg.Adapter.Process = config.AdapterProcessConfig{
		Binary:       "/bin/sh",
		Args:         []string{"-c", "exec sleep 30"},
		ReadyTimeout: 2,
	}
	mgr, err = startAdapterProcess(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("startAdapterProcess() error = %v", err)
	}
	if mgr.Status() != process.StatusRunning {
		t.Errorf("Status() = %v, want running", mgr.Status())
	}
	if err := mgr.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("SPHEROLINK_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("SPHEROLINK_CONFIG", "/custom/spherolink.toml")
	if got := getConfigPath(); got != "/custom/spherolink.toml" {
		t.Errorf("getConfigPath() = %q, want override", got)
	}
}

func TestLoadRoutines(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(config.DatabaseConfig{Path: ":memory:", BusyTimeout: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	f := fleet.New(transport.NewPipeAdapter())
	defer f.Close()
	if _, err := f.Add(fleet.Entry{Name: "bolt", Kind: command.KindBOLT, Address: "bolt-addr"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	recorder := audit.NewRecorder(audit.NewSQLiteRepository(db.DB), nil)
	reg, engine, err := loadRoutines(ctx, db, f, recorder, logging.Discard())
	if err != nil {
		t.Fatalf("loadRoutines() error = %v", err)
	}
	if engine == nil || reg.Count() != 0 {
		t.Fatalf("loadRoutines() = %d routines, engine %v", reg.Count(), engine)
	}

	err = reg.Create(ctx, &automation.Routine{Name: "ghost", Enabled: true,
		Steps: []automation.Step{{Toy: "ghost", Command: "wake"}}})
	if !errors.Is(err, automation.ErrInvalidStep) {
		t.Errorf("Create(unknown toy) error = %v, want ErrInvalidStep", err)
	}
	if err := reg.Create(ctx, &automation.Routine{Name: "wake", Enabled: true,
		Steps: []automation.Step{{Toy: "bolt", Command: "wake"}}}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	reg, _, err = loadRoutines(ctx, db, f, recorder, logging.Discard())
	if err != nil {
		t.Fatalf("second loadRoutines() error = %v", err)
	}
	if reg.Count() != 1 {
		t.Errorf("reloaded Count() = %d, want 1", reg.Count())
	}
}
