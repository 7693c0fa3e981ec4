package main

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/drivelink/internal/infrastructure/config"
	"github.com/nerrad567/drivelink/internal/infrastructure/logging"
	"github.com/nerrad567/drivelink/internal/usbreset"
)

// writeConfig writes a config file into a temp dir and points
// DRIVELINK_CONFIG at it.
func writeConfig(t *testing.T, content string) {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "test-config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("DRIVELINK_CONFIG", configPath)
	t.Setenv("DRIVELINK_DEV_SIMULATE", "")
}

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("DRIVELINK_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_RequiresSimulator verifies run refuses to start without a driver.
func TestRun_RequiresSimulator(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	writeConfig(t, `
site:
  id: test-site
database:
  path: "`+dbPath+`"
logging:
  level: error
  format: text
  output: stdout
dev:
  simulate: false
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); !errors.Is(err, errNoDriver) {
		t.Fatalf("run() error = %v, want errNoDriver", err)
	}
	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Error("database created before the driver check")
	}
}

// TestRun_SimulatedStartupAndShutdown runs the whole process against the
// simulator until the context expires.
func TestRun_SimulatedStartupAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	writeConfig(t, `
site:
  id: test-site
database:
  path: "`+dbPath+`"
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: false
influxdb:
  enabled: false
logging:
  level: error
  format: text
  output: stdout
api:
  host: "127.0.0.1"
  port: `+strconv.Itoa(freePort(t))+`
  timeouts:
    read: 5
    write: 30
    idle: 5
dev:
  simulate: true
  serials: ["0x3a1f2b3c4d5e"]
`)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("DRIVELINK_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("DRIVELINK_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestConnectionConfig(t *testing.T) {
	dc := config.DeviceConfig{
		ProbeProperty:          "fw_version",
		ConnectTimeout:         4 * time.Second,
		ReconnectTimeout:       time.Second,
		RebootReconnectTimeout: 2 * time.Second,
		RebootGracePeriod:      3 * time.Second,
		RebootCheckGrace:       6 * time.Second,
		RetryDelay:             500 * time.Millisecond,
		RebootRetryDelay:       time.Second,
		MaxReconnectAttempts:   7,
		PollInterval:           time.Second,
		USBReset:               config.USBResetConfig{AfterAttempts: 3},
	}

	cc := connectionConfig(dc)
	if cc.ProbeProperty != "fw_version" || cc.MaxReconnectAttempts != 7 || cc.RebootCheckGrace != 6*time.Second {
		t.Errorf("connectionConfig() = %+v", cc)
	}
	if cc.RecoveryAfterAttempts != 0 {
		t.Errorf("RecoveryAfterAttempts = %d with usb reset disabled, want 0", cc.RecoveryAfterAttempts)
	}
	if cc.ScanTimeout <= 0 || cc.ReturnTimeout <= 0 {
		t.Error("package default timeouts not kept")
	}

	dc.USBReset.Enabled = true
	cc = connectionConfig(dc)
	if cc.RecoveryAfterAttempts != 3 {
		t.Errorf("RecoveryAfterAttempts = %d, want 3", cc.RecoveryAfterAttempts)
	}
	// A reset that runs to its own timeouts must not be cut short.
	if cc.RecoveryTimeout <= usbreset.MaxRecoverDuration {
		t.Errorf("RecoveryTimeout = %v, want more than the reset worst case %v",
			cc.RecoveryTimeout, usbreset.MaxRecoverDuration)
	}
}

func TestBuildDriver(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	cfg := config.Default()
	cfg.Dev.Simulate = false
	if _, err := buildDriver(cfg, log); !errors.Is(err, errNoDriver) {
		t.Errorf("buildDriver() error = %v, want errNoDriver", err)
	}

	cfg.Dev.Simulate = true
	cfg.Dev.Serials = []string{"0x1", "0x2"}
	drv, err := buildDriver(cfg, log)
	if err != nil {
		t.Fatalf("buildDriver() error = %v", err)
	}
	infos, err := drv.Scan(context.Background(), time.Second)
	if err != nil || len(infos) != 2 {
		t.Errorf("Scan() = %v, %v; want two simulated devices", infos, err)
	}
}

// countingPruner records Prune calls.
type countingPruner struct {
	mu        sync.Mutex
	calls     int
	olderThan time.Duration
	err       error
}

func (p *countingPruner) Prune(_ context.Context, olderThan time.Duration) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.olderThan = olderThan
	return 1, p.err
}

func (p *countingPruner) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestRunRetention(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "prunes on every tick"},
		{name: "keeps going after a failure", err: errors.New("database is locked")},
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &countingPruner{err: tt.err}
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				runRetention(ctx, p, 48*time.Hour, 5*time.Millisecond, log)
			}()

			deadline := time.Now().Add(2 * time.Second)
			for p.count() < 3 && time.Now().Before(deadline) {
				time.Sleep(2 * time.Millisecond)
			}
			cancel()

			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("runRetention did not return after cancel")
			}
			if got := p.count(); got < 3 {
				t.Errorf("Prune called %d times, want at least 3", got)
			}
			p.mu.Lock()
			if p.olderThan != 48*time.Hour {
				t.Errorf("Prune olderThan = %v, want 48h", p.olderThan)
			}
			p.mu.Unlock()
		})
	}
}
