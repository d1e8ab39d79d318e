package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDefaults(t *testing.T) {
	c := New()

	m := c.Monitor()
	if !m.AutoCloseSerialMonitor {
		t.Error("AutoCloseSerialMonitor default = false, want true")
	}
	if m.ReopenSerialMonitorDelay != 0 {
		t.Errorf("ReopenSerialMonitorDelay default = %v, want 0", m.ReopenSerialMonitorDelay)
	}
	if got := c.PIO().Path; got != DefaultPIOPath {
		t.Errorf("PIO().Path = %q, want %q", got, DefaultPIOPath)
	}
	if got := c.Tasks().RefreshDelay; got != DefaultRefreshDelay {
		t.Errorf("Tasks().RefreshDelay = %v, want %v", got, DefaultRefreshDelay)
	}
	if got := c.Server().Addr; got != DefaultServerAddr {
		t.Errorf("Server().Addr = %q", got)
	}
}

func TestLoad_Layering(t *testing.T) {
	dir := t.TempDir()
	user := filepath.Join(dir, "user", "config.toml")
	project := filepath.Join(dir, "proj", ProjectFileName)

	writeFile(t, user, `
[monitor]
autoCloseSerialMonitor = false
reopenSerialMonitorDelay = 250

[pio]
path = "/opt/pio"
`)
	writeFile(t, project, `
[monitor]
autoCloseSerialMonitor = true
`)

	c := New(user, project)
	if err := c.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	m := c.Monitor()
	if !m.AutoCloseSerialMonitor {
		t.Error("project file should override user autoCloseSerialMonitor")
	}
	if m.ReopenSerialMonitorDelay != 250*time.Millisecond {
		t.Errorf("ReopenSerialMonitorDelay = %v, want 250ms", m.ReopenSerialMonitorDelay)
	}
	if got := c.PIO().Path; got != "/opt/pio" {
		t.Errorf("PIO().Path = %q, want /opt/pio", got)
	}
	// Untouched defaults survive the merge.
	if got := c.Logging().Level; got != DefaultLogLevel {
		t.Errorf("Logging().Level = %q", got)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "monitor:\n  reopenSerialMonitorDelay: 1000\ntasks:\n  refreshDelay: 50\n")

	c := New(path)
	if err := c.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := c.ReopenSerialMonitorDelay(); got != time.Second {
		t.Errorf("ReopenSerialMonitorDelay = %v, want 1s", got)
	}
	if got := c.Tasks().RefreshDelay; got != 50*time.Millisecond {
		t.Errorf("RefreshDelay = %v, want 50ms", got)
	}
}

func TestLoad_MissingFileIgnored(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "nope.toml"))
	if err := c.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !c.AutoCloseSerialMonitor() {
		t.Error("defaults should apply")
	}
}

func TestLoad_ParseErrorKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[pio]\npath = \"first\"\n")

	c := New(path)
	if err := c.Load(); err != nil {
		t.Fatal(err)
	}

	writeFile(t, path, "[pio\npath = ")
	err := c.Load()
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("Load() error = %v, want *ParseError", err)
	}
	if perr.Path != path {
		t.Errorf("ParseError.Path = %q", perr.Path)
	}
	if got := c.PIO().Path; got != "first" {
		t.Errorf("PIO().Path = %q after failed reload, want first", got)
	}
}

func TestWrongTypeFallsBackToDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[monitor]\nautoCloseSerialMonitor = \"yes\"\nreopenSerialMonitorDelay = -5\n")

	c := New(path)
	if err := c.Load(); err != nil {
		t.Fatal(err)
	}
	if !c.AutoCloseSerialMonitor() {
		t.Error("non-bool value should fall back to default true")
	}
	if got := c.ReopenSerialMonitorDelay(); got != 0 {
		t.Errorf("negative delay = %v, want 0", got)
	}
	if _, err := c.GetBool("monitor.autoCloseSerialMonitor"); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("GetBool error = %v, want ErrTypeMismatch", err)
	}
	if _, err := c.GetInt("monitor.nothing"); !errors.Is(err, ErrSettingNotFound) {
		t.Errorf("GetInt error = %v, want ErrSettingNotFound", err)
	}
}

func TestSet_OverridesSurviveReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[logging]\nlevel = \"warn\"\n")

	c := New(path)
	if err := c.Set("logging.level", "debug"); err != nil {
		t.Fatal(err)
	}
	if err := c.Load(); err != nil {
		t.Fatal(err)
	}
	if got := c.Logging().Level; got != "debug" {
		t.Errorf("Logging().Level = %q, want debug", got)
	}

	for _, bad := range []string{"", ".x", "x."} {
		if err := c.Set(bad, 1); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Set(%q) error = %v, want ErrInvalidPath", bad, err)
		}
	}
}

func TestOnChange(t *testing.T) {
	c := New()
	var calls atomic.Int32
	d := c.OnChange(func() { calls.Add(1) })

	_ = c.Set("pio.path", "x")
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}

	d.Dispose()
	_ = c.Set("pio.path", "y")
	if calls.Load() != 1 {
		t.Errorf("calls after dispose = %d, want 1", calls.Load())
	}
}

func TestDefaultPaths(t *testing.T) {
	paths := DefaultPaths("/work/proj")
	if len(paths) == 0 || paths[len(paths)-1] != filepath.Join("/work/proj", ProjectFileName) {
		t.Errorf("DefaultPaths = %v", paths)
	}
}
