package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("NOTESYNC_ROOT", t.TempDir())

	cfg, err := NewLoader().Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	want := Default()
	if cfg.Debounce != want.Debounce || cfg.Coalesce != want.Coalesce {
		t.Errorf("timings = %v/%v, want %v/%v", cfg.Debounce, cfg.Coalesce, want.Debounce, want.Coalesce)
	}
	if !reflect.DeepEqual(cfg.Extensions, want.Extensions) {
		t.Errorf("Extensions = %v, want %v", cfg.Extensions, want.Extensions)
	}
	if cfg.Dashboard.Port != 8080 || !cfg.Catalog.Enabled || cfg.RSS.Timeout != 20*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_WorkspaceFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	root := t.TempDir()
	t.Setenv("NOTESYNC_ROOT", root)
	writeConfig(t, filepath.Join(root, ".notesync"), `
debounce = "250ms"
extensions = ["md", ".TXT"]

[dashboard]
port = 9000

[catalog]
enabled = false
`)

	l := NewLoader()
	cfg, err := l.Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Debounce != 250*time.Millisecond {
		t.Errorf("Debounce = %v, want 250ms", cfg.Debounce)
	}
	if !reflect.DeepEqual(cfg.Extensions, []string{".md", ".txt"}) {
		t.Errorf("Extensions = %v", cfg.Extensions)
	}
	if cfg.Dashboard.Port != 9000 || cfg.Catalog.Enabled {
		t.Errorf("cfg = %+v", cfg)
	}
	if l.ConfigFile() == "" {
		t.Error("ConfigFile() is empty")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "[dashboard]\nport = 9000\n")
	t.Setenv("NOTESYNC_DASHBOARD_PORT", "9100")
	t.Setenv("NOTESYNC_RSS_TIMEOUT", "5s")

	cfg, err := NewLoader().Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Dashboard.Port != 9100 {
		t.Errorf("port = %d, want 9100", cfg.Dashboard.Port)
	}
	if cfg.RSS.Timeout != 5*time.Second {
		t.Errorf("rss timeout = %v, want 5s", cfg.RSS.Timeout)
	}
}

func TestLoad_FlagsWin(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "debounce = \"1s\"\n")
	t.Setenv("NOTESYNC_DEBOUNCE", "2s")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("root", ".", "")
	fs.Duration("debounce", 0, "")
	fs.Bool("verbose", false, "")
	if err := fs.Parse([]string{"--root", dir, "--debounce", "3s"}); err != nil {
		t.Fatal(err)
	}

	l := NewLoader()
	if err := l.BindFlags(fs); err != nil {
		t.Fatalf("BindFlags() failed: %v", err)
	}
	cfg, err := l.Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Root != dir || cfg.Debounce != 3*time.Second {
		t.Errorf("root = %q debounce = %v", cfg.Root, cfg.Debounce)
	}
	if cfg.Log.Verbose {
		t.Error("unset --verbose should keep the default")
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := NewLoader().Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("Load() should fail for a missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"empty root", func(c *Config) { c.Root = "" }, true},
		{"negative debounce", func(c *Config) { c.Debounce = -time.Second }, true},
		{"port out of range", func(c *Config) { c.Dashboard.Port = 70000 }, true},
		{"blank extension", func(c *Config) { c.Extensions = []string{" "} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
