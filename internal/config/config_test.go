package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	config := Default()

	if config.Generator.SourceCount != 100 {
		t.Errorf("expected SourceCount 100, got %d", config.Generator.SourceCount)
	}
	if config.Monitor.RefreshDelayMs != 0 {
		t.Errorf("expected RefreshDelayMs 0, got %d", config.Monitor.RefreshDelayMs)
	}
	if config.Monitor.RefreshDelay() != 0 {
		t.Errorf("expected RefreshDelay 0, got %v", config.Monitor.RefreshDelay())
	}
	if config.Logging.Level != "info" {
		t.Errorf("expected Logging.Level 'info', got '%s'", config.Logging.Level)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
generator:
  source_count: 3
monitor:
  refresh_delay_ms: 250
server:
  addr: "127.0.0.1:9999"
logging:
  level: debug
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Generator.SourceCount != 3 {
		t.Errorf("expected SourceCount 3, got %d", config.Generator.SourceCount)
	}
	if config.Monitor.RefreshDelay() != 250*time.Millisecond {
		t.Errorf("expected RefreshDelay 250ms, got %v", config.Monitor.RefreshDelay())
	}
	if config.Server.Addr != "127.0.0.1:9999" {
		t.Errorf("expected Addr '127.0.0.1:9999', got '%s'", config.Server.Addr)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("expected Logging.Level 'debug', got '%s'", config.Logging.Level)
	}
}

func TestLoadFromFile_PartialKeepsDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("monitor:\n  refresh_delay_ms: 10\n"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if config.Generator.SourceCount != 100 {
		t.Errorf("expected default SourceCount 100, got %d", config.Generator.SourceCount)
	}
	if config.Monitor.RefreshDelayMs != 10 {
		t.Errorf("expected RefreshDelayMs 10, got %d", config.Monitor.RefreshDelayMs)
	}
}

func TestLoadFromFile_EnvExpansion(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  addr: ${TEST_DBMON_ADDR}\n"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("TEST_DBMON_ADDR", "0.0.0.0:7000")

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if config.Server.Addr != "0.0.0.0:7000" {
		t.Errorf("expected Addr '0.0.0.0:7000', got '%s'", config.Server.Addr)
	}
}

func TestLoad_UsesHomeConfigAndEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := Default()
	cfg.Generator.SourceCount = 7
	path := filepath.Join(home, DirName, "config.yaml")
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	t.Setenv("DBMON_REFRESH_DELAY_MS", "40")

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Generator.SourceCount != 7 {
		t.Errorf("expected SourceCount 7 from file, got %d", loaded.Generator.SourceCount)
	}
	if loaded.Monitor.RefreshDelayMs != 40 {
		t.Errorf("expected RefreshDelayMs 40 from env, got %d", loaded.Monitor.RefreshDelayMs)
	}
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	config, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Generator.SourceCount != 100 {
		t.Errorf("expected default SourceCount, got %d", config.Generator.SourceCount)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DBMON_SOURCE_COUNT", "12")
	t.Setenv("DBMON_REFRESH_DELAY_MS", "500")
	t.Setenv("DBMON_HTTP_ADDR", ":9090")
	t.Setenv("DBMON_LOG_LEVEL", "trace")

	config := Default()
	applyEnvOverrides(config)

	if config.Generator.SourceCount != 12 {
		t.Errorf("expected SourceCount 12, got %d", config.Generator.SourceCount)
	}
	if config.Monitor.RefreshDelayMs != 500 {
		t.Errorf("expected RefreshDelayMs 500, got %d", config.Monitor.RefreshDelayMs)
	}
	if config.Server.Addr != ":9090" {
		t.Errorf("expected Addr ':9090', got '%s'", config.Server.Addr)
	}
	if config.Logging.Level != "trace" {
		t.Errorf("expected Logging.Level 'trace', got '%s'", config.Logging.Level)
	}
}

func TestEnvOverrides_IgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("DBMON_SOURCE_COUNT", "lots")
	t.Setenv("DBMON_REFRESH_DELAY_MS", "soon")

	config := Default()
	applyEnvOverrides(config)

	if config.Generator.SourceCount != 100 {
		t.Errorf("expected SourceCount unchanged, got %d", config.Generator.SourceCount)
	}
	if config.Monitor.RefreshDelayMs != 0 {
		t.Errorf("expected RefreshDelayMs unchanged, got %d", config.Monitor.RefreshDelayMs)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*DbmonConfig)
		wantErr string
	}{
		{"defaults", func(*DbmonConfig) {}, ""},
		{"one source", func(c *DbmonConfig) { c.Generator.SourceCount = 1 }, ""},
		{"zero sources", func(c *DbmonConfig) { c.Generator.SourceCount = 0 }, "source_count"},
		{"negative delay", func(c *DbmonConfig) { c.Monitor.RefreshDelayMs = -1 }, "refresh_delay_ms"},
		{"empty level", func(c *DbmonConfig) { c.Logging.Level = "" }, ""},
		{"trace level", func(c *DbmonConfig) { c.Logging.Level = "trace" }, ""},
		{"bad level", func(c *DbmonConfig) { c.Logging.Level = "verbose" }, "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetSet(t *testing.T) {
	config := Default()

	for _, key := range Keys {
		if _, ok := config.Get(key); !ok {
			t.Errorf("Get(%q) should be found", key)
		}
	}

	if err := config.Set("generator.source_count", "4"); err != nil {
		t.Fatalf("Set source_count failed: %v", err)
	}
	if v, _ := config.Get("generator.source_count"); v != 4 {
		t.Errorf("source_count = %v, want 4", v)
	}

	if err := config.Set("monitor.refresh_delay_ms", "1000"); err != nil {
		t.Fatalf("Set refresh_delay_ms failed: %v", err)
	}
	if config.Monitor.RefreshDelay() != time.Second {
		t.Errorf("RefreshDelay = %v, want 1s", config.Monitor.RefreshDelay())
	}

	if err := config.Set("logging.level", "debug"); err != nil {
		t.Fatalf("Set logging.level failed: %v", err)
	}
}

func TestSet_Invalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"generator.source_count", "0"},
		{"generator.source_count", "many"},
		{"monitor.refresh_delay_ms", "-5"},
		{"logging.level", "loud"},
		{"nope.key", "1"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			if err := Default().Set(tt.key, tt.value); err == nil {
				t.Errorf("Set(%q, %q) should fail", tt.key, tt.value)
			}
		})
	}

	if _, ok := Default().Get("nope.key"); ok {
		t.Error("Get on unknown key should report false")
	}
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	config := Default()
	config.Generator.SourceCount = 9
	config.Server.Addr = ""
	if err := config.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if loaded.Generator.SourceCount != 9 {
		t.Errorf("SourceCount = %d, want 9", loaded.Generator.SourceCount)
	}
	if loaded.Server.Addr != "" {
		t.Errorf("Addr = %q, want empty", loaded.Server.Addr)
	}
}

func TestLoadFromFile_NotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("generator: [not: valid"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if _, err := LoadFromFile(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}
