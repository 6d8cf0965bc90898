package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	content := `
target: "https://example.com/"
mode: single
`
	cfg := loadConfigFromString(t, content)

	if cfg.Mode != ModeSingle {
		t.Errorf("expected mode single, got %q", cfg.Mode)
	}
	if cfg.Method != "GET" {
		t.Errorf("expected default method GET, got %q", cfg.Method)
	}
	if cfg.Concurrency != 2 {
		t.Errorf("expected default concurrency 2, got %d", cfg.Concurrency)
	}
	if cfg.ConnectTimeout.Std() != time.Second {
		t.Errorf("expected default connect timeout 1s, got %v", cfg.ConnectTimeout)
	}
	if cfg.Timeout.Std() != 3*time.Second {
		t.Errorf("expected default timeout 3s, got %v", cfg.Timeout)
	}
}

func TestLoadConfig_FullFile(t *testing.T) {
	content := `
target: "https://example.com/item/%RAND(1,10)%"
mode: single
method: post
concurrency: 8
requests: 200
duration: 1d
connect_timeout: 250ms
timeout: 2s
headers:
  X-Id: "%RAND(1,5)%"
  Content-Type: application/json
body: '{"n": %RAND(0,9)%}'
basic_auth:
  username: admin
  password: secret
random_arguments: true
rate: 50
thresholds:
  http_req_duration:
    p95: 500ms
  http_req_failed:
    rate: "1%"
`
	cfg := loadConfigFromString(t, content)
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	if cfg.Method != "POST" {
		t.Errorf("expected method normalized to POST, got %q", cfg.Method)
	}
	if cfg.Duration.Std() != 24*time.Hour {
		t.Errorf("expected duration 24h, got %v", cfg.Duration)
	}
	if cfg.ConnectTimeout.Std() != 250*time.Millisecond {
		t.Errorf("expected connect timeout 250ms, got %v", cfg.ConnectTimeout)
	}
	if cfg.Headers["X-Id"] != "%RAND(1,5)%" {
		t.Errorf("expected raw header template, got %q", cfg.Headers["X-Id"])
	}
	if cfg.BasicAuth == nil || cfg.BasicAuth.Username != "admin" || cfg.BasicAuth.Password != "secret" {
		t.Errorf("unexpected basic auth %+v", cfg.BasicAuth)
	}
	if cfg.Thresholds == nil || cfg.Thresholds.HTTPReqDuration.P95 != 500*time.Millisecond {
		t.Errorf("expected p95 threshold of 500ms, got %+v", cfg.Thresholds)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	path := createTempFile(t, "duration: soon\n")
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestNormalize_DefaultRequests(t *testing.T) {
	tests := []struct {
		name     string
		mode     Mode
		requests int
		duration time.Duration
		want     int
	}{
		{"single without limits", ModeSingle, 0, 0, DefaultRequests},
		{"file without limits", ModeFile, 0, 0, DefaultRequests},
		{"discover without limits", ModeDiscover, 0, 0, 0},
		{"single with duration", ModeSingle, 0, time.Minute, 0},
		{"explicit requests", ModeSingle, 50, 0, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Mode = tt.mode
			cfg.MaxRequests = tt.requests
			cfg.Duration = Duration(tt.duration)
			cfg.Normalize()
			if cfg.MaxRequests != tt.want {
				t.Errorf("MaxRequests = %d, want %d", cfg.MaxRequests, tt.want)
			}
		})
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *RunConfig)
		field  string
	}{
		{"connect timeout too low", func(c *RunConfig) { c.ConnectTimeout = Duration(49 * time.Millisecond) }, "connect timeout"},
		{"timeout too low", func(c *RunConfig) { c.Timeout = Duration(10 * time.Millisecond) }, "timeout"},
		{"requests below concurrency", func(c *RunConfig) { c.Concurrency = 10; c.MaxRequests = 5 }, "requests"},
		{"prevent duplicates outside discover", func(c *RunConfig) { c.Mode = ModeSingle; c.PreventDuplicates = true }, "prevent duplicates"},
		{"unknown mode", func(c *RunConfig) { c.Mode = "crawl" }, "mode"},
		{"unknown method", func(c *RunConfig) { c.Method = "FETCH" }, "method"},
		{"zero concurrency", func(c *RunConfig) { c.Concurrency = 0 }, "concurrency"},
		{"bad url", func(c *RunConfig) { c.Target = "ftp://example.com/" }, "url"},
		{"bad url template", func(c *RunConfig) { c.Target = "https://example.com/%RAND(5,1)%" }, "url"},
		{"bad header template", func(c *RunConfig) { c.Headers = map[string]string{"X-Id": "%RAND(x,1)%"} }, "header X-Id"},
		{"bad body template", func(c *RunConfig) { c.Body = "%RAND(1,2" }, "body"},
		{"unknown dedupe policy", func(c *RunConfig) { c.DedupeQuery = "drop" }, "dedupe query"},
		{"unknown output", func(c *RunConfig) { c.Output = "xml" }, "output"},
		{"file mode without urls", func(c *RunConfig) { c.Mode = ModeFile }, "url file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}

			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigError, got %T: %v", err, err)
			}
			if !strings.Contains(err.Error(), "invalid "+tt.field) {
				t.Errorf("expected error about %q, got %v", tt.field, err)
			}
		})
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestValidate_RequestsEqualConcurrency(t *testing.T) {
	cfg := validConfig()
	cfg.Concurrency = 4
	cfg.MaxRequests = 4
	if err := cfg.Validate(); err != nil {
		t.Errorf("requests == concurrency should be valid, got %v", err)
	}
}

func TestHosts_FileMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = ModeFile
	cfg.URLs = []string{
		"https://a.example.com/1",
		"https://B.example.com/2",
		"https://a.example.com/3",
		"https://c.example.com/%RAND(1,3)%",
	}

	hosts := cfg.Hosts()
	want := []string{"a.example.com", "b.example.com", "c.example.com"}
	if strings.Join(hosts, ",") != strings.Join(want, ",") {
		t.Errorf("Hosts() = %v, want %v", hosts, want)
	}
}

func validConfig() *RunConfig {
	cfg := Default()
	cfg.Target = "https://example.com/"
	return cfg
}

func loadConfigFromString(t *testing.T, content string) *RunConfig {
	t.Helper()
	tmpFile := createTempFile(t, content)
	defer os.Remove(tmpFile)

	cfg, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func createTempFile(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	return tmpFile
}
