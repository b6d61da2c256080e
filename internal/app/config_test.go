package app

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.Platform.AppID = 123456
	cfg.Platform.AppSecret = "0123456789abcdef0123456789abcdef"
	cfg.Platform.BaseURL = "https://gateway.example.com"
	return cfg
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := validConfig()
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if cfg.Sessions.Backend != BackendFile {
		t.Errorf("backend = %q, want file", cfg.Sessions.Backend)
	}
	if cfg.Sessions.FilePath != "user_sessions.json" {
		t.Errorf("file_path = %q", cfg.Sessions.FilePath)
	}
	if cfg.Sessions.IdleTimeoutMinutes != 30 || cfg.Sessions.MaxActive != 1000 {
		t.Errorf("sessions = %+v", cfg.Sessions)
	}
	if cfg.Import.BatchSize != 30 || cfg.Import.PauseSeconds != 10 || cfg.Import.MaxFileBytes != 1<<20 {
		t.Errorf("import = %+v", cfg.Import)
	}
}

func TestNormalizeRequiresPlatformCredentials(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing app id", func(c *Config) { c.Platform.AppID = 0 }, "platform.app_id"},
		{"negative app id", func(c *Config) { c.Platform.AppID = -5 }, "platform.app_id"},
		{"missing secret", func(c *Config) { c.Platform.AppSecret = "  " }, "platform.app_secret"},
		{"missing base url", func(c *Config) { c.Platform.BaseURL = "" }, "platform.base_url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := Normalize(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Normalize error = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestNormalizeBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Sessions.Backend = " Postgres "
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Sessions.Backend != BackendPostgres {
		t.Errorf("backend = %q, want postgres", cfg.Sessions.Backend)
	}

	cfg = validConfig()
	cfg.Sessions.Backend = "redis"
	if err := Normalize(cfg); err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
}

func TestNormalizeRejectsNegativeBounds(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"batch size":    func(c *Config) { c.Import.BatchSize = -1 },
		"pause":         func(c *Config) { c.Import.PauseSeconds = -1 },
		"max file":      func(c *Config) { c.Import.MaxFileBytes = -1 },
		"idle timeout":  func(c *Config) { c.Sessions.IdleTimeoutMinutes = -1 },
		"max active":    func(c *Config) { c.Sessions.MaxActive = -1 },
		"platform wait": func(c *Config) { c.Platform.TimeoutSeconds = -1 },
	} {
		cfg := validConfig()
		mutate(cfg)
		if err := Normalize(cfg); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}
