package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
server:
  http_address: ":8081"
  cors_origins: ["https://play.example.com"]
auth:
  jwt_secret: "file-secret"
catalog:
  driver: memory
  seed_file: wallpapers.json
game:
  round_timeout: 45s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return dir
}

func TestLoadConfig_FileAndDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.HTTPAddress != ":8081" {
		t.Errorf("Expected http address :8081, got %s", cfg.Server.HTTPAddress)
	}
	if cfg.Game.RoundTimeout != 45*time.Second {
		t.Errorf("Expected round timeout 45s, got %s", cfg.Game.RoundTimeout)
	}
	if cfg.Game.DefaultRounds != 3 {
		t.Errorf("Expected default rounds 3, got %d", cfg.Game.DefaultRounds)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("Expected memory database driver, got %s", cfg.Database.Driver)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("GEOGUESS_AUTH_JWT_SECRET", "env-secret")
	t.Setenv("GEOGUESS_GAME_ROUND_TIMEOUT", "0s")
	t.Setenv("GEOGUESS_DATABASE_POSTGRES_PORT", "6543")

	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Auth.JWTSecret != "env-secret" {
		t.Errorf("Expected env secret, got %s", cfg.Auth.JWTSecret)
	}
	if cfg.Game.RoundTimeout != 0 {
		t.Errorf("Expected zero round timeout, got %s", cfg.Game.RoundTimeout)
	}
	if cfg.Database.Postgres.Port != 6543 {
		t.Errorf("Expected port 6543, got %d", cfg.Database.Postgres.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("An explicit 0s timeout should validate, got %v", err)
	}
}

func TestValidate_RoundTimeoutRequired(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, strings.Replace(sampleYAML, "round_timeout: 45s", "", 1)))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "round_timeout") {
		t.Fatalf("Expected round_timeout error, got %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	base := func() *Config {
		cfg := &Config{
			Auth:     AuthConfig{JWTSecret: "s"},
			Database: DatabaseConfig{Driver: "memory"},
			Catalog:  CatalogConfig{Driver: "memory", SeedFile: "w.json"},
			Game:     GameConfig{DefaultRounds: 3, CodeLength: 6},
		}
		cfg.Game.SetRoundTimeout(time.Minute)
		return cfg
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("Base config should be valid: %v", err)
	}

	cases := map[string]func(*Config){
		"empty secret":     func(c *Config) { c.Auth.JWTSecret = "" },
		"negative timeout": func(c *Config) { c.Game.RoundTimeout = -time.Second },
		"unknown store":    func(c *Config) { c.Database.Driver = "mongo" },
		"unknown catalog":  func(c *Config) { c.Catalog.Driver = "bing" },
		"missing seed":     func(c *Config) { c.Catalog.SeedFile = "" },
		"zero rounds":      func(c *Config) { c.Game.DefaultRounds = 0 },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestPostgresConfig_URL(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "geo", Password: "p@ss", DBName: "geoguess", SSLMode: "disable"}
	want := "postgres://geo:p%40ss@db:5432/geoguess?sslmode=disable"
	if got := p.URL(); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}
