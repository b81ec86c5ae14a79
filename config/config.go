package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "GEOGUESS"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Game     GameConfig     `mapstructure:"game"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPAddress    string   `mapstructure:"http_address"`
	RPCAddress     string   `mapstructure:"rpc_address"`
	MetricsAddress string   `mapstructure:"metrics_address"`
	PublicURL      string   `mapstructure:"public_url"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
	// RateLimit is requests per minute per client IP. Zero disables limiting.
	RateLimit int `mapstructure:"rate_limit"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	Driver      string         `mapstructure:"driver"`
	Postgres    PostgresConfig `mapstructure:"postgres"`
	AutoMigrate bool           `mapstructure:"auto_migrate"`
	LogSQL      bool           `mapstructure:"log_sql"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns the key/value connection string understood by both lib/pq and pgx.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

// URL returns the connection string in URL form, as golang-migrate expects.
func (p PostgresConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:     p.DBName,
		RawQuery: "sslmode=" + p.SSLMode,
	}
	return u.String()
}

type CatalogConfig struct {
	Driver   string `mapstructure:"driver"`
	SeedFile string `mapstructure:"seed_file"`
}

type GameConfig struct {
	// RoundTimeout of zero means a round waits for every eligible player.
	RoundTimeout  time.Duration `mapstructure:"round_timeout"`
	DefaultRounds int           `mapstructure:"default_rounds"`
	CodeLength    int           `mapstructure:"code_length"`

	roundTimeoutSet bool
}

type NATSConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

var keys = []string{
	"server.http_address",
	"server.rpc_address",
	"server.metrics_address",
	"server.public_url",
	"server.cors_origins",
	"server.rate_limit",
	"auth.jwt_secret",
	"database.driver",
	"database.postgres.host",
	"database.postgres.port",
	"database.postgres.user",
	"database.postgres.password",
	"database.postgres.dbname",
	"database.postgres.sslmode",
	"database.auto_migrate",
	"database.log_sql",
	"catalog.driver",
	"catalog.seed_file",
	"game.round_timeout",
	"game.default_rounds",
	"game.code_length",
	"nats.url",
	"nats.token",
	"log.level",
	"log.development",
}

// New returns a viper instance carrying the defaults and env bindings.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":9090")
	v.SetDefault("server.metrics_address", "")
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit", 300)
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.dbname", "geoguess")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("catalog.driver", "memory")
	v.SetDefault("game.default_rounds", 3)
	v.SetDefault("game.code_length", 6)
	v.SetDefault("log.level", "info")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}
	return v
}

// Load reads config.yaml from path when present and decodes v into a Config.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.AddConfigPath(path)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Game.roundTimeoutSet = v.IsSet("game.round_timeout")
	return cfg, nil
}

// LoadConfig is Load over a fresh instance.
func LoadConfig(path string) (*Config, error) {
	return Load(New(), path)
}

// LoadDotEnv loads a .env file into the process environment. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := godotenv.Read(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// SetRoundTimeout marks the timeout as explicitly configured.
func (g *GameConfig) SetRoundTimeout(d time.Duration) {
	g.RoundTimeout = d
	g.roundTimeoutSet = true
}

func (c *Config) Validate() error {
	if !c.Game.roundTimeoutSet {
		return errors.New("game.round_timeout must be set (use 0s to wait for every player)")
	}
	if c.Game.RoundTimeout < 0 {
		return fmt.Errorf("game.round_timeout must not be negative: %s", c.Game.RoundTimeout)
	}
	if c.Game.DefaultRounds < 1 {
		return fmt.Errorf("game.default_rounds must be at least 1: %d", c.Game.DefaultRounds)
	}
	if c.Game.CodeLength < 4 {
		return fmt.Errorf("game.code_length must be at least 4: %d", c.Game.CodeLength)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret must not be empty")
	}
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	switch c.Catalog.Driver {
	case "postgres":
	case "memory":
		if c.Catalog.SeedFile == "" {
			return errors.New("catalog.seed_file is required for the memory catalog")
		}
	default:
		return fmt.Errorf("unknown catalog.driver %q", c.Catalog.Driver)
	}
	return nil
}
