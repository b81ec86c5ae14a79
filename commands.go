package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wfunc/geoguess/auth"
	"github.com/wfunc/geoguess/broadcast"
	"github.com/wfunc/geoguess/catalog"
	"github.com/wfunc/geoguess/config"
	"github.com/wfunc/geoguess/logger"
	"github.com/wfunc/geoguess/monitor"
	"github.com/wfunc/geoguess/persistence"
	"github.com/wfunc/geoguess/server"
)

const shutdownTimeout = 15 * time.Second

type app struct {
	v          *viper.Viper
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	cmd := &cobra.Command{
		Use:           "geoguess",
		Short:         "Multiplayer geography guessing game server.",
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       releaseVersion,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	fs := cmd.PersistentFlags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.StringVarP(&a.configPath, "config", "c", ".", "directory holding config.yaml")
	fs.String("log-level", "info", "log level (env: GEOGUESS_LOG_LEVEL)")
	fs.Bool("log-development", false, "human readable console logs (env: GEOGUESS_LOG_DEVELOPMENT)")
	bind(a.v, fs, "log.level", "log-level")
	bind(a.v, fs, "log.development", "log-development")

	cmd.AddCommand(a.serveCmd(), a.migrateCmd(), a.catalogCmd())
	return cmd
}

func bind(v *viper.Viper, fs *pflag.FlagSet, key, flag string) {
	cobra.CheckErr(v.BindPFlag(key, fs.Lookup(flag)))
}

// load resolves .env, config.yaml, env and flags into a.cfg and starts the logger.
func (a *app) load() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(a.v, a.configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, websocket and diagnostics servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			return a.serve(cmd.Context())
		},
	}

	fs := cmd.Flags()
	fs.String("http-address", ":8080", "HTTP listen address (env: GEOGUESS_SERVER_HTTP_ADDRESS)")
	fs.String("rpc-address", ":9090", "gRPC diagnostics address, empty to disable (env: GEOGUESS_SERVER_RPC_ADDRESS)")
	fs.String("metrics-address", "", "separate Prometheus listener (env: GEOGUESS_SERVER_METRICS_ADDRESS)")
	fs.Duration("round-timeout", 0, "round time limit, 0 waits for every player (env: GEOGUESS_GAME_ROUND_TIMEOUT)")
	bind(a.v, fs, "server.http_address", "http-address")
	bind(a.v, fs, "server.rpc_address", "rpc-address")
	bind(a.v, fs, "server.metrics_address", "metrics-address")
	bind(a.v, fs, "game.round_timeout", "round-timeout")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	cat, closeCatalog, err := openCatalog(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer closeCatalog()

	deps := server.Deps{
		Config:  cfg,
		Auth:    auth.NewJWTProvider(cfg.Auth.JWTSecret),
		Store:   store,
		Catalog: cat,
		Monitor: monitor.NewMonitor("geoguess"),
	}
	if cfg.NATS.URL != "" {
		relay, err := broadcast.ConnectNATS(cfg.NATS.URL, cfg.NATS.Token)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer relay.Close()
		deps.Relay = relay
		logger.Log.Infof("Relaying room events over NATS at %s", cfg.NATS.URL)
	}

	gs, err := server.NewGameServer(deps)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- gs.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Log.Infof("Received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return gs.Shutdown(shutdownCtx)
}

func openStore(cfg *config.Config) (persistence.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		store, err := persistence.NewGormPostgreSQL(cfg.Database.Postgres.DSN(), persistence.GormOptions{
			LogSQL:      cfg.Database.LogSQL,
			AutoMigrate: cfg.Database.AutoMigrate,
		})
		if err != nil {
			return nil, err
		}
		logger.Log.Info("Database connection successful.")
		return store, nil
	default:
		logger.Log.Warn("Using the in-memory store; state is lost on restart")
		return persistence.NewMemoryStore(), nil
	}
}

func openCatalog(ctx context.Context, cfg *config.Config) (catalog.Catalog, func(), error) {
	if cfg.Catalog.Driver == "postgres" {
		db, err := persistence.OpenPostgreSQL(ctx, cfg.Database.Postgres.DSN())
		if err != nil {
			return nil, nil, err
		}
		return catalog.NewPostgresCatalog(db), func() { _ = db.Close() }, nil
	}
	wallpapers, err := catalog.LoadSeedFile(cfg.Catalog.SeedFile)
	if err != nil {
		return nil, nil, err
	}
	logger.Log.Infof("Loaded %d wallpapers from %s", len(wallpapers), cfg.Catalog.SeedFile)
	return catalog.NewMemoryCatalog(wallpapers), func() {}, nil
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the Postgres schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			up := len(args) == 0 || args[0] == "up"
			if err := persistence.Migrate(a.cfg.Database.Postgres.URL(), up); err != nil {
				return err
			}
			logger.Log.Infow("migration finished", "up", up)
			return nil
		},
	}
}

func (a *app) catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the wallpaper catalog",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import FILE",
		Short: "Load a wallpaper JSON file into the Postgres catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wallpapers, err := catalog.LoadSeedFile(args[0])
			if err != nil {
				return err
			}
			if len(wallpapers) == 0 {
				return errors.New("no wallpapers in " + args[0])
			}
			ctx := cmd.Context()
			db, err := persistence.OpenPostgreSQL(ctx, a.cfg.Database.Postgres.DSN())
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := catalog.NewPostgresCatalog(db).Import(ctx, wallpapers)
			if err != nil {
				return err
			}
			logger.Log.Infow("catalog imported", "file", args[0], "wallpapers", n)
			return nil
		},
	})
	return cmd
}
