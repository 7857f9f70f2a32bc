package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/sourcewire/auctioncore/internal/gateway"
	"github.com/sourcewire/auctioncore/internal/httpapi"
	"github.com/sourcewire/auctioncore/internal/store/gormstore"
	"github.com/sourcewire/auctioncore/internal/sweeper"
	"github.com/sourcewire/auctioncore/pkg/auction"
	"github.com/sourcewire/auctioncore/pkg/grant"
	"github.com/sourcewire/auctioncore/pkg/ledger"
)

const (
	flagDatabaseURL      = "database-url"
	flagListenAddr       = "listen-addr"
	flagAllowedOrigins   = "allowed-origins"
	flagTokenSigningKey  = "token-signing-key"
	flagTokenIssuer      = "token-issuer"
	flagSweepInterval    = "sweep-interval"
	configKeyDatabaseURL = "database_url"
	configKeyListenAddr  = "listen_addr"
	configKeyOrigins     = "allowed_origins"
	configKeySigningKey  = "token_signing_key"
	configKeyTokenIssuer = "token_issuer"
	configKeySweep       = "sweep_interval"
	defaultDatabaseURL   = "sqlite:///tmp/auctioncore.db"
	defaultListenAddr    = ":8080"
	defaultTokenIssuer   = "auctioncore"
	defaultSweepInterval = 15 * time.Second
)

type runtimeConfig struct {
	DatabaseURL     string
	ListenAddr      string
	AllowedOrigins  string
	TokenSigningKey string
	TokenIssuer     string
	SweepInterval   time.Duration
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "auctiond: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "auctiond",
		Short:         "Live-auction engine for the content marketplace",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "database connection string (postgres:// or sqlite://)")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagTokenSigningKey, "", "download token signing key (required)")
	cmd.Flags().String(flagTokenIssuer, defaultTokenIssuer, "download token issuer claim")
	cmd.Flags().Duration(flagSweepInterval, defaultSweepInterval, "interval between due-auction sweeps")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL: "DATABASE_URL",
		configKeyListenAddr:  "LISTEN_ADDR",
		configKeyOrigins:     "ALLOWED_ORIGINS",
		configKeySigningKey:  "TOKEN_SIGNING_KEY",
		configKeyTokenIssuer: "TOKEN_ISSUER",
		configKeySweep:       "SWEEP_INTERVAL",
	}
	for configKey, envName := range bindings {
		if err := viper.BindEnv(configKey, envName); err != nil {
			return err
		}
	}
	flags := map[string]string{
		configKeyDatabaseURL: flagDatabaseURL,
		configKeyListenAddr:  flagListenAddr,
		configKeyOrigins:     flagAllowedOrigins,
		configKeySigningKey:  flagTokenSigningKey,
		configKeyTokenIssuer: flagTokenIssuer,
		configKeySweep:       flagSweepInterval,
	}
	for configKey, flagName := range flags {
		if err := viper.BindPFlag(configKey, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	cfg.AllowedOrigins = viper.GetString(configKeyOrigins)
	cfg.TokenSigningKey = viper.GetString(configKeySigningKey)
	cfg.TokenIssuer = viper.GetString(configKeyTokenIssuer)
	cfg.SweepInterval = viper.GetDuration(configKeySweep)

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.TokenIssuer == "" {
		cfg.TokenIssuer = defaultTokenIssuer
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.TokenSigningKey == "" {
		return fmt.Errorf("token signing key is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	store := gormstore.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }

	signer, err := grant.NewTokenSigner([]byte(cfg.TokenSigningKey), cfg.TokenIssuer)
	if err != nil {
		return fmt.Errorf("token signer init: %w", err)
	}
	issuer, err := grant.NewIssuer(signer)
	if err != nil {
		return fmt.Errorf("grant issuer init: %w", err)
	}
	auctionService, err := auction.NewService(store, issuer, clock)
	if err != nil {
		return fmt.Errorf("auction service init: %w", err)
	}
	ledgerService, err := ledger.NewService(store.Ledger(), clock)
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}
	grantService, err := grant.NewService(store.Grants(), signer, clock)
	if err != nil {
		return fmt.Errorf("grant service init: %w", err)
	}
	adapter, err := gateway.New(ledgerService)
	if err != nil {
		return fmt.Errorf("gateway init: %w", err)
	}

	server, err := httpapi.NewServer(
		httpapi.Config{
			ListenAddr:     cfg.ListenAddr,
			AllowedOrigins: httpapi.ParseAllowedOrigins(cfg.AllowedOrigins),
		},
		logger,
		auctionService,
		ledgerService,
		grantService,
		adapter,
	)
	if err != nil {
		return fmt.Errorf("http server init: %w", err)
	}

	auctionSweeper, err := sweeper.New(auctionService, logger, sweeper.WithInterval(cfg.SweepInterval))
	if err != nil {
		return fmt.Errorf("sweeper init: %w", err)
	}
	go auctionSweeper.Run(ctx)

	return server.Run(ctx)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "auctioncore.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := gormstore.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
