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
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lanpoint/gamecenter/internal/auth"
	"github.com/lanpoint/gamecenter/internal/dispatch"
	"github.com/lanpoint/gamecenter/internal/engine"
	"github.com/lanpoint/gamecenter/internal/httpapi"
	"github.com/lanpoint/gamecenter/internal/notify"
	"github.com/lanpoint/gamecenter/internal/payment"
	"github.com/lanpoint/gamecenter/internal/store/gormstore"
)

const (
	flagDatabaseURL   = "database-url"
	flagListenAddr    = "listen-addr"
	flagOrigins       = "allowed-origins"
	flagSigningKey    = "session-signing-key"
	flagIssuer        = "session-issuer"
	flagCookieName    = "session-cookie-name"
	flagInternalToken = "internal-token"
	flagResetSecret   = "reset-secret"
	flagAMQPURL       = "amqp-url"
	flagPaymentURL    = "payment-base-url"
	flagPaymentToken  = "payment-token"

	configKeyDatabaseURL   = "database_url"
	configKeyListenAddr    = "listen_addr"
	configKeyOrigins       = "allowed_origins"
	configKeySigningKey    = "session_signing_key"
	configKeyIssuer        = "session_issuer"
	configKeyCookieName    = "session_cookie_name"
	configKeyInternalToken = "internal_token"
	configKeyResetSecret   = "reset_secret"
	configKeyAMQPURL       = "amqp_url"
	configKeyPaymentURL    = "payment_base_url"
	configKeyPaymentToken  = "payment_token"

	defaultDatabaseURL = "sqlite:///tmp/gamecenter.db"
	defaultListenAddr  = ":8080"
)

type runtimeConfig struct {
	DatabaseURL       string
	ListenAddr        string
	AllowedOrigins    string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	InternalToken     string
	ResetSecret       string
	AMQPURL           string
	PaymentBaseURL    string
	PaymentToken      string
}

func main() {
	_ = godotenv.Load()
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gamecenterd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "gamecenterd",
		Short:         "Gaming center booking and credit server",
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

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagOrigins, "", "comma-delimited CORS origins")
	cmd.Flags().String(flagSigningKey, "", "session JWT signing key")
	cmd.Flags().String(flagIssuer, "", "session JWT issuer")
	cmd.Flags().String(flagCookieName, "", "session cookie name")
	cmd.Flags().String(flagInternalToken, "", "token guarding /internal endpoints")
	cmd.Flags().String(flagResetSecret, "", "password reset token signing secret")
	cmd.Flags().String(flagAMQPURL, "", "RabbitMQ URL for outgoing mail; empty logs mail instead")
	cmd.Flags().String(flagPaymentURL, "", "payment provider base URL; empty completes purchases directly")
	cmd.Flags().String(flagPaymentToken, "", "payment provider bearer token")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]struct {
		flag string
		env  string
	}{
		configKeyDatabaseURL:   {flagDatabaseURL, "DATABASE_URL"},
		configKeyListenAddr:    {flagListenAddr, "LISTEN_ADDR"},
		configKeyOrigins:       {flagOrigins, "ALLOWED_ORIGINS"},
		configKeySigningKey:    {flagSigningKey, "SESSION_SIGNING_KEY"},
		configKeyIssuer:        {flagIssuer, "SESSION_ISSUER"},
		configKeyCookieName:    {flagCookieName, "SESSION_COOKIE_NAME"},
		configKeyInternalToken: {flagInternalToken, "INTERNAL_TOKEN"},
		configKeyResetSecret:   {flagResetSecret, "RESET_SECRET"},
		configKeyAMQPURL:       {flagAMQPURL, "AMQP_URL"},
		configKeyPaymentURL:    {flagPaymentURL, "PAYMENT_BASE_URL"},
		configKeyPaymentToken:  {flagPaymentToken, "PAYMENT_TOKEN"},
	}
	for key, binding := range bindings {
		if err := viper.BindEnv(key, binding.env); err != nil {
			return err
		}
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(binding.flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AllowedOrigins = viper.GetString(configKeyOrigins)
	cfg.SessionSigningKey = viper.GetString(configKeySigningKey)
	cfg.SessionIssuer = viper.GetString(configKeyIssuer)
	cfg.SessionCookieName = viper.GetString(configKeyCookieName)
	cfg.InternalToken = viper.GetString(configKeyInternalToken)
	cfg.ResetSecret = viper.GetString(configKeyResetSecret)
	cfg.AMQPURL = viper.GetString(configKeyAMQPURL)
	cfg.PaymentBaseURL = viper.GetString(configKeyPaymentURL)
	cfg.PaymentToken = viper.GetString(configKeyPaymentToken)

	if cfg.SessionSigningKey == "" {
		return fmt.Errorf("session signing key is required")
	}
	if cfg.InternalToken == "" {
		return fmt.Errorf("internal token is required")
	}
	if cfg.ResetSecret == "" {
		return fmt.Errorf("reset secret is required")
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
	now := func() time.Time { return time.Now().UTC() }

	var mailer notify.Mailer
	if cfg.AMQPURL != "" {
		mailer = notify.NewAMQPMailer(cfg.AMQPURL, notify.DefaultMailQueue, logger)
	} else {
		mailer = notify.NewLogMailer(logger)
	}
	notifier := notify.NewNotifier(mailer, logger)

	service, err := engine.NewService(store, now,
		engine.WithOperationLogger(engine.NewZapOperationLogger(logger)),
		engine.WithNotifier(notifier),
	)
	if err != nil {
		return fmt.Errorf("engine init: %w", err)
	}

	var provider payment.Provider
	if cfg.PaymentBaseURL != "" {
		provider, err = payment.NewHTTPProvider(cfg.PaymentBaseURL, cfg.PaymentToken)
		if err != nil {
			return fmt.Errorf("payment provider init: %w", err)
		}
	}

	resetFlow, err := auth.NewPasswordReset(store, cfg.ResetSecret, auth.DefaultResetTokenTTL, now)
	if err != nil {
		return fmt.Errorf("password reset init: %w", err)
	}

	dispatcher, err := dispatch.NewLinkDispatcher(service, logger, dispatch.DefaultInterval, dispatch.DefaultLookahead)
	if err != nil {
		return fmt.Errorf("dispatcher init: %w", err)
	}
	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("dispatcher start: %w", err)
	}
	defer func() { _ = dispatcher.Stop() }()

	apiConfig := httpapi.Config{
		ListenAddr:        cfg.ListenAddr,
		AllowedOrigins:    httpapi.ParseAllowedOrigins(cfg.AllowedOrigins),
		SessionSigningKey: cfg.SessionSigningKey,
		SessionIssuer:     cfg.SessionIssuer,
		SessionCookieName: cfg.SessionCookieName,
		InternalToken:     cfg.InternalToken,
	}
	return httpapi.Run(ctx, apiConfig, httpapi.Deps{
		Engine:      service,
		Catalog:     store,
		Provider:    provider,
		ResetFlow:   resetFlow,
		ResetMailer: notifier,
		Logger:      logger,
	})
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
			path = "gamecenter.db"
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
	if err := db.AutoMigrate(gormstore.AllModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
