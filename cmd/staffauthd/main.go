// staffauthd serves the staff authentication API over HTTP.
//
// Configuration comes from the environment (optionally a .env file); see the
// flag and env names below. A companion seed command provisions credentials
// directly in Redis for deployments using the bundled credential store.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	staffauth "github.com/wardline/staffauth"
	"github.com/wardline/staffauth/credstore"
	"github.com/wardline/staffauth/httpapi"
	promexport "github.com/wardline/staffauth/metrics/export/prometheus"
	"github.com/wardline/staffauth/notify"
	"github.com/wardline/staffauth/password"
)

func main() {
	var envFile string

	root := &cobra.Command{
		Use:           "staffauthd",
		Short:         "Staff authentication service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			// Missing .env is fine; the environment may be set directly.
			_ = godotenv.Load(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to a .env file")

	root.AddCommand(serveCmd(), seedCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "staffauthd:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", envOr("STAFFAUTH_ADDR", ":8080"), "listen address")
	return cmd
}

func serve(ctx context.Context, addr string) error {
	production := envOr("STAFFAUTH_ENV", "development") == "production"

	logger, err := buildLogger(production)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	rdb, err := buildRedis(ctx)
	if err != nil {
		return err
	}
	defer rdb.Close()

	engine, err := buildEngine(production, rdb, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	server := httpapi.NewServer(engine, httpapi.Options{
		CookieDomain:       os.Getenv("STAFFAUTH_COOKIE_DOMAIN"),
		CookieSecure:       production || envBool("STAFFAUTH_COOKIE_SECURE"),
		CookieSameSite:     envOr("STAFFAUTH_COOKIE_SAMESITE", "lax"),
		RefreshTokenInBody: envBool("STAFFAUTH_REFRESH_IN_BODY"),
		Logger:             logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/", server.Router())
	mux.Handle("/metrics", promexport.NewExporter(engine).Handler())

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr), zap.Bool("production", production))
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("shutting down", zap.String("reason", "context canceled"))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func seedCmd() *cobra.Command {
	var (
		email     string
		plaintext string
		role      string
		twoFactor bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Provision a staff credential in Redis",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" || plaintext == "" {
				return errors.New("--email and --password are required")
			}

			ctx := cmd.Context()
			rdb, err := buildRedis(ctx)
			if err != nil {
				return err
			}
			defer rdb.Close()

			cfg := staffauth.DefaultConfig()
			hasher, err := password.NewArgon2(password.Config{
				Memory:      cfg.Password.Memory,
				Time:        cfg.Password.Time,
				Parallelism: cfg.Password.Parallelism,
				SaltLength:  cfg.Password.SaltLength,
				KeyLength:   cfg.Password.KeyLength,
			})
			if err != nil {
				return err
			}
			hash, err := hasher.Hash(plaintext)
			if err != nil {
				return err
			}

			cred := staffauth.StaffCredential{
				UserID:           uuid.NewString(),
				Email:            email,
				Role:             role,
				PasswordHash:     hash,
				Active:           true,
				TwoFactorEnabled: twoFactor,
			}
			if err := credstore.NewRedisStore(rdb).Save(ctx, cred); err != nil {
				return err
			}

			fmt.Println("created", cred.UserID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "staff email address")
	cmd.Flags().StringVar(&plaintext, "password", "", "initial password")
	cmd.Flags().StringVar(&role, "role", "staff", "role for post-login routing and RBAC")
	cmd.Flags().BoolVar(&twoFactor, "two-factor", false, "require a one-time code at login")
	return cmd
}

func buildLogger(production bool) (*zap.Logger, error) {
	if production {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func buildRedis(ctx context.Context) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     envOr("STAFFAUTH_REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("STAFFAUTH_REDIS_PASSWORD"),
		DB:       envInt("STAFFAUTH_REDIS_DB", 0),
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func buildEngine(production bool, rdb *redis.Client, logger *zap.Logger) (*staffauth.Engine, error) {
	cfg := staffauth.DefaultConfig()
	cfg.Production = production
	cfg.JWT.PrivateKey = []byte(os.Getenv("STAFFAUTH_JWT_SECRET"))
	cfg.JWT.Issuer = envOr("STAFFAUTH_JWT_ISSUER", "staffauth")
	cfg.Password.BlocklistPath = os.Getenv("STAFFAUTH_PASSWORD_BLOCKLIST")
	cfg.Audit.Enabled = true

	builder := staffauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(credstore.NewRedisStore(rdb)).
		WithNotifier(buildNotifier(logger, production)).
		WithAuditSink(staffauth.NewJSONWriterSink(os.Stdout)).
		WithLogger(logger).
		WithMetricsEnabled(true).
		WithLatencyHistograms(true)

	return builder.Build()
}

// buildNotifier selects SMTP when a host is configured. Production refuses
// to fall back: a hospital deployment without a mail relay would otherwise
// silently echo codes to its logs.
func buildNotifier(logger *zap.Logger, production bool) staffauth.Notifier {
	host := os.Getenv("STAFFAUTH_SMTP_HOST")
	if host == "" {
		if production {
			logger.Warn("no SMTP host configured; code delivery will fail closed")
		}
		return notify.NewLog(logger)
	}

	return notify.NewSMTP(notify.SMTPConfig{
		Host:     host,
		Port:     envInt("STAFFAUTH_SMTP_PORT", 587),
		From:     envOr("STAFFAUTH_SMTP_FROM", "no-reply@localhost"),
		Username: os.Getenv("STAFFAUTH_SMTP_USER"),
		Password: os.Getenv("STAFFAUTH_SMTP_PASSWORD"),
		TLSMode:  envOr("STAFFAUTH_SMTP_TLS", "auto"),
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}
