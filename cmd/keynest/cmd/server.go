package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/keynest/keynest/api"
	"github.com/keynest/keynest/internal/metrics"
	"github.com/keynest/keynest/internal/ui"
	"github.com/keynest/keynest/internal/util"
	"github.com/keynest/keynest/secretcipher"
	"github.com/keynest/keynest/storage"
	bboltstorage "github.com/keynest/keynest/storage/bbolt"
	"github.com/keynest/keynest/storage/memory"
	pgstorage "github.com/keynest/keynest/storage/postgres"
)

const postgresDSNEnv = "KEYNEST_POSTGRES_DSN"

var (
	port           int
	addr           string
	storageBackend string
	dataDir        string
	postgresDSN    string
	kdfProfile     string
	logLevel       string
	logFormat      string
	tlsCert        string
	tlsKey         string
	noTLS          bool
	trustedProxies []string
	rateLimit      float64
	rateBurst      int
	webhookURL     string
	webhookHeader  string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the KeyNest API server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(cmd.ErrOrStderr(), logFormat, logLevel)
		if err != nil {
			return err
		}

		profile, err := secretcipher.ParseProfile(kdfProfile)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		repo, closeRepo, err := openRepository(ctx)
		if err != nil {
			return err
		}
		defer closeRepo()

		provider, err := metrics.NewProvider()
		if err != nil {
			return err
		}
		defer provider.Shutdown(context.Background())
		cipherMetrics, err := metrics.NewCipherMetrics(provider.MeterProvider(), "keynest")
		if err != nil {
			return err
		}

		proxyOpt, err := api.WithTrustedProxies(trustedProxies)
		if err != nil {
			return err
		}

		opts := []api.Option{
			api.WithLogger(logger),
			api.WithCipher(secretcipher.New(secretcipher.WithProfile(profile))),
			api.WithMetrics(cipherMetrics, provider.Handler()),
			api.WithIPRateLimit(rateLimit, rateBurst),
			proxyOpt,
		}
		if webhookURL != "" {
			opts = append(opts, api.WithAuditWebhook(webhookURL, webhookHeader))
		}
		a := api.New(repo, opts...)
		defer a.Close()
		go a.RunSweeper(ctx, 10*time.Minute)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Use(api.SecurityHeaders)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Mount("/api/v1", a.Router())

		tlsConfig, err := serverTLSConfig(cmd)
		if err != nil {
			return err
		}

		listenAddr := net.JoinHostPort(addr, strconv.Itoa(port))
		server := &http.Server{
			Addr:              listenAddr,
			Handler:           r,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		done := make(chan error, 1)
		go func() {
			var err error
			if tlsConfig != nil {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		out := cmd.OutOrStdout()
		printBanner(out)
		fmt.Fprintf(out, "Listening on %s (storage: %s, kdf profile: %s)\n", listenAddr, storageBackend, profile)
		logger.Info("server started",
			slog.String("addr", listenAddr),
			slog.String("storage", storageBackend),
			slog.String("kdf_profile", profile.String()),
			slog.Bool("tls", tlsConfig != nil),
		)

		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nShutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// openRepository opens the configured storage backend. The returned func
// releases it.
func openRepository(ctx context.Context) (storage.Repository, func(), error) {
	switch storageBackend {
	case "memory":
		return memory.NewRepository(), func() {}, nil
	case "bbolt":
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(dataDir, "keynest.db"), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open key storage: %w", err)
		}
		return repo, func() { repo.Close() }, nil
	case "postgres":
		dsn := postgresDSN
		if dsn == "" {
			dsn = os.Getenv(postgresDSNEnv)
		}
		if dsn == "" {
			return nil, nil, fmt.Errorf("--postgres-dsn or %s is required for postgres storage", postgresDSNEnv)
		}
		repo, err := pgstorage.NewRepositoryFromDSN(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q (want memory, bbolt or postgres)", storageBackend)
	}
}

func serverTLSConfig(cmd *cobra.Command) (*tls.Config, error) {
	if noTLS {
		fmt.Fprintln(cmd.ErrOrStderr(), ui.Warning.Sprint("TLS disabled; serve behind a TLS-terminating proxy"))
		return nil, nil
	}
	var cert tls.Certificate
	var err error
	if tlsCert != "" && tlsKey != "" {
		cert, err = tls.LoadX509KeyPair(tlsCert, tlsKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
	} else {
		cert, err = util.GenerateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), ui.Info.Sprint("Using self-signed runtime generated certificate for TLS"))
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	f := serverCmd.Flags()
	f.IntVarP(&port, "port", "p", 8443, "Port to listen on")
	f.StringVar(&addr, "addr", "", "Address to bind (empty for all interfaces)")
	f.StringVar(&storageBackend, "storage", "bbolt", "Storage backend: memory, bbolt or postgres")
	f.StringVar(&dataDir, "data-dir", "./data", "Directory for bbolt data")
	f.StringVar(&postgresDSN, "postgres-dsn", "", "PostgreSQL connection string (defaults to $"+postgresDSNEnv+")")
	f.StringVar(&kdfProfile, "kdf-profile", secretcipher.DefaultProfile.String(),
		"Argon2id profile for new bundles: interactive, moderate or sensitive")
	f.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	f.StringVar(&logFormat, "log-format", "json", "Log format: json or text")
	f.StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	f.StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	f.BoolVar(&noTLS, "no-tls", false, "Serve plain HTTP")
	f.StringSliceVar(&trustedProxies, "trusted-proxies", nil, "CIDRs whose forwarding headers identify the client")
	f.Float64Var(&rateLimit, "rate-limit", 5, "Per-client requests per second on cipher routes (0 disables)")
	f.IntVar(&rateBurst, "rate-burst", 10, "Per-client burst on cipher routes")
	f.StringVar(&webhookURL, "audit-webhook-url", "", "URL that receives audit events as JSON")
	f.StringVar(&webhookHeader, "audit-webhook-header", "", `Extra webhook header, e.g. "Authorization: Bearer xxx"`)
}
