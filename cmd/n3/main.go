package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Atlantis-Software/n3/config"
	"github.com/Atlantis-Software/n3/credentials"
	"github.com/Atlantis-Software/n3/logger"
	"github.com/Atlantis-Software/n3/server/pop3"
	"github.com/Atlantis-Software/n3/storage"
)

func main() {
	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")

	fAddr := flag.String("addr", "", "POP3 listen address (overrides config)")
	fHostname := flag.String("hostname", "", "Server hostname used in the greeting banner (overrides config)")
	fUserFile := flag.String("userfile", "", "Credential file (overrides config)")
	fStoragePath := flag.String("storagepath", "", "Storage path (overrides config)")
	fBackend := flag.String("backend", "", "Storage backend: 'sqlite' or 'maildir' (overrides config)")
	fMetricsAddr := flag.String("metricsaddr", "", "Metrics HTTP listen address (overrides config)")
	fLogLevel := flag.String("loglevel", "", "Log level: debug, info, warn, error (overrides config)")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", "path", *configPath, "error", err)
	}

	// Command-line flags override values from the TOML file.
	if isFlagSet("addr") {
		cfg.Server.Addr = *fAddr
	}
	if isFlagSet("hostname") {
		cfg.Server.Hostname = *fHostname
	}
	if isFlagSet("userfile") {
		cfg.Auth.UserFile = *fUserFile
	}
	if isFlagSet("storagepath") {
		cfg.Storage.Path = *fStoragePath
	}
	if isFlagSet("backend") {
		cfg.Storage.Backend = *fBackend
	}
	if isFlagSet("metricsaddr") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = *fMetricsAddr
	}
	if isFlagSet("loglevel") {
		cfg.Logging.Level = *fLogLevel
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		logger.Fatal("failed to initialize logging", "error", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	source, err := credentials.LoadFile(cfg.Auth.UserFile)
	if err != nil {
		logger.Fatal("failed to load credential file", "path", cfg.Auth.UserFile, "error", err)
	}

	backend, cleanup, err := buildBackend(cfg)
	if err != nil {
		logger.Fatal("failed to initialize storage backend", "backend", cfg.Storage.Backend, "error", err)
	}
	defer cleanup()

	errChan := make(chan error, 1)

	if cfg.Metrics.Enabled {
		go startMetricsServer(ctx, cfg.Metrics.Addr, errChan)
	}

	srv, err := pop3.New(ctx, cfg.Server, source, backend)
	if err != nil {
		logger.Fatal("failed to create POP3 server", "error", err)
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down POP3 server", "name", cfg.Server.Name)
		srv.Close()
	}()

	go srv.Start(errChan)

	select {
	case <-ctx.Done():
		logger.Info("shut down")
	case err := <-errChan:
		logger.Fatal("server error", "error", err)
	}
}

// buildBackend constructs the configured maildrop backend and returns a
// cleanup function for its resources.
func buildBackend(cfg *config.Config) (storage.Backend, func(), error) {
	switch cfg.Storage.Backend {
	case "maildir":
		backend, err := storage.NewMaildirBackend(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return backend, func() {}, nil
	default:
		var s3 *storage.S3Storage
		if cfg.Storage.S3 != nil {
			var err error
			s3, err = storage.NewS3Storage(cfg.Storage.S3)
			if err != nil {
				return nil, nil, err
			}
			logger.Info("message bodies offloaded to S3", "endpoint", cfg.Storage.S3.Endpoint, "bucket", cfg.Storage.S3.Bucket)
		}
		backend, err := storage.NewSQLiteBackend(cfg.Storage.Path, s3)
		if err != nil {
			return nil, nil, err
		}
		return backend, func() { backend.Close() }, nil
	}
}

// startMetricsServer exposes Prometheus metrics and a health endpoint.
func startMetricsServer(ctx context.Context, addr string, errChan chan error) {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errChan <- err
	}
}

// isFlagSet reports whether a flag was explicitly set on the command line.
func isFlagSet(name string) bool {
	isSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			isSet = true
		}
	})
	return isSet
}
