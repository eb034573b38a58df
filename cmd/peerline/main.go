package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/peerline/peerline/internal/api"
	apimw "github.com/peerline/peerline/internal/api/middleware"
	"github.com/peerline/peerline/internal/call"
	"github.com/peerline/peerline/internal/calllog"
	"github.com/peerline/peerline/internal/calllog/pgstore"
	"github.com/peerline/peerline/internal/config"
	"github.com/peerline/peerline/internal/media"
	"github.com/peerline/peerline/internal/metrics"
	"github.com/peerline/peerline/internal/notify"
	sig "github.com/peerline/peerline/internal/signal"
	sigfs "github.com/peerline/peerline/internal/signal/firestore"
	"github.com/peerline/peerline/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting peerline",
		"participant", cfg.ParticipantID,
		"http_port", cfg.HTTPPort,
		"mailbox_backend", cfg.MailboxBackend,
	)

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Signaling mailbox and directory.
	var (
		mailbox   sig.Mailbox
		directory sig.Directory
		closeFns  []func() error
	)
	switch cfg.MailboxBackend {
	case "firestore":
		store, err := sigfs.NewStore(appCtx, sigfs.Config{
			ProjectID:       cfg.FirestoreProject,
			CredentialsFile: cfg.FirestoreCredentials,
		}, logger)
		if err != nil {
			slog.Error("failed to open firestore", "error", err)
			os.Exit(1)
		}
		closeFns = append(closeFns, store.Close)
		mailbox = store.Mailbox()
		directory = store.Directory()
	default:
		mem := sig.NewMemoryMailbox(logger)
		dir := sig.NewMemoryDirectory(cfg.PartitionPeerList()...)
		dir.Register(cfg.ParticipantID)
		mailbox = mem
		directory = dir
	}
	adapter := sig.NewAdapter(mailbox, directory, logger)
	defer adapter.Close()

	// Call history store.
	var history calllog.Store
	if cfg.PostgresDSN != "" {
		history, err = pgstore.New(cfg.PostgresDSN)
	} else {
		history, err = calllog.Open(cfg.DataDir)
	}
	if err != nil {
		slog.Error("failed to open call history", "error", err)
		os.Exit(1)
	}
	defer history.Close()

	// Local capture devices.
	devices, err := media.NewDeviceProvider(logger)
	if err != nil {
		slog.Error("failed to initialise capture devices", "error", err)
		os.Exit(1)
	}

	// Optional wake-up pushes.
	var (
		tokens   *notify.TokenStore
		onPlaced func(sig.CallSession)
	)
	if cfg.PushCredentials != "" {
		tokens = notify.NewTokenStore(nil)
		notifier, err := notify.New(appCtx, notify.Config{
			CredentialsFile: cfg.PushCredentials,
			Tokens:          tokens,
			Logger:          logger,
		})
		if err != nil {
			slog.Error("failed to initialise push notifier", "error", err)
			os.Exit(1)
		}
		onPlaced = func(sess sig.CallSession) {
			ctx, cancel := context.WithTimeout(appCtx, 10*time.Second)
			defer cancel()
			notifier.CallPlaced(ctx, sess)
		}
	}

	// Call state machine.
	newTransport := func() (call.Transport, error) {
		return transport.New(transport.Config{
			STUNServers: cfg.STUNServerList(),
			EngineSetup: devices.PopulateEngine,
			Logger:      logger,
		})
	}
	manager, err := call.NewManager(call.Config{
		ParticipantID: cfg.ParticipantID,
		Signaling:     adapter,
		Media:         devices,
		NewTransport:  newTransport,
		History:       calllog.NewRecorder(history, logger),
		OnPlaced:      onPlaced,
		Logger:        logger,
	})
	if err != nil {
		slog.Error("failed to create call manager", "error", err)
		os.Exit(1)
	}

	// Incoming call listener.
	listener, err := call.NewListener(call.ListenerConfig{
		ParticipantID: cfg.ParticipantID,
		Signaling:     adapter,
		Sink:          manager.HandleIncoming,
		Logger:        logger,
	})
	if err != nil {
		slog.Error("failed to create call listener", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := listener.Run(appCtx); err != nil && appCtx.Err() == nil {
			slog.Error("call listener stopped", "error", err)
		}
	}()

	// Prometheus metrics, scraped through the api server.
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(metrics.NewCollector(manager, history, time.Now()))

	// HTTP server using the api package.
	var registry api.TokenRegistry
	if tokens != nil {
		registry = tokens
	}
	handler := api.NewServer(manager, history, registry,
		promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
		apimw.ParseCORSOrigins(cfg.CORSOrigins))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the event stream stays open indefinitely
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-quit:
		slog.Info("received shutdown signal", "signal", s.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Hang up before tearing the process down so the remote side is not
	// left ringing against a dead record.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := manager.End(shutdownCtx); err != nil {
		slog.Warn("ending call during shutdown", "error", err)
	}
	appCancel()

	slog.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	for _, closeFn := range closeFns {
		if err := closeFn(); err != nil {
			slog.Warn("closing signaling store", "error", err)
		}
	}

	slog.Info("peerline stopped")
}
