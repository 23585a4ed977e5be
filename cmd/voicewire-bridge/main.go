package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/voicewire/voicewire/pkg/bridge/config"
	"github.com/voicewire/voicewire/pkg/bridge/metrics"
	"github.com/voicewire/voicewire/pkg/bridge/server"
	"github.com/voicewire/voicewire/pkg/bridge/session"
	"github.com/voicewire/voicewire/pkg/bridge/transport"
	"github.com/voicewire/voicewire/pkg/store"
	"github.com/voicewire/voicewire/pkg/store/pgstore"
	"github.com/voicewire/voicewire/pkg/toolsets/orders"
)

type bridgeDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, func(), error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultBridgeDeps() bridgeDeps {
	return bridgeDeps{
		loadConfig: config.LoadFromEnv,
		openStore:  openStore,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// openStore selects Postgres when a database URL is configured and the
// in-memory demo store otherwise.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("using in-memory store")
		return store.NewMemoryStore(), func() {}, nil
	}

	pg, err := pgstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres store: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, nil, fmt.Errorf("migrate postgres store: %w", err)
	}
	logger.Info("using postgres store")
	return pg, pg.Close, nil
}

func newSessionFactory(cfg config.Config, st store.Store, m *metrics.Metrics, logger *slog.Logger) server.SessionFactory {
	return func(userID string) (server.BridgeSession, error) {
		link := transport.NewLink(transport.Config{
			URL:              cfg.EndpointURL,
			APIKey:           cfg.EndpointAPIKey,
			HandshakeTimeout: cfg.HandshakeTimeout,
			WriteTimeout:     cfg.WriteTimeout,
			MaxMessageBytes:  cfg.MaxMessageBytes,
			Logger:           logger,
		})
		sess := session.New(link, session.Config{
			Instructions:      cfg.Instructions,
			Voice:             cfg.Voice,
			Modalities:        cfg.Modalities,
			InputAudioFormat:  cfg.InputAudioFormat,
			OutputAudioFormat: cfg.OutputAudioFormat,
			Temperature:       cfg.Temperature,
			ToolTimeout:       cfg.ToolTimeout,
			EventBuffer:       cfg.EventBuffer,
			Logger:            logger.With("user_id", userID),
			Recorder:          m,
		})
		for _, reg := range orders.Registrations(st) {
			if err := sess.RegisterTool(reg); err != nil {
				return nil, fmt.Errorf("register tool %s: %w", reg.Name, err)
			}
		}
		return sess, nil
	}
}

func runBridge(ctx context.Context, logger *slog.Logger, deps bridgeDeps) error {
	if deps.loadConfig == nil || deps.openStore == nil {
		return errors.New("missing dependencies")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, closeStore, err := deps.openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New("voicewire")
	srv := server.New(server.Config{
		Addr:              cfg.Addr,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ConnectTimeout:    cfg.HandshakeTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ShutdownGrace:     cfg.ShutdownGracePeriod,
	}, newSessionFactory(cfg, st, m, logger), m, logger)

	logger.Info("starting bridge", "addr", cfg.Addr, "endpoint", cfg.EndpointURL)

	serveErrCh, err := srv.Start()
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-serveErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-serveErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("bridge stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps bridgeDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "voicewire-bridge: %v\n", err)
		return 1
	}

	if err := runBridge(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "voicewire-bridge: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultBridgeDeps()))
}
