package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/voicewire/voicewire/pkg/bridge/config"
	"github.com/voicewire/voicewire/pkg/bridge/metrics"
	"github.com/voicewire/voicewire/pkg/store"
)

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, bridgeDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		openStore: func(context.Context, config.Config, *slog.Logger) (store.Store, func(), error) {
			t.Fatalf("openStore should not be called when config load fails")
			return nil, nil, nil
		},
		signalNotify: func(chan<- os.Signal, ...os.Signal) {},
		signalStop:   func(chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if stderr.String() == "" {
		t.Fatalf("expected stderr output for startup error")
	}
}

func TestRunBridge_GracefulShutdownOnSignal(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sigDelivered := make(chan struct{})

	deps := bridgeDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{
				Addr:                "127.0.0.1:0",
				EndpointURL:         "ws://127.0.0.1:0/realtime",
				ToolTimeout:         time.Second,
				ShutdownGracePeriod: 2 * time.Second,
			}, nil
		},
		openStore: func(context.Context, config.Config, *slog.Logger) (store.Store, func(), error) {
			return store.NewMemoryStore(), func() {}, nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			go func() {
				c <- syscall.SIGTERM
				close(sigDelivered)
			}()
		},
		signalStop: func(chan<- os.Signal) {},
	}

	done := make(chan error, 1)
	go func() { done <- runBridge(context.Background(), logger, deps) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runBridge: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("runBridge did not stop after signal")
	}
	<-sigDelivered
}

func TestOpenStore_MemoryWithoutDatabaseURL(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, closeStore, err := openStore(context.Background(), config.Config{}, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer closeStore()
	if _, ok := st.(*store.MemoryStore); !ok {
		t.Fatalf("store type %T, want *store.MemoryStore", st)
	}
}

func TestNewSessionFactory_RegistersDemoTools(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		EndpointURL: "ws://127.0.0.1:0/realtime",
		ToolTimeout: time.Second,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := newSessionFactory(cfg, store.NewMemoryStore(), metrics.New("voicewire_test_factory"), logger)

	sess, err := factory("u1")
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if sess.ID() == "" {
		t.Fatalf("session has no id")
	}
	if err := sess.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
}
