// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sjkd23/runboard/audit"
	"github.com/sjkd23/runboard/chat"
	"github.com/sjkd23/runboard/ledger"
	"github.com/sjkd23/runboard/lib/clock"
	"github.com/sjkd23/runboard/lib/config"
	"github.com/sjkd23/runboard/lib/version"
	"github.com/sjkd23/runboard/panel"
	"github.com/sjkd23/runboard/run"
	"github.com/sjkd23/runboard/scheduler"
	"github.com/sjkd23/runboard/store"
)

func main() {
	if err := runDaemon(); err != nil {
		fmt.Fprintln(os.Stderr, "runboardd:", err)
		os.Exit(1)
	}
}

func runDaemon() error {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to runboard.yaml (overrides RUNBOARD_CONFIG)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("runboardd", version.Full())
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	botToken, err := readTokenFile(cfg.API.TokenFile)
	if err != nil {
		return err
	}

	publicKey, err := parsePublicKey(cfg.API.PublicKey)
	if err != nil {
		return err
	}

	dataStore, err := store.Open(store.Config{
		Path:     cfg.Storage.Path,
		PoolSize: cfg.Storage.PoolSize,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer dataStore.Close()

	var auditLog *audit.Log
	if cfg.Storage.AuditPath != "" {
		auditLog, err = audit.Open(audit.Config{
			Path:   cfg.Storage.AuditPath,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		defer auditLog.Close()
	}

	chatClient, err := chat.NewClient(chat.ClientConfig{
		BaseURL:           cfg.API.BaseURL,
		BotToken:          botToken,
		ApplicationID:     cfg.API.ApplicationID,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	realClock := clock.Real()

	reactionLedger, err := ledger.New(ledger.Config{
		Store:  dataStore,
		Clock:  realClock,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	timing := run.Timing{
		AutoEndDefault:   config.Duration(cfg.Runs.AutoEndDefault),
		AutoEndMax:       config.Duration(cfg.Runs.AutoEndMax),
		KeyWindowDefault: config.Duration(cfg.Runs.KeyWindowDefault),
		KeyWindowMax:     config.Duration(cfg.Runs.KeyWindowMax),
	}
	machineConfig := run.MachineConfig{
		Store:  dataStore,
		Clock:  realClock,
		Timing: timing,
		Logger: logger,
	}
	if auditLog != nil {
		machineConfig.Audit = auditLog
	}
	machine, err := run.NewMachine(machineConfig)
	if err != nil {
		return err
	}

	converter, err := run.NewConverter(run.ConverterConfig{
		Machine: machine,
		Ledger:  reactionLedger,
		Store:   dataStore,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	pings, err := run.NewPingDispatcher(run.PingDispatcherConfig{
		Store:     dataStore,
		Messenger: chatClient,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	registry := panel.NewRegistry()
	orchestrator, err := panel.NewOrchestrator(panel.OrchestratorConfig{
		Registry: registry,
		Editor:   chatClient,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	service := &Service{
		store:             dataStore,
		ledger:            reactionLedger,
		machine:           machine,
		converter:         converter,
		pings:             pings,
		registry:          registry,
		panels:            orchestrator,
		messenger:         chatClient,
		members:           chatClient,
		clock:             realClock,
		audit:             auditLog,
		organizerRoleID:   cfg.Guild.OrganizerRoleID,
		headcountLifetime: config.Duration(cfg.Runs.HeadcountLifetime),
		logger:            logger,
	}

	deadlines, err := scheduler.New(scheduler.Config{
		Store:        dataStore,
		Machine:      machine,
		Clock:        realClock,
		PollInterval: config.Duration(cfg.Scheduler.PollInterval),
		OnRunEnded:   service.handleAutoEnd,
		OnHeadcountExpired: func(ctx context.Context, headcount *store.Headcount) {
			service.handleHeadcountExpiry(ctx, headcount)
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	go deadlines.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("POST /interactions", newInteractionHandler(service, publicKey, logger))
	mux.HandleFunc("GET /healthz", func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:    cfg.Listen.Addr,
		Handler: mux,
	}
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.ListenAndServe()
	}()

	logger.Info("runboardd running",
		"listen", cfg.Listen.Addr,
		"storage", cfg.Storage.Path,
		"version", version.Info(),
	)

	select {
	case err := <-serverDone:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	orchestrator.Wait()
	return nil
}

// readTokenFile reads and trims the bot token. An empty path yields an
// empty token, which disables authenticated endpoints (useful for
// local testing against a stub API).
func readTokenFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// parsePublicKey decodes the hex-encoded Ed25519 interaction
// verification key.
func parsePublicKey(hexKey string) (ed25519.PublicKey, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("api.public_key is required")
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("api.public_key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("api.public_key: got %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}
