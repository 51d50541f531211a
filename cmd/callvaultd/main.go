// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

// callvaultd is the CallVault coordination server. It serves the CBOR
// signaling protocol on one TCP port and the HTTP surface (health,
// diagnostics, session tokens) on another.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/callvault/callvault/call"
	"github.com/callvault/callvault/delivery"
	"github.com/callvault/callvault/envelope"
	"github.com/callvault/callvault/lib/clock"
	"github.com/callvault/callvault/lib/config"
	"github.com/callvault/callvault/lib/sqlitepool"
	"github.com/callvault/callvault/notify"
	"github.com/callvault/callvault/policy"
	"github.com/callvault/callvault/registry"
	"github.com/callvault/callvault/server"
	"github.com/callvault/callvault/sessiontoken"
)

const version = "0.9.0"

// noncePruneInterval is how often consumed envelope nonces past their
// replay horizon are swept.
const noncePruneInterval = 10 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to the YAML config file (overrides CALLVAULT_CONFIG)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("callvaultd %s\n", version)
		return nil
	}

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
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if cfg.Environment == config.Development {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()

	// Persistence. Demo mode runs without a database: replay
	// protection lives in process memory, the policy engine admits
	// everything, and messaging is refused.
	var pool *sqlitepool.Pool
	if !cfg.DemoMode() {
		pool, err = sqlitepool.Open(sqlitepool.Config{
			Path:     cfg.Storage.Database,
			PoolSize: cfg.Storage.PoolSize,
			Logger:   logger,
			OnConnect: func(conn *sqlite.Conn) error {
				if err := envelope.NonceSchema(conn); err != nil {
					return err
				}
				if err := policy.Schema(conn); err != nil {
					return err
				}
				return delivery.Schema(conn)
			},
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer pool.Close()
		logger.Info("database open", "path", cfg.Storage.Database)
	} else {
		logger.Warn("demo mode: no database configured, nothing will persist")
	}

	var nonces envelope.NonceStore
	if pool != nil {
		nonces = envelope.NewSQLiteNonceStore(pool)
	} else {
		nonces = envelope.NewMemoryNonceStore()
	}
	verifier, err := envelope.NewVerifier(envelope.VerifierConfig{
		Nonces: nonces,
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	go verifier.PruneLoop(ctx, noncePruneInterval)

	// Push notifications for offline recipients.
	var notifier notify.Notifier
	if cfg.Notify.AMQPURL != "" {
		amqpNotifier, err := notify.DialAMQP(cfg.Notify.AMQPURL, cfg.Notify.Exchange, logger)
		if err != nil {
			return fmt.Errorf("connecting to notification broker: %w", err)
		}
		defer amqpNotifier.Close()
		notifier = amqpNotifier
		logger.Info("notification broker connected", "exchange", cfg.Notify.Exchange)
	} else {
		notifier = notify.NewMemory()
		logger.Info("notifications kept in memory")
	}

	reg := registry.New(logger)

	var policyStore policy.Store
	if pool != nil {
		policyStore = policy.NewSQLiteStore(pool)
	}
	engine := policy.NewEngine(policy.EngineConfig{
		Store:                       policyStore,
		Clock:                       clk,
		Logger:                      logger,
		CountIgnoredTowardAutoBlock: cfg.Calls.CountIgnoredRequests,
	})

	coordinator := call.NewCoordinator(call.Config{
		Conns:           reg,
		Policy:          engine,
		Notifier:        notifier,
		Clock:           clk,
		Logger:          logger,
		RingTimeout:     cfg.Calls.RingTimeout.Std(),
		RequestTTL:      cfg.Calls.RequestTTL.Std(),
		DisconnectGrace: cfg.Calls.DisconnectGrace.Std(),
	})

	var pipeline *delivery.Pipeline
	if pool != nil {
		pipeline = delivery.NewPipeline(delivery.Config{
			Store:           delivery.NewStore(pool),
			Conns:           reg,
			Notifier:        notifier,
			Clock:           clk,
			Logger:          logger,
			MaxContentBytes: cfg.Delivery.MaxContentBytes,
		})
		// A registering address drains its queued messages in order.
		reg.OnRegister(pipeline.FlushBacklog)
	}

	// Session token signing key. Generated on first boot, reused
	// after.
	publicKey, privateKey, generated, err := sessiontoken.LoadOrGenerateKeypair(cfg.Storage.State)
	if err != nil {
		return fmt.Errorf("session signing keypair: %w", err)
	}
	if generated {
		logger.Info("session signing keypair generated", "state_dir", cfg.Storage.State)
	}
	logger.Info("session signing key ready", "public_key", hex.EncodeToString(publicKey))

	var issuer sessiontoken.RelayCredentialIssuer
	if cfg.WebRTC.TURNSecret != "" {
		issuer = &sessiontoken.HMACIssuer{
			Secret: []byte(cfg.WebRTC.TURNSecret),
			TTL:    cfg.WebRTC.TURNCredentialTTL.Std(),
		}
	}
	iceConfig := &sessiontoken.ICEConfig{
		STUNURLs: cfg.WebRTC.STUNURLs,
		TURNURLs: cfg.WebRTC.TURNURLs,
		Issuer:   issuer,
	}

	signalServer, err := server.New(server.Config{
		Address:     cfg.Listen.Signal,
		Registry:    reg,
		Verifier:    verifier,
		Coordinator: coordinator,
		Pipeline:    pipeline,
		PolicyStore: policyStore,
		SessionKey:  publicKey,
		Clock:       clk,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Address: cfg.Listen.HTTP,
		Handler: server.NewHTTPHandler(server.HTTPConfig{
			Version:         version,
			Registry:        reg,
			SigningKey:      privateKey,
			ICE:             iceConfig,
			SessionTokenTTL: cfg.WebRTC.SessionTokenTTL.Std(),
			DemoMode:        cfg.DemoMode(),
			Clock:           clk,
			Logger:          logger,
		}),
		Logger: logger,
	})

	signalDone := make(chan error, 1)
	go func() { signalDone <- signalServer.Serve(ctx) }()
	httpDone := make(chan error, 1)
	go func() { httpDone <- httpServer.Serve(ctx) }()

	logger.Info("callvaultd running",
		"version", version,
		"environment", cfg.Environment,
		"signal", cfg.Listen.Signal,
		"http", cfg.Listen.HTTP,
		"demo_mode", cfg.DemoMode(),
	)

	// Either server failing takes the process down; otherwise wait
	// for the shutdown signal.
	var serveErr error
	select {
	case serveErr = <-signalDone:
		signalDone = nil
	case serveErr = <-httpDone:
		httpDone = nil
	case <-ctx.Done():
	}
	stop()

	logger.Info("shutting down")
	if signalDone != nil {
		if err := <-signalDone; err != nil {
			logger.Error("signal server error", "error", err)
		}
	}
	if httpDone != nil {
		if err := <-httpDone; err != nil {
			logger.Error("http server error", "error", err)
		}
	}
	if serveErr != nil {
		return fmt.Errorf("server exited: %w", serveErr)
	}
	return nil
}
