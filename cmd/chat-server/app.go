package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/CodeByAnshuman/Chat-App/pkg/config"
	netstack "github.com/CodeByAnshuman/Chat-App/pkg/core/netstack"
	"github.com/CodeByAnshuman/Chat-App/pkg/core/session"
	"github.com/CodeByAnshuman/Chat-App/pkg/observability"
	"github.com/CodeByAnshuman/Chat-App/pkg/secure"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}
	opts.apply(&cfg.Server.Listen, &cfg.Server.Transport, &cfg.Server.CertFile, &cfg.Server.KeyFile)

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("chat-server started")
	zap.L().Debug("effective configuration", zap.Any("config", cfg))

	tc, err := netstack.ServerContext(cfg)
	if err != nil {
		if errors.Is(err, secure.ErrCredential) {
			fmt.Fprintf(os.Stderr, "Failed to load certificate %s or key %s: %v\n", cfg.Server.CertFile, cfg.Server.KeyFile, err)
		} else {
			fmt.Fprintf(os.Stderr, "TLS setup failed: %v\n", err)
		}
		return 1
	}

	tr, err := netstack.NewByKind(cfg.Server.Transport)
	if err != nil {
		zap.L().Error("failed to create transport", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := netstack.NewServer(tc, tr,
		session.NewEcho(cfg.Server.EchoPrefix, logger),
		netstack.WithLogger(logger),
		netstack.WithMaxConnections(cfg.Server.MaxConnections),
		netstack.WithSessionOptions(netstack.SessionOptions(cfg.Session)...),
	)

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx, cfg.Server.Listen) }()
	select {
	case <-srv.Ready():
		fmt.Printf("Server listening on %s (%s)\n", srv.Addr(), tr.Kind())
	case err := <-errc:
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		return 1
	}

	if err := <-errc; err != nil {
		zap.L().Error("server failed", zap.Error(err))
		return 1
	}
	zap.L().Info("chat-server exiting")
	return 0
}
