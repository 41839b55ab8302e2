package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/CodeByAnshuman/Chat-App/pkg/config"
	netstack "github.com/CodeByAnshuman/Chat-App/pkg/core/netstack"
	"github.com/CodeByAnshuman/Chat-App/pkg/core/session"
	"github.com/CodeByAnshuman/Chat-App/pkg/observability"
	"github.com/CodeByAnshuman/Chat-App/pkg/shell"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	kind := flag.String("transport", "", "Transport kind: tcp|quic|mem|winpipe")
	caFile := flag.String("ca", "", "Trust only the certificates in this PEM file")
	serverName := flag.String("server-name", "", "Name to verify in the server certificate")
	proxyURL := flag.String("proxy", "", "socks5:// proxy for the tcp transport")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: chat-client [flags] [host] [port]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("failed to load config: %v", err)
	}
	if flag.NArg() > 0 {
		cfg.Client.Host = flag.Arg(0)
	}
	if flag.NArg() > 1 {
		port, err := strconv.Atoi(flag.Arg(1))
		if err != nil || port <= 0 || port > 65535 {
			fatalf("invalid port: %q", flag.Arg(1))
		}
		cfg.Client.Port = port
	}
	if *kind != "" {
		cfg.Client.Transport = *kind
	}
	if *caFile != "" {
		cfg.Client.Trust = config.TrustFile
		cfg.Client.CAFile = *caFile
	}
	if *serverName != "" {
		cfg.Client.ServerName = *serverName
	}
	if *proxyURL != "" {
		cfg.Client.Proxy = *proxyURL
	}
	// Logs must not interleave with the chat on stdout.
	if len(cfg.Log.Outputs) == 1 && cfg.Log.Outputs[0] == "stdout" {
		cfg.Log.Outputs = []string{"stderr"}
		cfg.Log.Level = "warn"
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		fatalf("failed to setup logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	tc, err := netstack.ClientContext(cfg)
	if err != nil {
		fatalf("TLS setup failed: %v", err)
	}
	tr, err := netstack.ClientTransport(cfg.Client)
	if err != nil {
		fatalf("new transport: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessOpts := append(netstack.SessionOptions(cfg.Session), session.WithLogger(logger))
	sh := shell.New(os.Stdout, func(ctx context.Context, h session.Handler) (*session.Conn, error) {
		return netstack.Connect(ctx, tc, tr, cfg.Client.Host, cfg.Client.Port, h, sessOpts...)
	}, logger)

	if err := sh.Connect(ctx); err != nil {
		logger.Debug("initial connect failed", zap.Error(err))
		os.Exit(1)
	}
	fmt.Println("Type messages and press Enter. /quit exits.")
	if err := sh.Run(ctx, os.Stdin); err != nil {
		fatalf("read input: %v", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
