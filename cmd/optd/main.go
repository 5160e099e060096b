package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rodline/procopt/internal/improvement"
	"github.com/rodline/procopt/internal/optd"
	"github.com/rodline/procopt/internal/oracle"
	"github.com/rodline/procopt/internal/policy"
	"github.com/rodline/procopt/internal/session"
	"github.com/rodline/procopt/internal/store"
	"github.com/rodline/procopt/pkg/config"
	"github.com/rodline/procopt/pkg/logger"
	"google.golang.org/grpc"
)

func main() {
	var configPath string
	var grpcAddr string
	var httpAddr string
	var logLevel string

	flag.StringVar(&configPath, "config", "", "path to config YAML (defaults to the built-in plant config)")
	flag.StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address (overrides config)")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address (overrides config)")
	flag.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.Parse()

	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			logger.Error("failed to load config", "path", configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if grpcAddr != "" {
		cfg.Server.GRPCAddr = grpcAddr
	}
	if httpAddr != "" {
		cfg.Server.HTTPAddr = httpAddr
	}

	logger.SetDefault(logger.NewText(cfg.LogLevel, os.Stdout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	mapping, err := cfg.NameMapping()
	if err != nil {
		logger.Error("invalid parameter table", "error", err)
		stop()
		os.Exit(1)
	}
	features, err := oracle.ExternalFeatures(mapping, cfg.ParameterNames())
	if err != nil {
		logger.Error("invalid parameter table", "error", err)
		stop()
		os.Exit(1)
	}
	model, err := oracle.NewClient(cfg.Oracle, features)
	if err != nil {
		logger.Error("failed to create oracle client", "error", err)
		stop()
		os.Exit(1)
	}
	defer model.Close()

	space, err := improvement.NewSearchSpaceBuilder(improvement.SpecsFromConfig(cfg.Parameters))
	if err != nil {
		logger.Error("invalid search space", "error", err)
		stop()
		os.Exit(1)
	}
	optimizer := improvement.NewOptimizer(model, space, improvement.SettingsFromConfig(cfg.Optimizer))

	var recorder session.HistoryRecorder
	var db *store.Store
	if cfg.Store.Path != "" {
		db, err = store.NewStore(cfg.Store.Path)
		if err != nil {
			logger.Error("failed to open session store", "path", cfg.Store.Path, "error", err)
			stop()
			os.Exit(1)
		}
		defer db.Close()
		recorder = db
	}

	manager := session.NewManager(optimizer, recorder, cfg.Optimizer.WeightTriplet())
	if db != nil {
		n, err := db.RestoreAll(ctx, manager)
		if err != nil {
			logger.Error("failed to restore sessions", "error", err)
			stop()
			os.Exit(1)
		}
		logger.Info("sessions restored", "count", n)
	}

	var limiter policy.RateLimitingPolicy
	if cfg.Server.OptimizeBurst > 0 {
		interval := time.Duration(cfg.Server.OptimizeIntervalMs) * time.Millisecond
		limiter = policy.NewRateLimitingPolicy(true, cfg.Server.OptimizeBurst, interval)
	}

	var notifier *optd.Notifier
	if cfg.Server.CallbackURL != "" {
		notifier = optd.NewNotifier(cfg.Server.CallbackURL, cfg.Server.CallbackSecret)
	}

	service := optd.NewService(manager, optd.Options{
		Mapping:       mapping,
		BootstrapPath: cfg.BootstrapPath,
		Limiter:       limiter,
		Notifier:      notifier,
	})

	grpcServer := grpc.NewServer()
	optd.RegisterSessionService(grpcServer, optd.NewSessionGRPCServer(service))

	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen for gRPC", "addr", cfg.Server.GRPCAddr, "error", err)
		stop()
		os.Exit(1)
	}

	// optimize calls hold the connection for the whole search
	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           optd.NewHTTPServer(service).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info("gRPC server listening", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Error("gRPC server error", "error", err)
			stop()
		}
	}()

	go func() {
		logger.Info("HTTP server listening", "addr", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown requested")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcServer.GracefulStop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}
	notifier.Wait()
}
