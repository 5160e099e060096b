package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rodline/procopt/internal/bootstrap"
	"github.com/rodline/procopt/internal/console"
	"github.com/rodline/procopt/internal/improvement"
	"github.com/rodline/procopt/internal/optd"
	"github.com/rodline/procopt/internal/oracle"
	"github.com/rodline/procopt/internal/session"
	"github.com/rodline/procopt/pkg/config"
	"github.com/rodline/procopt/pkg/logger"
	"github.com/rodline/procopt/pkg/models"
)

func main() {
	var addr string
	var sessionID string
	var local bool
	var configPath string
	var bootstrapPath string
	var logLevel string

	flag.StringVar(&addr, "addr", "http://localhost:8002", "optd HTTP base URL")
	flag.StringVar(&sessionID, "session", "", "attach to an existing session instead of creating one")
	flag.BoolVar(&local, "local", false, "run the optimizer in-process instead of against optd")
	flag.StringVar(&configPath, "config", "", "path to config YAML for -local")
	flag.StringVar(&bootstrapPath, "bootstrap", "", "last prediction file for -local (overrides config)")
	flag.StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flag.Parse()

	logger.SetDefault(logger.NewText(logLevel, os.Stderr))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	if local {
		err = runLocal(ctx, configPath, bootstrapPath)
	} else {
		err = runRemote(ctx, addr, sessionID)
	}
	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "optctl: %v\n", err)
		os.Exit(1)
	}
}

func runRemote(ctx context.Context, addr, sessionID string) error {
	client := optd.NewClient(addr, nil)
	if sessionID != "" {
		if _, err := client.Attach(ctx, sessionID); err != nil {
			return fmt.Errorf("attach session %s: %w", sessionID, err)
		}
	} else if err := client.Create(ctx, optd.CreateRequest{}); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	fmt.Printf("Session %s\n", client.ID())
	return console.New(client, os.Stdin, os.Stdout).Run(ctx, client.Desired())
}

func runLocal(ctx context.Context, configPath, bootstrapPath string) error {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if bootstrapPath == "" {
		bootstrapPath = cfg.BootstrapPath
	}

	mapping, err := cfg.NameMapping()
	if err != nil {
		return err
	}
	features, err := oracle.ExternalFeatures(mapping, cfg.ParameterNames())
	if err != nil {
		return err
	}
	model, err := oracle.NewClient(cfg.Oracle, features)
	if err != nil {
		return err
	}
	defer model.Close()

	space, err := improvement.NewSearchSpaceBuilder(improvement.SpecsFromConfig(cfg.Parameters))
	if err != nil {
		return err
	}
	optimizer := improvement.NewOptimizer(model, space, improvement.SettingsFromConfig(cfg.Optimizer))

	snap, err := bootstrap.Load(bootstrapPath, mapping)
	if err != nil {
		return err
	}
	defaults := snap.Prediction
	if !snap.HasPrediction {
		out := model.Predict(ctx, snap.Params.Values())
		if !out.OK() {
			return fmt.Errorf("predict current parameters: %w", out.Err)
		}
		defaults = out.Prediction
	}

	// placeholder targets until the console prompt sets the real ones
	initial := defaults
	if improvement.ValidateDesired(initial) != nil {
		initial = models.Triplet{1, 1, 1}
	}
	sess, err := session.New(ctx, optimizer, snap.Params, initial, session.WithWeights(cfg.Optimizer.WeightTriplet()))
	if err != nil {
		return err
	}
	return console.New(sess, os.Stdin, os.Stdout).Run(ctx, defaults)
}
