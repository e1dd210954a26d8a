package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/btevents/pkg/btshim"
	"github.com/srg/btevents/pkg/config"
)

// bridgeFactory creates the bridge for a command (can be overridden in tests)
var bridgeFactory = btshim.NewBridge

// loadConfig reads --config and applies the flag overrides on top of it
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if name, _ := cmd.Flags().GetString("bridge"); name != "" {
		cfg.Bridge = name
	}
	if hci, _ := cmd.Flags().GetInt("hci"); hci >= 0 {
		cfg.HCIID = hci
	}
	if debounce, _ := cmd.Flags().GetDuration("debounce"); debounce > 0 {
		cfg.Debounce = debounce
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// logLevels are the values accepted by --log-level
var logLevels = map[string]logrus.Level{
	"debug": logrus.DebugLevel,
	"info":  logrus.InfoLevel,
	"warn":  logrus.WarnLevel,
	"error": logrus.ErrorLevel,
}

// commandLogger builds the logger writing to the command's stderr.
// Precedence: --log-level, then --verbose, then log_level of an explicit
// --config file. Otherwise the CLI stays silent.
func commandLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	name, _ := cmd.Flags().GetString("log-level")
	verbose, _ := cmd.Flags().GetBool("verbose")
	path, _ := cmd.Flags().GetString("config")

	level := logrus.PanicLevel
	switch lvl, ok := logLevels[name]; {
	case ok:
		level = lvl
	case name != "":
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", name)
	case verbose:
		level = logrus.DebugLevel
	case path != "":
		level, _ = cfg.Level()
	}

	cli := *cfg
	cli.LogLevel = level.String()
	logger := cli.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	return logger, nil
}

// configureShim builds the bridge and installs the shared coordinator. The
// caller owns shutdown through btshim.Shutdown.
func configureShim(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := commandLogger(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	b, err := bridgeFactory(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	btshim.Configure(b, btshim.CoordinatorOptions(cfg, logger))

	logger.WithFields(logrus.Fields{
		"bridge":   cfg.Bridge,
		"hci":      cfg.HCIID,
		"debounce": cfg.Debounce,
	}).Debug("Configured coordinator")
	return cfg, logger, nil
}

// initialize configures and initializes the shared coordinator
func initialize(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg, logger, err := configureShim(cmd)
	if err != nil {
		return nil, nil, err
	}
	if err := btshim.InitializeCoordinator(cmd.Context()); err != nil {
		_ = btshim.Shutdown()
		return nil, nil, err
	}
	return cfg, logger, nil
}

// interruptContext is cancelled on Ctrl+C or SIGTERM
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
