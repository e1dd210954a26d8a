package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/btevents/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().StringP("config", "c", "", "")
	cmd.Flags().String("bridge", "", "")
	cmd.Flags().Int("hci", -1, "")
	cmd.Flags().Duration("debounce", 0, "")
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().Bool("verbose", false, "")
	return cmd
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "btevents.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bridge: goble\nhci_id: 2\ndebounce: 1s\n"), 0o600))

	tests := []struct {
		name    string
		args    []string
		check   func(t *testing.T, cfg *config.Config)
		wantErr string
	}{
		{
			name: "defaults",
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, config.DefaultConfig(), cfg)
			},
		},
		{
			name: "file",
			args: []string{"--config", path},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, config.BridgeGoBLE, cfg.Bridge)
				assert.Equal(t, 2, cfg.HCIID)
				assert.Equal(t, time.Second, cfg.Debounce)
			},
		},
		{
			name: "flags override file",
			args: []string{"-c", path, "--bridge", "bluez", "--hci", "0", "--debounce", "40ms"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, config.BridgeBlueZ, cfg.Bridge)
				assert.Equal(t, 0, cfg.HCIID)
				assert.Equal(t, 40*time.Millisecond, cfg.Debounce)
			},
		},
		{
			name:    "invalid bridge flag",
			args:    []string{"--bridge", "usb"},
			wantErr: "usb",
		},
		{
			name:    "missing file",
			args:    []string{"--config", filepath.Join(t.TempDir(), "missing.yaml")},
			wantErr: "missing.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newConfigCommand()
			require.NoError(t, cmd.ParseFlags(tt.args))

			cfg, err := loadConfig(cmd)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestCommandLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "btevents.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0o600))

	tests := []struct {
		name    string
		args    []string
		want    logrus.Level
		wantErr string
	}{
		{name: "silent by default", want: logrus.PanicLevel},
		{name: "verbose", args: []string{"--verbose"}, want: logrus.DebugLevel},
		{name: "info", args: []string{"--log-level", "info"}, want: logrus.InfoLevel},
		{name: "log level wins over verbose", args: []string{"--verbose", "--log-level", "error"}, want: logrus.ErrorLevel},
		{name: "config file level", args: []string{"--config", path}, want: logrus.WarnLevel},
		{name: "flags win over config file", args: []string{"--config", path, "--verbose"}, want: logrus.DebugLevel},
		{name: "invalid", args: []string{"--log-level", "loud"}, wantErr: "invalid log level: loud"},
		{name: "trace is not offered", args: []string{"--log-level", "trace"}, wantErr: "invalid log level: trace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newConfigCommand()
			require.NoError(t, cmd.ParseFlags(tt.args))
			cfg, err := loadConfig(cmd)
			require.NoError(t, err)
			before := cfg.LogLevel

			logger, err := commandLogger(cmd, cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())
			assert.Equal(t, before, cfg.LogLevel, "config MUST NOT be modified")
		})
	}
}

func TestCommandLogger_WritesToCommandStderr(t *testing.T) {
	cmd := newConfigCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--log-level", "info"}))
	var stderr bytes.Buffer
	cmd.SetErr(&stderr)

	logger, err := commandLogger(cmd, config.DefaultConfig())
	require.NoError(t, err)
	logger.WithField("bridge", "bluez").Info("Configured")

	assert.Contains(t, stderr.String(), "Configured")
	assert.Contains(t, stderr.String(), "bridge=bluez")
}
