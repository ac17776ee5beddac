package main

import (
	"fmt"

	"callcore/pkg/config"
	"callcore/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPaths = []string{
	"configs/callclient.yaml",
	"./configs/callclient.yaml",
	"callclient.yaml",
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "callclient",
		Short: "Peer-to-peer video call client",
		Long: `callclient joins a matchmaking queue on a signaling service and runs
one-to-one WebRTC calls with local camera, microphone and screen capture.

Examples:
  callclient run --chain default
  callclient run --config configs/callclient.yaml --no-join
  callclient history --limit 5`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML config (defaults to configs/callclient.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(newRunCmd(opts), newHistoryCmd(opts))
	return root
}

// load resolves the configuration and builds the logger.
func (o *rootOptions) load() (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format).Sugar(), nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	var lastErr error
	for _, p := range configPaths {
		cfg, err := config.Load(p)
		if err == nil {
			return cfg, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("could not load config: %w", lastErr)
}
