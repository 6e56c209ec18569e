// Package cli implements the recommend command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/config"
)

var configPath string

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:          "recommend",
	Short:        "Conversational product recommendation agent",
	Long:         "Serves a multi-turn product recommendation agent as an MCP server, or chats with it from the terminal.",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("RECOMMEND_CONFIG"), "YAML config file (default: built-in defaults, $RECOMMEND_CONFIG)")
}

// loadConfig reads, validates and applies the logging section of the config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger.Init(logger.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	return cfg, nil
}
