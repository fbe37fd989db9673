package main

import (
	"github.com/spf13/cobra"

	"Sentellent-Agent/internal/config"
	"Sentellent-Agent/pkg/logger"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "sentellentd",
		Short:         "Sentellent assistant daemon",
		Long:          "sentellentd runs the Sentellent assistant: it plans mail and calendar requests, stages writes for confirmation and serves the REST API.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"配置文件路径，默认读取 $"+config.EnvConfigPath+" 或 "+config.DefaultPath)

	rootCmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newConnectCmd(opts),
		newChatCmd(opts),
	)
	return rootCmd
}

// loadConfig 读取配置并初始化日志。
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.ResolvePath(o.configPath))
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
			Compress:   cfg.Logging.Audit.Compress,
		},
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}
