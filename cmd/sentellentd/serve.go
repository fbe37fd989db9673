package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"Sentellent-Agent/internal/api"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var demoUsers []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			a, err := wireApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			a.runAuditor(ctx)
			for _, userID := range demoUsers {
				if err := a.seedDemo(ctx, userID); err != nil {
					return err
				}
			}

			authSvc, err := a.authService()
			if err != nil {
				return err
			}
			server := api.NewServer(cfg.Server.Address, a.agent,
				api.WithAuth(authSvc),
				api.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
			)
			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&demoUsers, "demo-user", nil, "为指定用户写入演示凭据、邮件与日程")
	return cmd
}
