package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"Sentellent-Agent/internal/tools"
)

func newConnectCmd(root *rootOptions) *cobra.Command {
	var (
		accessToken  string
		refreshToken string
		expiresIn    time.Duration
		disconnect   bool
	)

	cmd := &cobra.Command{
		Use:   "connect <user_id>",
		Short: "Store or remove a user's Google credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.Driver == "memory" {
				return fmt.Errorf("storage.driver=memory 不会保留凭据，请使用 sqlite 或 mysql")
			}
			store, backend, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			vault := tools.NewVault(backend, tools.ProviderGoogle)

			userID := args[0]
			if disconnect {
				if err := vault.Disconnect(ctx, userID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "已移除 %s 的凭据\n", userID)
				return nil
			}
			creds := tools.Credentials{AccessToken: accessToken, RefreshToken: refreshToken}
			if expiresIn > 0 {
				creds.Expiry = time.Now().Add(expiresIn).UTC()
			}
			if err := vault.Connect(ctx, userID, creds); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已保存 %s 的凭据\n", userID)
			return nil
		},
	}
	cmd.Flags().StringVar(&accessToken, "access-token", "", "OAuth access token")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "OAuth refresh token")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "access token 的有效期，0 表示不过期")
	cmd.Flags().BoolVar(&disconnect, "disconnect", false, "删除已保存的凭据")
	return cmd
}
