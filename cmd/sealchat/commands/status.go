package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"sealchat/internal/app"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the device, its store and its key state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Home:   %s\n", cfg.Home)
			fmt.Fprintf(out, "Store:  %s\n", cfg.Store)
			if cfg.RelayURL != "" {
				fmt.Fprintf(out, "Relay:  %s\n", cfg.RelayURL)
			}

			a, err := openApp(ctx)
			if errors.Is(err, app.ErrNotInitialised) {
				fmt.Fprintln(out, "Ready:  no (run init)")
				return nil
			}
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintf(out, "User:   %s\n", a.Config.UserID)
			fmt.Fprintf(out, "Device: %s\n", a.Config.DeviceID)
			fmt.Fprintf(out, "Ready:  %t\n", a.Codec.IsReady(ctx))

			info, err := a.Accounts.Info(ctx)
			if err != nil {
				return err
			}
			keys, err := a.Accounts.UnpublishedKeys(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Fingerprint: %s\n", info.Fingerprint)
			fmt.Fprintf(out, "Unpublished one-time keys: %d\n", len(keys))
			return nil
		},
	}
}
