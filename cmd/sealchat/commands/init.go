package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"sealchat/internal/app"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the device keystore, device id and account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			if cfg.UserID == "" {
				return fmt.Errorf("user id required (--user)")
			}
			a, info, err := app.Init(cmd.Context(), cfg, passphrase, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Device created.\n")
			fmt.Fprintf(out, "User:        %s\n", a.Config.UserID)
			fmt.Fprintf(out, "Device:      %s\n", a.Config.DeviceID)
			fmt.Fprintf(out, "Identity:    %s\n", info.IdentityKey)
			fmt.Fprintf(out, "Fingerprint: %s\n", info.Fingerprint)
			return nil
		},
	}
}
