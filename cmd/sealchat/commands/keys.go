package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"sealchat/internal/domain"
)

func keysCmd() *cobra.Command {
	var (
		generate int
		publish  bool
	)
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Print identity and unpublished one-time keys, optionally publishing them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if generate > 0 {
				if _, err := a.Accounts.GenerateOneTimeKeys(ctx, generate); err != nil {
					return err
				}
			}
			info, err := a.Accounts.Info(ctx)
			if err != nil {
				return err
			}
			keys, err := a.Accounts.UnpublishedKeys(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Identity: %s\n", info.IdentityKey)
			fmt.Fprintf(out, "Signing:  %s\n", info.SigningKey)
			for _, k := range keys {
				fmt.Fprintf(out, "  %-6s %s\n", k.KeyID, k.PublicKey)
			}
			fmt.Fprintf(out, "%d unpublished one-time keys\n", len(keys))

			if !publish {
				return nil
			}
			if a.Relay == nil {
				return fmt.Errorf("no relay configured, use --relay")
			}
			if a.Config.UserID == "" {
				return fmt.Errorf("user id required (--user)")
			}
			n, err := a.Accounts.Publish(ctx, a.Relay, domain.UserID(a.Config.UserID),
				domain.DeviceID(a.Config.DeviceID))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Published %d one-time keys to %s\n", n, a.Config.RelayURL)
			return nil
		},
	}
	cmd.Flags().IntVar(&generate, "generate", 0, "generate this many new one-time keys first")
	cmd.Flags().BoolVar(&publish, "publish", false, "upload the device and its unpublished keys to the relay")
	return cmd
}
