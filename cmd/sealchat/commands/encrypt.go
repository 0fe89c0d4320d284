package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"sealchat/internal/domain"
)

func encryptCmd() *cobra.Command {
	var (
		conv       string
		kind       string
		recipients string
		to         []string
	)
	cmd := &cobra.Command{
		Use:   "encrypt [message|-]",
		Short: "Encrypt a message for a conversation and print the payload and any key shares",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			k := domain.ConversationKind(kind)
			if k != domain.ConversationDirect && k != domain.ConversationGroup {
				return fmt.Errorf("--kind must be %q or %q", domain.ConversationDirect, domain.ConversationGroup)
			}

			plaintext, err := readArg(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var devices []domain.RecipientDevice
			if recipients != "" {
				if devices, err = readRecipients(recipients); err != nil {
					return err
				}
			}
			for _, user := range to {
				if a.Relay == nil {
					return fmt.Errorf("--to needs a relay, use --relay")
				}
				devs, err := a.Relay.Devices(ctx, domain.UserID(user))
				if err != nil {
					return err
				}
				if len(devs) == 0 {
					return fmt.Errorf("user %s has no published devices", user)
				}
				devices = append(devices, devs...)
			}

			res, err := a.Codec.Encrypt(ctx, domain.ConversationID(conv), plaintext, k, devices, a.Claim())
			if err != nil {
				return err
			}
			b, err := marshalEncryptResult(res)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
	cmd.Flags().StringVar(&conv, "conversation", "", "conversation id")
	cmd.Flags().StringVar(&kind, "kind", string(domain.ConversationDirect), "conversation kind: direct or group")
	cmd.Flags().StringVar(&recipients, "recipients", "", "JSON file listing recipient devices")
	cmd.Flags().StringSliceVar(&to, "to", nil, "user ids whose devices are fetched from the relay")
	_ = cmd.MarkFlagRequired("conversation")
	return cmd
}
