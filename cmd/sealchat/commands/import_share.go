package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"sealchat/internal/domain"
)

func importShareCmd() *cobra.Command {
	var conv string
	cmd := &cobra.Command{
		Use:   "import-share [share-payload-json|-]",
		Short: "Import a group session key another device shared with this one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := readArg(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			payload, err := domain.UnmarshalPayload(b)
			if err != nil {
				return err
			}
			share, ok := payload.(domain.OlmPayload)
			if !ok {
				return fmt.Errorf("%w: session shares are %s payloads", domain.ErrMalformedPayload, domain.AlgorithmOlm)
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			err = a.Codec.ProcessSessionShare(ctx, domain.ConversationID(conv),
				share.SenderDeviceID, share.SenderIdentityKey, share)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported session key from %s\n", share.SenderDeviceID)
			return nil
		},
	}
	cmd.Flags().StringVar(&conv, "conversation", "", "conversation id")
	_ = cmd.MarkFlagRequired("conversation")
	return cmd
}
