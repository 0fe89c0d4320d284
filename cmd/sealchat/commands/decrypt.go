package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"sealchat/internal/domain"
	"sealchat/internal/services/codec"
)

func decryptCmd() *cobra.Command {
	var conv string
	cmd := &cobra.Command{
		Use:   "decrypt [payload-json|-]",
		Short: "Decrypt a payload read from the argument or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := readArg(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.Codec.DecryptJSON(ctx, domain.ConversationID(conv), b)
			if !res.Success {
				fmt.Fprintf(cmd.OutOrStdout(), "** unable to decrypt message (%s) **\n", codec.ErrorKind(res.Err))
				return res.Err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(res.Plaintext))
			return nil
		},
	}
	cmd.Flags().StringVar(&conv, "conversation", "", "conversation id")
	_ = cmd.MarkFlagRequired("conversation")
	return cmd
}
