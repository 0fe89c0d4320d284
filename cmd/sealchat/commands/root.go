package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"sealchat/internal/app"
)

var (
	home       string
	passphrase string
	cfg        app.Config

	relayURL    string
	storeKind   string
	databaseURL string
	debugLevel  string
	logFile     string
	userID      string
)

func Execute() error {
	root := &cobra.Command{
		Use:          "sealchat",
		Short:        "End-to-end encrypted session layer CLI",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := app.DefaultHome()
				if err != nil {
					return err
				}
				home = dir
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			var err error
			if cfg, err = app.LoadConfig(home); err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("relay") {
				cfg.RelayURL = relayURL
			}
			if flags.Changed("store") {
				cfg.Store = storeKind
			}
			if flags.Changed("database-url") {
				cfg.DatabaseURL = databaseURL
			}
			if flags.Changed("debuglevel") {
				cfg.DebugLevel = debugLevel
			}
			if flags.Changed("logfile") {
				cfg.LogFile = logFile
			}
			if flags.Changed("user") {
				cfg.UserID = userID
			}
			return cfg.Validate()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&home, "home", "", "config dir (default ~/.sealchat)")
	pf.StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the pickle key")
	pf.StringVar(&relayURL, "relay", "", "key directory base URL (e.g. http://127.0.0.1:8080)")
	pf.StringVar(&storeKind, "store", "", "session store: file or postgres")
	pf.StringVar(&databaseURL, "database-url", "", "postgres connection string for --store postgres")
	pf.StringVar(&debugLevel, "debuglevel", "", "log level, or subsys=level pairs separated by commas")
	pf.StringVar(&logFile, "logfile", "", "rotated log file (default none)")
	pf.StringVar(&userID, "user", "", "user id this device belongs to")

	root.AddCommand(initCmd(), keysCmd(), encryptCmd(), decryptCmd(), importShareCmd(), statusCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return root.ExecuteContext(ctx)
}

// openApp unlocks the keystore and wires the app for a subcommand.
func openApp(ctx context.Context) (*app.App, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase required (-p)")
	}
	return app.Open(ctx, cfg, passphrase, os.Stderr)
}
