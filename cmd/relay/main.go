package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"sealchat/internal/app"
	"sealchat/internal/relay"
)

func run() error {
	listen := flag.String("listen", ":8080", "listen address")
	debugLevel := flag.String("debuglevel", "info", "log level, or subsys=level pairs separated by commas")
	logFile := flag.String("logfile", "", "rotated log file (default none)")
	flag.Parse()

	logs, err := app.NewLogBackend(*logFile, *debugLevel, os.Stdout)
	if err != nil {
		return err
	}
	defer logs.Close()
	log := logs.Logger("RLYD")

	srv := &http.Server{
		Addr:              *listen,
		Handler:           relay.Handler(relay.NewDirectory(), log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("Key directory listening on %s", *listen)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Infof("Key directory stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
