package main

import (
	"context"
	"dm-relay/internal"
	"dm-relay/internal/app"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run keeps every defer reachable before the process exits.
func run() (int, error) {
	config, err := internal.LoadConfig(".env")
	if err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay, err := app.New(ctx, config, log)
	if err != nil {
		return exitRuntime, err
	}
	defer func() {
		log.Info("Closing store...")
		_ = relay.Close()
	}()

	if err := relay.Run(ctx); err != nil {
		return exitRuntime, err
	}
	log.Info("Program stopped cleanly")
	return exitOK, nil
}
