package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"roomchat/internal/app"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (defaults to $ROOMCHAT_CONFIG)")
	flag.String("addr", ":8080", "server listen address")
	flag.String("path", "/live", "websocket live path")
	flag.String("db", "", "sqlite database path")
	flag.Bool("unified-send", false, "store live send_message events before relaying them")
	flag.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flag.Parse()

	cfg, err := app.LoadConfig(*configPath, flagOverrides(flag.CommandLine))
	if err != nil {
		fmt.Fprintf(os.Stderr, "roomchat-server: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, *cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "roomchat-server: %v\n", err)
		os.Exit(1)
	}
	if err := handle.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "roomchat-server: %v\n", err)
		os.Exit(1)
	}
}

// flagOverrides maps only the flags set on the command line onto config keys,
// so unset flags never mask the file or environment.
func flagOverrides(fs *flag.FlagSet) map[string]any {
	keys := map[string]string{
		"addr":         "server.addr",
		"path":         "relay.path",
		"db":           "server.db_path",
		"unified-send": "relay.unified_send",
		"log-level":    "logging.level",
	}
	overrides := make(map[string]any)
	fs.Visit(func(f *flag.Flag) {
		key, ok := keys[f.Name]
		if !ok {
			return
		}
		if getter, ok := f.Value.(flag.Getter); ok {
			overrides[key] = getter.Get()
		}
	})
	return overrides
}
