package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	intrnl "roomchat/internal"
	"roomchat/internal/app"
)

const (
	modeServer  = "server"
	modeClient  = "client"
	modeLocal   = "local"
	modeVersion = "version"
)

func main() {
	mode, args := parseMode(os.Args[1:])
	if mode == modeVersion {
		fmt.Println("roomchat", intrnl.Version)
		return
	}

	flagSet := flag.NewFlagSet("roomchat", flag.ExitOnError)
	configPath := flagSet.String("config", "", "YAML config file (defaults to $ROOMCHAT_CONFIG)")
	flagSet.String("addr", defaultAddrForMode(mode), "server listen address")
	flagSet.String("path", "/live", "websocket live path")
	flagSet.String("db", "", "sqlite database path (defaults to a per-user path)")
	flagSet.String("server-url", "http://localhost:8080", "server base URL (client mode)")
	flagSet.String("user", "", "default username for login prompts")
	flagSet.Bool("unified-send", false, "store live send_message events before relaying them")
	quiet := flagSet.Bool("quiet", false, "suppress informational logs")
	flagSet.Parse(args)

	overrides := flagOverrides(flagSet)
	if remaining := flagSet.Args(); len(remaining) > 0 {
		overrides["client.room"] = remaining[0]
	}
	if mode == modeLocal {
		if _, ok := overrides["server.addr"]; !ok {
			overrides["server.addr"] = defaultAddrForMode(mode)
		}
		// The TUI owns the terminal in local mode.
		overrides["logging.level"] = "error"
	}
	if _, ok := overrides["logging.level"]; !ok && *quiet {
		overrides["logging.level"] = "warn"
	}

	cfg, err := app.LoadConfig(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "roomchat: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case modeServer:
		err = runServerMode(ctx, *cfg)
	case modeLocal:
		err = runLocalMode(ctx, *cfg)
	default:
		err = app.RunClient(*cfg)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "roomchat: %v\n", err)
		os.Exit(1)
	}
}

func runServerMode(ctx context.Context, cfg app.Config) error {
	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		return err
	}
	return handle.Wait()
}

// runLocalMode starts a private server on a loopback port and points the TUI
// at it.
func runLocalMode(ctx context.Context, cfg app.Config) error {
	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}

	cfg.Client.ServerURL = "http://" + handle.Addr()

	if err := app.RunClient(cfg); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func flagOverrides(fs *flag.FlagSet) map[string]any {
	keys := map[string]string{
		"addr":         "server.addr",
		"path":         "relay.path",
		"db":           "server.db_path",
		"server-url":   "client.server_url",
		"user":         "client.username",
		"unified-send": "relay.unified_send",
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

func parseMode(args []string) (string, []string) {
	if len(args) == 0 {
		return modeClient, args
	}
	switch strings.ToLower(args[0]) {
	case modeServer, modeClient, modeLocal, modeVersion:
		return strings.ToLower(args[0]), args[1:]
	}
	return modeClient, args
}

func defaultAddrForMode(mode string) string {
	if mode == modeLocal {
		return "127.0.0.1:0"
	}
	return ":8080"
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
