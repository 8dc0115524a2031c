package app

import (
	"errors"
	"path/filepath"

	intrnl "roomchat/internal"
)

// RunClient launches the Bubble Tea TUI with the provided configuration.
func RunClient(cfg Config) error {
	if cfg.Client.ServerURL == "" {
		return errors.New("server URL is required")
	}
	return intrnl.RunClient(clientOptions(cfg))
}

func clientOptions(cfg Config) intrnl.ClientOptions {
	return intrnl.ClientOptions{
		ServerURL:   cfg.Client.ServerURL,
		LivePath:    NormalizeJoinPath(cfg.Relay.Path),
		Username:    cfg.Client.Username,
		Room:        cfg.Client.Room,
		SessionPath: filepath.Join(filepath.Dir(DefaultDBPath()), "session.json"),
	}
}
