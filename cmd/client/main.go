package main

import (
	"flag"
	"fmt"
	"os"

	"roomchat/internal/app"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (defaults to $ROOMCHAT_CONFIG)")
	server := flag.String("server", "", "server base URL (e.g., http://localhost:8080)")
	username := flag.String("user", "", "default username for login prompts")
	flag.Parse()

	overrides := map[string]any{}
	if *server != "" {
		overrides["client.server_url"] = *server
	}
	if *username != "" {
		overrides["client.username"] = *username
	}
	if args := flag.Args(); len(args) >= 1 {
		overrides["client.room"] = args[0]
	}

	cfg, err := app.LoadConfig(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := app.RunClient(*cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
