package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "0.1.0"

func main() {
	// Load .env if present (development convenience).
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "agenthub",
		Short:        "Local-first message hub for agent-to-agent conversations",
		Version:      Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("workspace", "", "workspace directory (default: discover by walking up)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newTokenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
