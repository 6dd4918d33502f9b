// Command rustible is the CLI surface over the playbook engine: run,
// lint, inventory, and vault.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/rustible/rustible/infrastructure/logging"
)

var (
	flagConfigPath string
	logger         *logging.Logger
)

func main() {
	if _, err := maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {})); err != nil {
		fmt.Fprintf(os.Stderr, "rustible: adjusting GOMAXPROCS: %v\n", err)
	}
	logger = logging.NewFromEnv("rustible")

	root := &cobra.Command{
		Use:   "rustible",
		Short: "agentless configuration management and remote orchestration",
		Long:  "rustible runs playbooks against an inventory of hosts over SSH, with a built-in static analyzer and crash-safe checkpointing.",
	}
	root.PersistentFlags().StringVar(&flagConfigPath, "config", "rustible.toml", "path to rustible.toml")

	root.AddCommand(
		newRunCmd(),
		newLintCmd(),
		newInventoryCmd(),
		newVaultCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
