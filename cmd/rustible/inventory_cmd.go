package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/rustible/rustible/internal/errs"
	"github.com/rustible/rustible/internal/inventory"
)

func newInventoryCmd() *cobra.Command {
	var (
		pattern string
		graph   bool
	)

	cmd := &cobra.Command{
		Use:   "inventory <path>",
		Short: "list or graph inventory host resolution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := inventory.Load(args[0])
			if err != nil {
				return exitWithClass(errs.ExitParseOrSchema, fmt.Errorf("load inventory: %w", err))
			}

			if graph {
				return printInventoryGraph(inv)
			}
			return printInventoryList(inv, pattern)
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", "all", "host pattern to resolve")
	cmd.Flags().BoolVar(&graph, "graph", false, "print the group hierarchy instead of a resolved host list")

	return cmd
}

func printInventoryList(inv *inventory.Inventory, pattern string) error {
	hosts := inventory.Resolve(inv, pattern)
	sort.Strings(hosts)
	for _, h := range hosts {
		fmt.Println(h)
	}
	return nil
}

func printInventoryGraph(inv *inventory.Inventory) error {
	hosts := inv.Hosts()
	sort.Strings(hosts)
	fmt.Println("@all:")
	for _, h := range hosts {
		fmt.Printf("  %s\n", h)
	}
	return nil
}
