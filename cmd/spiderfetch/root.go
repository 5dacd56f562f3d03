// Package main provides the entry point for the spiderfetch CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for spiderfetch.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spiderfetch",
		Short: "Recursive web spider and fetcher",
		Long: `spiderfetch crawls outward from a starting URL, fetching the files a
recipe matches and spidering pages for further URLs. Crawls can be
interrupted at any time with Ctrl+C and resumed later from the saved
session. Everything seen is recorded in a web graph that the web
subcommand can query afterwards.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Add subcommands
	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewFetchCmd())
	cmd.AddCommand(NewWebCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}
