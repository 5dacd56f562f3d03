package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version information set at build time via ldflags.
var (
	version = ""
	commit  = ""
	date    = ""
)

// getVersion returns the release version, falling back to the module
// version the toolchain embedded, or "(devel)".
func getVersion() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}

// buildSetting reads one key from the embedded build info.
func buildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}

// versionLine renders "spiderfetch <version> (<commit> <date>)". The
// parenthesis is dropped when the build carries no VCS stamp.
func versionLine() string {
	rev, when := commit, date
	if rev == "" {
		rev = buildSetting("vcs.revision")
		if len(rev) > 7 {
			rev = rev[:7]
		}
	}
	if when == "" {
		when = buildSetting("vcs.time")
	}

	line := "spiderfetch " + getVersion()
	if rev != "" {
		line += " (" + rev
		if when != "" {
			line += " " + when
		}
		line += ")"
	}
	return line
}

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print the version, commit hash, and build date of spiderfetch.`,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionLine())
		},
	}
}
