// Package commands holds the kvmshare CLI.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "dev"
	// Commit is set at build time
	Commit = "none"
)

var rootCmd = &cobra.Command{
	Use:   "kvmshare",
	Short: "kvmshare - share one mouse and keyboard across LAN hosts",
	Long: `kvmshare turns one machine into a software KVM switch: the server host
captures its mouse and keyboard and hands them to up to two client hosts,
switched by pushing the cursor against a screen edge or by hotkey.

Use "kvmshare [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(autostartCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd shows version info
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kvmshare\n")
		fmt.Printf("  Version: %s\n", Version)
		fmt.Printf("  Commit:  %s\n", Commit)
	},
}
