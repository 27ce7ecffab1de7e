package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"kvmshare/internal/autostart"
)

var autostartCmd = &cobra.Command{
	Use:   "autostart",
	Short: "Manage launch-at-login registration",
}

var autostartEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Register kvmshare to start at login",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := autostart.Enable(); err != nil {
			return err
		}
		fmt.Println("Auto-start enabled.")
		return nil
	},
}

var autostartDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Remove the launch-at-login registration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := autostart.Disable(); err != nil {
			return err
		}
		fmt.Println("Auto-start disabled.")
		return nil
	},
}

var autostartStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether launch-at-login is registered",
	Run: func(cmd *cobra.Command, args []string) {
		if autostart.IsEnabled() {
			fmt.Println("Auto-start is enabled.")
		} else {
			fmt.Println("Auto-start is disabled.")
		}
	},
}

func init() {
	autostartCmd.AddCommand(autostartEnableCmd)
	autostartCmd.AddCommand(autostartDisableCmd)
	autostartCmd.AddCommand(autostartStatusCmd)
}
