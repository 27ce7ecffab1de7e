package commands

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kvmshare/internal/config"
	"kvmshare/internal/input"
	"kvmshare/internal/switcher"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a kvmshare host",
	Long: `Run this machine as a kvmshare host. The server role listens for
clients and owns the shared input; the client role finds the server and
injects what it receives.

Flags override the config file; the merged result is what runs.`,
	RunE: runHost,
}

func init() {
	runCmd.Flags().String("role", "", "Host role: server or client")
	runCmd.Flags().String("server", "", "Server address (client role), bypassing discovery")
	runCmd.Flags().String("token", "", "Shared network token")
	runCmd.Flags().String("slot", "", "Requested slot (client role): left or right")
	runCmd.Flags().String("mode", "", "Switching mode: position or toggle")
	runCmd.Flags().Int("api-port", 0, "HTTP API port (0 keeps the configured port)")
	runCmd.Flags().Bool("no-api", false, "Disable the HTTP API")
}

func runHost(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)

	sw, err := switcher.New(cfg, input.NewStub())
	if err != nil {
		return err
	}

	if err := sw.Start(); err != nil {
		// a control-port bind failure means another instance or a port
		// clash; distinguish it for scripts
		log.Printf("Startup failed: %v", err)
		os.Exit(2)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %s, shutting down", sig)

	sw.Stop()
	return nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("role"); v != "" {
		cfg.Role = v
	}
	if v, _ := cmd.Flags().GetString("server"); v != "" {
		cfg.ServerAddr = v
	}
	if v, _ := cmd.Flags().GetString("token"); v != "" {
		cfg.Token = v
	}
	if v, _ := cmd.Flags().GetString("slot"); v != "" {
		cfg.Slot = v
	}
	if v, _ := cmd.Flags().GetString("mode"); v != "" {
		cfg.Mode = v
	}
	if v, _ := cmd.Flags().GetInt("api-port"); v != 0 {
		cfg.APIPort = v
	}
	if v, _ := cmd.Flags().GetBool("no-api"); v {
		cfg.APIEnabled = false
	}
}
