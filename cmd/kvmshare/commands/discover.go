package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"kvmshare/internal/deviceid"
	"kvmshare/internal/discovery"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Listen for kvmshare servers on the LAN",
	Long: `Listen on the discovery port and print every server announcing
itself with the configured token. Useful for checking that discovery
traffic makes it through the network.`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().Duration("wait", 5*time.Second, "How long to listen")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	deviceID, err := deviceid.GetOrCreate()
	if err != nil {
		return err
	}
	beaconID, err := deviceid.BeaconID(deviceID)
	if err != nil {
		return err
	}

	table := discovery.NewTable(func(rec discovery.PeerRecord) {
		fmt.Printf("  %s  control port %d\n", rec.Addr, rec.TCPPort)
	})
	svc := discovery.NewService(discovery.Options{
		OwnID:             beaconID,
		UDPPort:           cfg.DiscoveryPort,
		TCPPort:           cfg.ControlPort,
		Token:             cfg.Token,
		BroadcastInterval: cfg.BroadcastInterval(),
		SweepInterval:     cfg.SweepInterval(),
	}, table)
	if err := svc.Start(); err != nil {
		return err
	}
	defer svc.Stop()

	wait, _ := cmd.Flags().GetDuration("wait")
	fmt.Printf("Listening for servers on UDP port %d for %s...\n", cfg.DiscoveryPort, wait)
	time.Sleep(wait)

	peers := table.Snapshot()
	if len(peers) == 0 {
		fmt.Println("No servers found.")
	} else {
		fmt.Printf("%d server(s) found.\n", len(peers))
	}
	return nil
}
