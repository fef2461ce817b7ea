package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/config"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/lockstate"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/tuya"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [device-id...]",
	Short: "Print the state and battery of locks",
	Long:  `Print the state and battery of the given locks, or of every discovered lock when none are given`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, err := dialTuya(ctx)
		if err != nil {
			return err
		}

		seeds := args
		if len(seeds) == 0 {
			seeds = loadBridgeConfig().DeviceIDs
		}
		devices, err := client.Discover(ctx, seeds, lockstate.MF15WiFi01.Category)
		if err != nil {
			if len(devices) == 0 {
				return err
			}
			cmd.PrintErrf("Some locks could not be discovered: %s\n", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATE\tBATTERY")
		for _, d := range devices {
			if !d.Online {
				fmt.Fprintf(w, "%s\t%s\t%s\t-\n", d.ID, d.Name, config.UNAVAILABLE)
				continue
			}
			status, err := client.Status(ctx, d.ID)
			if err != nil {
				fmt.Fprintf(w, "%s\t%s\terror: %s\t\n", d.ID, d.Name, err)
				continue
			}
			battery := "-"
			if pct, ok := lockstate.Battery(status, lockstate.MF15WiFi01.BatteryKey); ok {
				battery = fmt.Sprintf("%d%%", pct)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Name, lockstate.FromStatus(status, lockstate.MF15WiFi01.Lock), battery)
		}
		return w.Flush()
	},
}

func dialTuya(ctx context.Context) (*tuya.Client, error) {
	c := loadBridgeConfig().TuyaConfig
	client, err := tuya.Dial(ctx, tuyaEndpoints(c), c.AccessID, c.AccessSecret)
	if err != nil {
		return nil, fmt.Errorf("connecting to tuya cloud: %w", err)
	}
	return client, nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
