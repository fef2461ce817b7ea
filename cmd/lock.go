package cmd

import (
	"context"
	"fmt"

	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/tuya"
	"github.com/spf13/cobra"
)

var lockCmd = &cobra.Command{
	Use:   "lock <device-id>",
	Short: "Lock a door",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return operate(cmd, args[0], "Locked", (*tuya.Client).Lock)
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <device-id>",
	Short: "Unlock a door",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return operate(cmd, args[0], "Unlocked", (*tuya.Client).Unlock)
	},
}

func operate(cmd *cobra.Command, deviceID, done string, op func(*tuya.Client, context.Context, string) error) error {
	client, err := dialTuya(cmd.Context())
	if err != nil {
		return err
	}

	if err := op(client, cmd.Context(), deviceID); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", done, deviceID)
	return nil
}

func init() {
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(unlockCmd)
}
