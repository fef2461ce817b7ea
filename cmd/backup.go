package cmd

import (
	"fmt"

	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/aws"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/postgres"
	"github.com/spf13/cobra"
)

// backupCmd uploads the full lock history to the configured bucket
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up lock history to S3",
	Long:  `Exports every lock event from postgres as JSON lines and uploads it to the configured S3 compatible bucket`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bridgeConfig := loadBridgeConfig()

		fmt.Println("App name:", bridgeConfig.AppName)

		postgresClient, err := postgres.NewPostgresClient(bridgeConfig.PostgresURL)
		if err != nil {
			return err
		}

		rows, err := postgresClient.GetAllRows()
		if err != nil {
			return err
		}

		fmt.Println("Row count:", len(rows))

		awsClient, err := aws.NewClient(bridgeConfig)
		if err != nil {
			return err
		}

		err = awsClient.WriteBackupFile(rows)
		if err != nil {
			return err
		}

		return awsClient.UploadBackupFile(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(backupCmd)
}
