package cmd

import (
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/config"
	"github.com/spf13/cobra"

	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "mf15-lock-bridge",
	Short: "Home Assistant bridge for JTMSBH MF15 smart locks",
	Long:  `Publishes JTMSBH MF15 WiFi locks to Home Assistant over MQTT and relays lock commands to the Tuya cloud`,
	Run: func(cmd *cobra.Command, args []string) {
		runBridge()
	},
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	cobra.OnInitialize(initConfig)
	viper.SetConfigFile(".env")
}

func initConfig() {
	viper.SetConfigFile(".env")
	viper.SetDefault("APP_NAME", "mf15-lock-bridge")
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("MOSQUITTO_PORT", config.DefaultMQTTPort)
	viper.SetDefault("MOSQUITTO_PROTOCOL", config.DefaultMQTTScheme)
	viper.SetDefault("LOW_BATTERY_LEVEL", config.DefaultLowBattery)
	viper.SetDefault("TUYA_LOCAL_ENABLED", true)
	viper.AutomaticEnv()
	viper.ReadInConfig()
}
