package cmd

import (
	"strings"

	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/config"
	"github.com/spf13/viper"
)

func loadBridgeConfig() config.BridgeConfig {
	return config.BridgeConfig{
		AppName:         viper.GetString("APP_NAME"),
		DeviceIDs:       splitList(viper.GetString("DEVICE_IDS")),
		MockMode:        viper.GetBool("MOCK_MODE"),
		Port:            viper.GetString("PORT"),
		AllowedAPIKeys:  splitList(viper.GetString("ALLOWED_API_KEYS")),
		RedisURL:        viper.GetString("REDIS_URL"),
		RedisTLSURL:     viper.GetString("REDIS_TLS_URL"),
		PostgresURL:     viper.GetString("DATABASE_URL"),
		EncryptionKey:   viper.GetString("ENCRYPTION_KEY"),
		LowBatteryLevel: viper.GetInt("LOW_BATTERY_LEVEL"),
		TuyaConfig: config.TuyaConfig{
			AccessID:     viper.GetString("TUYA_ACCESS_ID"),
			AccessSecret: viper.GetString("TUYA_ACCESS_SECRET"),
			Endpoint:     viper.GetString("TUYA_ENDPOINT"),
			LocalEnabled: viper.GetBool("TUYA_LOCAL_ENABLED"),
		},
		MqttConfig: config.MqttConfig{
			Domain:   viper.GetString("MOSQUITTO_DOMAIN"),
			User:     viper.GetString("MOSQUITTO_USER"),
			Password: viper.GetString("MOSQUITTO_PASSWORD"),
			Protocol: viper.GetString("MOSQUITTO_PROTOCOL"),
			Port:     viper.GetString("MOSQUITTO_PORT"),
		},
		DatadogConfig: config.DatadogConfig{
			APIKey: viper.GetString("DD_API_KEY"),
			APPKey: viper.GetString("DD_APP_KEY"),
		},
		S3Config: config.S3Config{
			AccessKeyID:       viper.GetString("SPACES_AWS_ACCESS_KEY_ID"),
			SecretAccessKey:   viper.GetString("SPACES_AWS_SECRET_ACCESS_KEY"),
			Region:            viper.GetString("SPACES_AWS_REGION"),
			URL:               viper.GetString("SPACES_URL"),
			Bucket:            viper.GetString("SPACES_BUCKET_NAME"),
			FullBackupEnabled: viper.GetBool("DB_FULL_BACKUP_ENABLED"),
		},
		NTFYConfig: config.NTFYConfig{
			Topic: viper.GetString("NTFY_TOPIC"),
		},
		OutletConfig: config.OutletConfig{
			Enabled:    viper.GetBool("OUTLET_ENABLED"),
			Subnet:     viper.GetString("OUTLET_SUBNET"),
			DeviceName: viper.GetString("OUTLET_DEVICE_NAME"),
		},
		Version: version,
	}
}

// viper.GetStringSlice splits env values on whitespace, lists here are
// comma separated.
func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func tuyaEndpoints(c config.TuyaConfig) []string {
	if c.Endpoint != "" {
		return []string{c.Endpoint}
	}
	return nil
}
