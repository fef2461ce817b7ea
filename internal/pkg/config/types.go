package config

type BridgeConfig struct {
	AppName         string
	DeviceIDs       []string
	MockMode        bool
	Port            string
	AllowedAPIKeys  []string
	RedisURL        string
	RedisTLSURL     string
	PostgresURL     string
	EncryptionKey   string
	LowBatteryLevel int
	TuyaConfig      TuyaConfig
	MqttConfig      MqttConfig
	DatadogConfig   DatadogConfig
	S3Config        S3Config
	NTFYConfig      NTFYConfig
	OutletConfig    OutletConfig
	Version         string
}

type TuyaConfig struct {
	AccessID     string
	AccessSecret string
	// Endpoint overrides the region list when set.
	Endpoint     string
	LocalEnabled bool
}

type MqttConfig struct {
	Domain   string
	User     string
	Password string
	Protocol string
	Port     string
}

type DatadogConfig struct {
	APIKey string
	APPKey string
}

type S3Config struct {
	AccessKeyID       string
	SecretAccessKey   string
	Region            string
	URL               string
	Bucket            string
	FullBackupEnabled bool
}

type NTFYConfig struct {
	Topic string
}

type OutletConfig struct {
	Enabled    bool
	Subnet     string
	DeviceName string
}

type NTFYMessage struct {
	Body     string
	Priority string
	Tags     []string
}

type NTFYResponse struct {
	Id    string `json:"id"`
	Event string `json:"event"`
}
