package clients

import (
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/aws"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/crypto"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/datadog"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/mqtt"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/outlet"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/postgres"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/redis"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/tuya"
)

// BridgeClients holds what the bridge talks to. Optional integrations are
// nil when not configured.
type BridgeClients struct {
	Tuya       *tuya.Client
	Mosquitto  mqtt.MqttClient
	Redis      *redis.Client
	Postgres   *postgres.Client
	AWS        *aws.Client
	DDClient   *datadog.Client
	CryptoUtil *crypto.Util
	Outlet     *outlet.Outlet
}
