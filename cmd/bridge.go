package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/aws"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/clients"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/config"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/crypto"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/datadog"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/entity"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/lockstate"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/monitor"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/mqtt"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/outlet"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/postgres"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/redis"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/tuya"
	mqttC "github.com/eclipse/paho.mqtt.golang"
	goredis "github.com/go-redis/redis/v8"

	"go.uber.org/zap"
)

var (
	logger  *zap.SugaredLogger
	version = "unknown"
)

const (
	fullBackupCronFrequency = 6 * time.Hour
	rediscoveryFrequency    = 30 * time.Minute
	commandTimeout          = 30 * time.Second
)

func runBridge() {
	l, _ := zap.NewProduction()
	logger = l.Sugar().Named("mf15_lock_bridge")
	defer logger.Sync()
	logger.Infof("Running bridge version: %s", version)

	bridgeConfig := loadBridgeConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bridgeClients, err := createClients(bridgeConfig)
	if err != nil {
		logger.Fatalf("Error creating clients: %s", err)
	}

	if err := bridgeClients.Mosquitto.Connect(); err != nil {
		logger.Fatalf("error connecting to mosquitto server: %s", err)
	}
	defer bridgeClients.Mosquitto.Cleanup()

	bridgeClients.Tuya, err = tuya.Dial(ctx, tuyaEndpoints(bridgeConfig.TuyaConfig), bridgeConfig.TuyaConfig.AccessID, bridgeConfig.TuyaConfig.AccessSecret)
	if err != nil {
		// nothing can be polled, keep the configured locks visible but offline
		logger.Warnf("Tuya cloud unavailable, locks will stay unavailable: %s", err)
		publishUnavailable(bridgeClients, bridgeConfig)
		<-ctx.Done()
		return
	}
	logger.Infof("Connected to Tuya cloud at %s", bridgeClients.Tuya.Endpoint())

	var keys entity.KeyCache
	if bridgeClients.Redis != nil && bridgeClients.CryptoUtil != nil {
		keys = bridgeClients.Redis
	}
	manager := entity.NewManager(bridgeClients.Tuya, lockstate.MF15WiFi01, bridgeConfig.TuyaConfig.LocalEnabled, keys, logger)

	b := bridge{
		ctx:     ctx,
		config:  bridgeConfig,
		clients: bridgeClients,
		manager: manager,
	}

	if err := b.discover(); err != nil {
		logger.Errorf("Error discovering locks: %s", err)
	}

	err = bridgeClients.Mosquitto.Subscribe(bridgeClients.Mosquitto.Topics().LockCommandAll(), b.handleCommand)
	if err != nil {
		logger.Fatalf("subscribing to lock commands: %s", err)
	}

	b.configureCronJobs()

	webServer := newWebServer(bridgeConfig, bridgeClients, manager)
	go func() {
		err := webServer.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Error starting web server: %s", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := webServer.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("shutting down web server: %s", err)
	}
}

type bridge struct {
	ctx     context.Context
	config  config.BridgeConfig
	clients clients.BridgeClients
	manager *entity.Manager
}

// discover adds new locks and starts polling them.
func (b bridge) discover() error {
	added, err := b.manager.Discover(b.ctx, b.config.DeviceIDs)
	if err != nil {
		return err
	}

	for _, e := range added {
		b.start(e)
	}
	return nil
}

func (b bridge) start(e *entity.Entry) {
	d := mqtt.EntityDevice{ID: e.Device.ID, Name: e.Lock.Name(), ProductName: e.Device.ProductName}
	if err := b.clients.Mosquitto.PublishLockDiscovery(d, b.config.Version); err != nil {
		logger.Errorf("publishing discovery for %s: %s", e.Lock.UniqueID(), err)
	}
	if e.Battery != nil {
		if err := b.clients.Mosquitto.PublishBatteryDiscovery(d, b.config.Version); err != nil {
			logger.Errorf("publishing discovery for %s: %s", e.Battery.UniqueID(), err)
		}
	}

	prev := b.cachedSnapshot(e.Device.ID)
	e.Monitor.AddListener(func(s monitor.Snapshot) {
		b.handleSnapshot(e, prev, s)
		prev = s
	})

	e.Monitor.Start(b.ctx)
	go e.Monitor.Run(b.ctx)
}

// cachedSnapshot is the state stored by a previous run, so a restart does
// not repeat notifications.
func (b bridge) cachedSnapshot(deviceID string) monitor.Snapshot {
	var s monitor.Snapshot
	if b.clients.Redis == nil {
		return s
	}

	cached, err := b.clients.Redis.ReadState(b.ctx, deviceID)
	if err != nil {
		if err != goredis.Nil {
			logger.Warnf("reading cached state for %s: %s", deviceID, err)
		}
		return s
	}

	s.DeviceID, s.State = cached.DeviceID, cached.State
	if cached.Battery != nil {
		s.Battery, s.HasBattery = *cached.Battery, true
	}
	return s
}

func (b bridge) handleSnapshot(e *entity.Entry, prev, s monitor.Snapshot) {
	if err := b.clients.Mosquitto.PublishLockState(s.DeviceID, s.State); err != nil {
		logger.Errorf("publishing lock state for %s: %s", s.DeviceID, err)
	}
	if e.Battery != nil && e.Battery.Available() && s.HasBattery {
		if err := b.clients.Mosquitto.PublishBattery(s.DeviceID, s.Battery); err != nil {
			logger.Errorf("publishing battery for %s: %s", s.DeviceID, err)
		}
	}

	status := lockStatus(e.Device.Name, s, b.config.Version)

	if b.clients.Redis != nil {
		if err := b.clients.Redis.WriteState(b.ctx, status); err != nil {
			logger.Errorf("writing state to redis: %s", err)
		}
	}

	if b.clients.Postgres != nil {
		if err := b.clients.Postgres.WriteLockEvent(status); err != nil {
			logger.Errorf("writing lock event to postgres: %s", err)
		}
	}

	if b.clients.DDClient != nil && !b.config.MockMode {
		if s.HasBattery {
			if err := b.clients.DDClient.PublishBattery(b.ctx, s.DeviceID, s.Battery); err != nil {
				logger.Errorf("publishing battery metric: %s", err)
			}
		}
		if s.State != config.UNAVAILABLE {
			if err := b.clients.DDClient.PublishLocked(b.ctx, s.DeviceID, s.State == config.LOCKED); err != nil {
				logger.Errorf("publishing locked metric: %s", err)
			}
		}
	}

	if b.clients.Outlet != nil && prev.State != s.State {
		if err := b.clients.Outlet.Follow(s.State); err != nil {
			logger.Errorf("switching outlet %s: %s", b.clients.Outlet.Name, err)
		}
	}

	if b.config.NTFYConfig.Topic != "" && !b.config.MockMode {
		for _, msg := range notificationsFor(e.Device.Name, prev, s, b.config.LowBatteryLevel) {
			if err := sendPushNotification(b.config, msg); err != nil {
				logger.Errorf("sending push notification: %s", err)
			}
		}
	}
}

func lockStatus(name string, s monitor.Snapshot, version string) config.LockStatus {
	status := config.LockStatus{
		DeviceID:  s.DeviceID,
		Name:      name,
		State:     s.State,
		Transport: s.Transport.String(),
		Timestamp: strconv.FormatInt(s.At.UTC().Unix(), 10),
		Version:   version,
	}
	if s.HasBattery {
		battery := s.Battery
		status.Battery = &battery
	}
	return status
}

func (b bridge) handleCommand(topic, payload string) {
	deviceID, ok := b.clients.Mosquitto.Topics().DeviceFromCommand(topic)
	if !ok {
		logger.Warnf("Ignoring command on unexpected topic %s", topic)
		return
	}

	e, ok := b.manager.Get(deviceID)
	if !ok {
		logger.Warnf("Ignoring command for unknown lock %s", deviceID)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
		defer cancel()
		if err := runCommand(ctx, e.Lock, payload); err != nil {
			logger.Errorf("handling %s command for %s: %s", payload, deviceID, err)
		}
	}()
}

func runCommand(ctx context.Context, l *entity.Lock, payload string) error {
	switch payload {
	case config.PayloadLock:
		return l.Lock(ctx)
	case config.PayloadUnlock:
		return l.Unlock(ctx)
	}
	return fmt.Errorf("unknown command payload %q", payload)
}

func publishUnavailable(bridgeClients clients.BridgeClients, bridgeConfig config.BridgeConfig) {
	for _, id := range bridgeConfig.DeviceIDs {
		d := mqtt.EntityDevice{ID: id, Name: id}
		if err := bridgeClients.Mosquitto.PublishLockDiscovery(d, bridgeConfig.Version); err != nil {
			logger.Errorf("publishing lock discovery for %s: %s", id, err)
		}
		if err := bridgeClients.Mosquitto.PublishAvailability(id, false); err != nil {
			logger.Errorf("publishing availability for %s: %s", id, err)
		}
	}
}

func (b bridge) configureCronJobs() {
	if b.config.S3Config.FullBackupEnabled && b.clients.AWS != nil && b.clients.Postgres != nil {
		runFullBackup(b.ctx, b.clients)
		go b.every(fullBackupCronFrequency, func() {
			runFullBackup(b.ctx, b.clients)
		})
	}

	go b.every(rediscoveryFrequency, func() {
		if err := b.discover(); err != nil {
			logger.Errorf("Error rediscovering locks: %s", err)
		}
	})
}

func (b bridge) every(d time.Duration, f func()) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-t.C:
			f()
		}
	}
}

func runFullBackup(ctx context.Context, bridgeClients clients.BridgeClients) {
	logger.Info("Running full database backup")
	rows, err := bridgeClients.Postgres.GetAllRows()
	if err != nil {
		logger.Errorf("getting all rows from db: %s", err)
		return
	}

	err = bridgeClients.AWS.WriteBackupFile(rows)
	if err != nil {
		logger.Errorf("writing backup tmp file: %s", err)
		return
	}

	err = bridgeClients.AWS.UploadBackupFile(ctx)
	if err != nil {
		logger.Errorf("uploading backup file to S3: %s", err)
		return
	}

	logger.Infof("Full backup to S3 success, number of rows backed up: %d", len(rows))
}

func createClients(bridgeConfig config.BridgeConfig) (clients.BridgeClients, error) {
	bridgeClients := clients.BridgeClients{}

	if bridgeConfig.EncryptionKey != "" {
		cryptoUtil, err := crypto.NewUtil(bridgeConfig.EncryptionKey)
		if err != nil {
			return clients.BridgeClients{}, fmt.Errorf("error creating crypto client: %s", err)
		}
		bridgeClients.CryptoUtil = &cryptoUtil
	}

	if bridgeConfig.RedisTLSURL != "" || bridgeConfig.RedisURL != "" {
		var cipher redis.Cipher
		if bridgeClients.CryptoUtil != nil {
			cipher = bridgeClients.CryptoUtil
		}

		var redisClient redis.Client
		var err error
		if bridgeConfig.RedisTLSURL != "" {
			redisClient, err = redis.NewRedisClient(bridgeConfig.RedisTLSURL, true, cipher)
		} else {
			redisClient, err = redis.NewRedisClient(bridgeConfig.RedisURL, false, cipher)
		}
		if err != nil {
			return clients.BridgeClients{}, fmt.Errorf("creating redis client: %s", err)
		}
		bridgeClients.Redis = &redisClient
	}

	if bridgeConfig.PostgresURL != "" {
		postgresClient, err := postgres.NewPostgresClient(bridgeConfig.PostgresURL)
		if err != nil {
			return clients.BridgeClients{}, fmt.Errorf("creating postgres client: %s", err)
		}
		bridgeClients.Postgres = &postgresClient
	}

	m := bridgeConfig.MqttConfig
	mosquittoAddr := fmt.Sprintf("%s://%s:%s@%s:%s", m.Protocol, m.User, m.Password, m.Domain, m.Port)

	insecureSkipVerifyMosquitto := false
	bridgeClients.Mosquitto = mqtt.NewMQTTClient(mosquittoAddr, insecureSkipVerifyMosquitto, mqtt.DefaultTopics(), func(client mqttC.Client) {
		logger.Info("Connected to mosquitto server")
	}, func(client mqttC.Client, err error) {
		logger.Warnf("Connection to mosquitto server lost: %v", err)
	}, func(mqttC.Client, *mqttC.ClientOptions) {
		logger.Info("Bridge client is reconnecting")
	})

	if bridgeConfig.S3Config.Bucket != "" {
		awsClient, err := aws.NewClient(bridgeConfig)
		if err != nil {
			return clients.BridgeClients{}, fmt.Errorf("error creating AWS client: %s", err)
		}
		bridgeClients.AWS = &awsClient
	}

	if bridgeConfig.DatadogConfig.APIKey != "" {
		ddClient := datadog.NewDatadogClient(bridgeConfig.DatadogConfig.APIKey, bridgeConfig.DatadogConfig.APPKey)
		bridgeClients.DDClient = &ddClient
	}

	if bridgeConfig.OutletConfig.Enabled {
		o, err := outlet.Discover(bridgeConfig.OutletConfig.Subnet, bridgeConfig.OutletConfig.DeviceName)
		if err != nil {
			logger.Warnf("Outlet disabled: %s", err)
		} else {
			bridgeClients.Outlet = &o
		}
	}

	return bridgeClients, nil
}
