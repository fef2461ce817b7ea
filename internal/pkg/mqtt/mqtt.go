package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/config"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gofrs/uuid"
)

type topicFn func(topic, payload string)

type MqttClient struct {
	client mqtt.Client
	topics Topics
}

func NewMQTTClient(addr string, insecureSkipVerify bool, topics Topics, connectHandler func(client mqtt.Client), connectionLostHandler func(client mqtt.Client, err error), reconnectHandler func(mqtt.Client, *mqtt.ClientOptions)) MqttClient {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(addr)
	opts.CleanSession = false
	var clientID string
	u, _ := uuid.NewV4()
	clientID = u.String()
	opts.SetClientID(clientID)
	opts.TLSConfig = &tls.Config{
		InsecureSkipVerify: insecureSkipVerify,
	}
	opts.SetWill(topics.BridgeAvailability(), config.PayloadOffline, 1, true)
	opts.OnConnect = connectHandler
	opts.OnConnectionLost = connectionLostHandler
	opts.OnReconnecting = reconnectHandler
	opts.AutoReconnect = true
	client := mqtt.NewClient(opts)

	return MqttClient{
		client: client,
		topics: topics,
	}
}

func (c MqttClient) Topics() Topics {
	return c.topics
}

func (c MqttClient) Connect() error {
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return c.publishRetained(c.topics.BridgeAvailability(), config.PayloadOnline)
}

func (c MqttClient) Cleanup() {
	_ = c.publishRetained(c.topics.BridgeAvailability(), config.PayloadOffline)
	c.client.Disconnect(250)
}

// Subscribe hands the matched topic to the handler so wildcard
// subscriptions can tell devices apart.
func (c MqttClient) Subscribe(topic string, subscribeHandler topicFn) error {
	if token := c.client.Subscribe(topic, 1, func(client mqtt.Client, msg mqtt.Message) {
		subscribeHandler(msg.Topic(), string(msg.Payload()))
	}); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (c MqttClient) publishRetained(topic, message string) error {
	token := c.client.Publish(topic, 1, true, message)
	token.Wait()
	return token.Error()
}

func (c MqttClient) PublishLockDiscovery(d EntityDevice, version string) error {
	j, err := json.Marshal(c.topics.LockDiscovery(d, version))
	if err != nil {
		return fmt.Errorf("marshalling lock discovery: %s", err)
	}
	return c.publishRetained(c.topics.LockConfig(d.ID), string(j))
}

func (c MqttClient) PublishBatteryDiscovery(d EntityDevice, version string) error {
	j, err := json.Marshal(c.topics.BatteryDiscovery(d, version))
	if err != nil {
		return fmt.Errorf("marshalling battery discovery: %s", err)
	}
	return c.publishRetained(c.topics.BatteryConfig(d.ID), string(j))
}

// PublishLockState publishes the state, or marks the device offline when
// the state is unavailable.
func (c MqttClient) PublishLockState(deviceID string, s config.LockState) error {
	payload, ok := LockPayload(s)
	if !ok {
		return c.PublishAvailability(deviceID, false)
	}

	if err := c.PublishAvailability(deviceID, true); err != nil {
		return err
	}
	return c.publishRetained(c.topics.LockState(deviceID), payload)
}

func (c MqttClient) PublishBattery(deviceID string, pct int) error {
	return c.publishRetained(c.topics.BatteryState(deviceID), strconv.Itoa(pct))
}

func (c MqttClient) PublishAvailability(deviceID string, online bool) error {
	payload := config.PayloadOffline
	if online {
		payload = config.PayloadOnline
	}
	return c.publishRetained(c.topics.Availability(deviceID), payload)
}
