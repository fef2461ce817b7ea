package redis

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/config"
	"github.com/go-redis/redis/v8"
)

const (
	statePrefix    = "state/"
	localKeyPrefix = "localkey/"
)

// Cipher seals values before they are stored.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

type Client struct {
	client redis.Client
	cipher Cipher
}

func NewRedisClient(redisURL string, tlsEnabled bool, cipher Cipher) (Client, error) {
	redisClient := Client{cipher: cipher}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return redisClient, err
	}
	if tlsEnabled {
		options.TLSConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	redisClient.client = *redis.NewClient(options)

	return redisClient, nil
}

func (c *Client) ReadAllState(ctx context.Context) ([]config.LockStatus, error) {
	lockList := []config.LockStatus{}
	keys, err := c.client.Keys(ctx, fmt.Sprintf("%s*", statePrefix)).Result()
	if err != nil {
		return lockList, err
	}
	for _, k := range keys {
		val, err := c.client.Get(ctx, k).Result()
		if err != nil {
			return []config.LockStatus{}, err
		}
		status := config.LockStatus{}
		err = json.Unmarshal([]byte(val), &status)
		if err != nil {
			return []config.LockStatus{}, err
		}
		lockList = append(lockList, status)
	}

	return lockList, nil
}

func (c *Client) ReadState(ctx context.Context, deviceID string) (config.LockStatus, error) {
	status := config.LockStatus{}
	val, err := c.client.Get(ctx, fmt.Sprintf("%s%s", statePrefix, deviceID)).Result()
	if err != nil {
		return status, err
	}

	err = json.Unmarshal([]byte(val), &status)
	return status, err
}

func (c *Client) WriteState(ctx context.Context, s config.LockStatus) error {
	j, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshalling lock status: %w", err)
	}
	return c.client.Set(ctx, fmt.Sprintf("%s%s", statePrefix, s.DeviceID), string(j), 0).Err()
}

// WriteLocalKey caches the LAN key of a device so local polling survives
// a cloud outage at startup.
func (c *Client) WriteLocalKey(ctx context.Context, deviceID, localKey string) error {
	if c.cipher == nil {
		return fmt.Errorf("no cipher configured for local key cache")
	}
	sealed, err := c.cipher.Encrypt([]byte(localKey))
	if err != nil {
		return fmt.Errorf("encrypting local key: %w", err)
	}
	return c.client.Set(ctx, fmt.Sprintf("%s%s", localKeyPrefix, deviceID), base64.StdEncoding.EncodeToString(sealed), 0).Err()
}

func (c *Client) ReadLocalKey(ctx context.Context, deviceID string) (string, error) {
	if c.cipher == nil {
		return "", fmt.Errorf("no cipher configured for local key cache")
	}
	val, err := c.client.Get(ctx, fmt.Sprintf("%s%s", localKeyPrefix, deviceID)).Result()
	if err != nil {
		return "", err
	}
	sealed, err := base64.StdEncoding.DecodeString(val)
	if err != nil {
		return "", fmt.Errorf("decoding local key: %w", err)
	}
	plain, err := c.cipher.Decrypt(sealed)
	if err != nil {
		return "", fmt.Errorf("decrypting local key: %w", err)
	}
	return string(plain), nil
}
