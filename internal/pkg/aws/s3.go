package aws

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	bConfig "github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	backupPrefix = "backups"
)

type Client struct {
	S3            *s3.Client
	Bucket        string
	BackupFileKey string
	TmpWritePath  string
}

func NewClient(bridgeConfig bConfig.BridgeConfig) (Client, error) {
	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(bridgeConfig.S3Config.AccessKeyID, bridgeConfig.S3Config.SecretAccessKey, "")),
		config.WithRegion(bridgeConfig.S3Config.Region),
	)
	if err != nil {
		return Client{}, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if bridgeConfig.S3Config.URL != "" {
			o.EndpointResolver = s3.EndpointResolverFromURL(bridgeConfig.S3Config.URL)
		}
	})

	return Client{
		S3:            client,
		Bucket:        bridgeConfig.S3Config.Bucket,
		BackupFileKey: fmt.Sprintf("%s/%s", backupPrefix, bridgeConfig.AppName),
		TmpWritePath:  fmt.Sprintf("/tmp/%s", bridgeConfig.AppName),
	}, nil
}

func (c *Client) UploadBackupFile(ctx context.Context) error {
	file, err := os.Open(c.TmpWritePath)
	if err != nil {
		return err
	}
	defer file.Close()

	uploader := manager.NewUploader(c.S3)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    aws.String(c.BackupFileKey),
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("uploading backup: %w", err)
	}

	return nil
}

// WriteBackupFile replaces the local backup file with one JSON line per
// lock event.
func (c *Client) WriteBackupFile(events []bConfig.LockStatus) error {
	file, err := os.OpenFile(c.TmpWritePath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	return WriteLines(file, events)
}

func WriteLines(w io.Writer, events []bConfig.LockStatus) error {
	datawriter := bufio.NewWriter(w)
	for _, data := range events {
		j, err := json.Marshal(data)
		if err != nil {
			return err
		}
		_, err = datawriter.WriteString(fmt.Sprintf("%s\n", string(j)))
		if err != nil {
			return err
		}
	}
	return datawriter.Flush()
}
