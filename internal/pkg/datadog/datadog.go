package datadog

import (
	"context"
	"fmt"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

const (
	batteryMetric = "mf15.battery_percentage"
	lockedMetric  = "mf15.locked"
)

type Client struct {
	api    *datadogV2.MetricsApi
	apiKey string
	appKey string
}

func NewDatadogClient(apiKey, appKey string) Client {
	configuration := datadog.NewConfiguration()
	apiClient := datadog.NewAPIClient(configuration)
	api := datadogV2.NewMetricsApi(apiClient)

	return Client{
		api:    api,
		apiKey: apiKey,
		appKey: appKey,
	}
}

func (c *Client) PublishBattery(ctx context.Context, deviceID string, pct int) error {
	return c.submitGauge(ctx, batteryMetric, deviceID, float64(pct))
}

// PublishLocked reports 1 for locked and 0 for unlocked.
func (c *Client) PublishLocked(ctx context.Context, deviceID string, locked bool) error {
	v := 0.0
	if locked {
		v = 1
	}
	return c.submitGauge(ctx, lockedMetric, deviceID, v)
}

func gaugePayload(metric, deviceID string, value float64, at time.Time) datadogV2.MetricPayload {
	return datadogV2.MetricPayload{
		Series: []datadogV2.MetricSeries{
			{
				Metric: metric,
				Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
				Points: []datadogV2.MetricPoint{
					{
						Timestamp: datadog.PtrInt64(at.Unix()),
						Value:     datadog.PtrFloat64(value),
					},
				},
				Resources: []datadogV2.MetricResource{
					{
						Type: datadog.PtrString("device"),
						Name: datadog.PtrString(deviceID),
					},
				},
				Tags: []string{fmt.Sprintf("device:%s", deviceID)},
			},
		},
	}
}

func (c *Client) submitGauge(ctx context.Context, metric, deviceID string, value float64) error {
	valueCtx := context.WithValue(
		ctx,
		datadog.ContextAPIKeys,
		map[string]datadog.APIKey{
			"apiKeyAuth": {
				Key: c.apiKey,
			},
			"appKeyAuth": {
				Key: c.appKey,
			},
		},
	)

	_, _, err := c.api.SubmitMetrics(valueCtx, gaugePayload(metric, deviceID, value, time.Now()), *datadogV2.NewSubmitMetricsOptionalParameters())
	if err != nil {
		return fmt.Errorf("submitting %s metric: %s", metric, err)
	}

	return nil
}
