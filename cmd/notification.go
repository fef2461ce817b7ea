package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/config"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/monitor"
)

var ntfyURL = "https://ntfy.sh"

// notificationsFor returns the pushes owed for a state change: the lock
// dropping off the network, and the battery crossing below lowBattery.
func notificationsFor(name string, prev, cur monitor.Snapshot, lowBattery int) []config.NTFYMessage {
	var msgs []config.NTFYMessage

	if cur.State == config.UNAVAILABLE && prev.State != "" && prev.State != config.UNAVAILABLE {
		msgs = append(msgs, config.NTFYMessage{
			Body:     fmt.Sprintf("%s lock is unavailable", name),
			Priority: "urgent",
			Tags:     []string{"rotating_light,lock"},
		})
	}

	if cur.HasBattery && cur.Battery < lowBattery && (!prev.HasBattery || prev.Battery >= lowBattery) {
		msgs = append(msgs, config.NTFYMessage{
			Body:     fmt.Sprintf("%s lock battery is at %d%%", name, cur.Battery),
			Priority: "high",
			Tags:     []string{"battery"},
		})
	}

	return msgs
}

func sendPushNotification(bridgeConfig config.BridgeConfig, msg config.NTFYMessage) error {
	req, _ := http.NewRequest("POST", fmt.Sprintf("%s/%s", ntfyURL, bridgeConfig.NTFYConfig.Topic), strings.NewReader(msg.Body))
	req.Header.Set("Title", "MF15 Lock Update")
	req.Header.Set("Priority", msg.Priority)
	req.Header.Set("Tags", strings.Join(msg.Tags, ","))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting to ntfy: %w", err)
	}
	defer resp.Body.Close()

	var r config.NTFYResponse
	err = json.NewDecoder(resp.Body).Decode(&r)
	if err != nil {
		return fmt.Errorf("decoding ntfy response: %w", err)
	}

	logger.Infof("response from ntfy: (id: %s) (event: %s)", r.Id, r.Event)

	return nil
}
