package tuya

import (
	"context"
	"errors"
	"fmt"
)

type Device struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	ProductName string       `json:"product_name"`
	Category    string       `json:"category"`
	Online      bool         `json:"online"`
	IP          string       `json:"ip"`
	LocalKey    string       `json:"local_key"`
	UID         string       `json:"uid"`
	Status      []StatusItem `json:"status"`
}

type StatusItem struct {
	Code  string      `json:"code"`
	Value interface{} `json:"value"`
}

type Command struct {
	Code  string      `json:"code"`
	Value interface{} `json:"value"`
}

// StatusMap flattens a status list into DPCode -> value.
func StatusMap(items []StatusItem) map[string]interface{} {
	m := make(map[string]interface{}, len(items))
	for _, item := range items {
		if item.Code == "" {
			continue
		}
		m[item.Code] = item.Value
	}
	return m
}

func (d Device) StatusMap() map[string]interface{} {
	return StatusMap(d.Status)
}

func (c *Client) Device(ctx context.Context, deviceID string) (Device, error) {
	var d Device
	if err := c.get(ctx, fmt.Sprintf("/v1.0/devices/%s", deviceID), &d); err != nil {
		return Device{}, fmt.Errorf("getting device %s: %w", deviceID, err)
	}
	return d, nil
}

func (c *Client) Status(ctx context.Context, deviceID string) (map[string]interface{}, error) {
	var items []StatusItem
	if err := c.get(ctx, fmt.Sprintf("/v1.0/devices/%s/status", deviceID), &items); err != nil {
		return nil, fmt.Errorf("getting device %s status: %w", deviceID, err)
	}
	return StatusMap(items), nil
}

func (c *Client) UserDevices(ctx context.Context, uid string) ([]Device, error) {
	var devices []Device
	if err := c.get(ctx, fmt.Sprintf("/v1.0/users/%s/devices", uid), &devices); err != nil {
		return nil, fmt.Errorf("listing devices for user %s: %w", uid, err)
	}
	return devices, nil
}

func (c *Client) SendCommands(ctx context.Context, deviceID string, commands ...Command) error {
	body := struct {
		Commands []Command `json:"commands"`
	}{commands}

	var ok bool
	if err := c.post(ctx, fmt.Sprintf("/v1.0/devices/%s/commands", deviceID), body, &ok); err != nil {
		return fmt.Errorf("sending commands to %s: %w", deviceID, err)
	}
	if !ok {
		return fmt.Errorf("sending commands to %s: device returned false", deviceID)
	}
	return nil
}

// Discover returns the seed devices plus every device of category owned by
// the seeds' users. Seeds of another category are dropped. Seeds or users
// that cannot be read are skipped; their errors are joined into err while
// the devices found are still returned.
func (c *Client) Discover(ctx context.Context, seedIDs []string, category string) ([]Device, error) {
	seen := map[string]bool{}
	uids := map[string]bool{}
	var found []Device

	add := func(d Device) {
		if d.Category != category || seen[d.ID] {
			return
		}
		seen[d.ID] = true
		found = append(found, d)
	}

	var errs []error
	for _, id := range seedIDs {
		d, err := c.Device(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		add(d)
		if d.UID != "" {
			uids[d.UID] = true
		}
	}

	if uid := c.UID(); uid != "" {
		uids[uid] = true
	}

	for uid := range uids {
		devices, err := c.UserDevices(ctx, uid)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, d := range devices {
			add(d)
		}
	}

	return found, errors.Join(errs...)
}
