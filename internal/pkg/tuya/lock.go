package tuya

import (
	"context"
	"fmt"
)

type Ticket struct {
	TicketID   string `json:"ticket_id"`
	TicketKey  string `json:"ticket_key"`
	ExpireTime int64  `json:"expire_time"`
}

func (c *Client) PasswordTicket(ctx context.Context, deviceID string) (Ticket, error) {
	var t Ticket
	if err := c.post(ctx, fmt.Sprintf("/v1.0/devices/%s/door-lock/password-ticket", deviceID), nil, &t); err != nil {
		return Ticket{}, fmt.Errorf("requesting password ticket: %w", err)
	}
	if t.TicketID == "" {
		return Ticket{}, ErrNoTicket
	}
	return t, nil
}

// Operate opens (unlocks) or closes (locks) the door using a fresh
// password-free ticket.
func (c *Client) Operate(ctx context.Context, deviceID string, open bool) error {
	t, err := c.PasswordTicket(ctx, deviceID)
	if err != nil {
		return err
	}

	body := struct {
		TicketID string `json:"ticket_id"`
		Open     bool   `json:"open"`
	}{t.TicketID, open}

	var accepted bool
	if err := c.post(ctx, fmt.Sprintf("/v1.0/smart-lock/devices/%s/password-free/door-operate", deviceID), body, &accepted); err != nil {
		return fmt.Errorf("operating door: %w", err)
	}
	if !accepted {
		return ErrOperateRejected
	}
	return nil
}

func (c *Client) Lock(ctx context.Context, deviceID string) error {
	return c.Operate(ctx, deviceID, false)
}

func (c *Client) Unlock(ctx context.Context, deviceID string) error {
	return c.Operate(ctx, deviceID, true)
}
