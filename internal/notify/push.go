// README: FCM topic push channel; one topic per order so customer and rider devices can subscribe.
package notify

import (
	"context"
	"fmt"
	"strconv"

	"firebase.google.com/go/v4/messaging"
)

// MessageSender is satisfied by *messaging.Client.
type MessageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type Push struct {
	Client MessageSender
}

func (p *Push) Name() string { return "push" }

func (p *Push) Handles(Kind) bool { return true }

func (p *Push) Send(ctx context.Context, e Event) error {
	msg := &messaging.Message{
		Topic: Topic(e.OrderID.String()),
		Data: map[string]string{
			"type":      string(e.Kind),
			"order_id":  e.OrderID.String(),
			"status":    e.Status,
			"rider_id":  e.RiderID.String(),
			"rider":     e.RiderName,
			"fee":       strconv.FormatInt(e.Fee, 10),
			"timestamp": strconv.FormatInt(e.At.Unix(), 10),
		},
		Notification: &messaging.Notification{
			Title: "Order update",
			Body:  e.Text(),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
	if _, err := p.Client.Send(ctx, msg); err != nil {
		return fmt.Errorf("fcm send order %s: %w", e.OrderID, err)
	}
	return nil
}

// Topic is the FCM topic name for an order.
func Topic(orderID string) string {
	return "order_" + orderID
}
