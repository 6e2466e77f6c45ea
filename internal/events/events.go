// Package events fans domain events out over a RabbitMQ topic exchange.
// Other API replicas listen on it to drop cached schedule rules.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Event struct {
	Type       string          `json:"type"`
	ProviderID uuid.UUID       `json:"provider_id"`
	BookingID  *uuid.UUID      `json:"booking_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Handler func(ctx context.Context, ev Event) error

// RoutingKey maps BOOKING_CREATED to booking.created.
func RoutingKey(eventType string) string {
	return strings.ToLower(strings.ReplaceAll(eventType, "_", "."))
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

// Nop returns a Publisher that drops every event.
func Nop() Publisher { return nopPublisher{} }

func encode(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", ev.Type, err)
	}
	return body, nil
}

func decode(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}
