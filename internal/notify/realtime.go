package notify

import (
	"context"

	"github.com/mbd888/sovereign/internal/idgen"
	"github.com/mbd888/sovereign/internal/realtime"
)

// Broadcaster publishes events to live subscribers. *realtime.Hub implements it.
type Broadcaster interface {
	Publish(t realtime.EventType, data map[string]any) bool
}

// RealtimeChannel pushes messages to connected operator consoles.
type RealtimeChannel struct {
	hub Broadcaster
}

// NewRealtimeChannel creates a realtime provider.
func NewRealtimeChannel(hub Broadcaster) *RealtimeChannel {
	return &RealtimeChannel{hub: hub}
}

func (r *RealtimeChannel) Name() string { return ProviderRealtime }

func (r *RealtimeChannel) Send(_ context.Context, msg *Message) (*Delivery, error) {
	id := idgen.New()
	ok := r.hub.Publish(realtime.EventNotification, map[string]any{
		"id":       id,
		"to":       msg.To,
		"subject":  msg.Subject,
		"body":     msg.Body,
		"priority": string(msg.Priority),
		"data":     msg.Data,
	})
	if !ok {
		return nil, ErrNotDelivered
	}
	return &Delivery{Sent: true, Provider: ProviderRealtime, MessageID: id}, nil
}
