// Package bus sends payloads to broadcast destinations, either through the
// shared pub/sub transport or straight into the local hub.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weiawesome/wes-io-chat/internal/destination"
	"github.com/weiawesome/wes-io-chat/pkg/pubsub"
)

// Bus delivers a payload to every live subscriber of a destination.
type Bus interface {
	Send(ctx context.Context, dest string, payload interface{}) error
}

// Deliverer is the local fan-out side of the bus.
type Deliverer interface {
	Deliver(dest string, payload json.RawMessage) int
}

// PubSubBus publishes to the shared transport so every gateway replica sees
// the payload.
type PubSubBus struct {
	pub pubsub.Publisher
}

// NewPubSubBus creates a bus on the given publisher.
func NewPubSubBus(pub pubsub.Publisher) *PubSubBus {
	return &PubSubBus{pub: pub}
}

// Send publishes payload to dest. Unknown destinations are rejected.
func (b *PubSubBus) Send(ctx context.Context, dest string, payload interface{}) error {
	d := destination.Parse(dest)
	if d.Kind == destination.Unknown || d.Kind == destination.App {
		return fmt.Errorf("bus: not a broadcast destination: %q", dest)
	}

	event, err := pubsub.NewEvent(d.Kind.String(), dest, payload)
	if err != nil {
		return fmt.Errorf("bus: encode payload: %w", err)
	}

	if err := b.pub.Publish(ctx, dest, event); err != nil {
		return fmt.Errorf("bus: publish to %s: %w", dest, err)
	}
	return nil
}

// LocalBus delivers in-process, for single-node deployments.
type LocalBus struct {
	hub Deliverer
}

// NewLocalBus creates a bus that delivers straight to hub.
func NewLocalBus(hub Deliverer) *LocalBus {
	return &LocalBus{hub: hub}
}

// Send encodes payload and hands it to the hub.
func (b *LocalBus) Send(ctx context.Context, dest string, payload interface{}) error {
	d := destination.Parse(dest)
	if d.Kind == destination.Unknown || d.Kind == destination.App {
		return fmt.Errorf("bus: not a broadcast destination: %q", dest)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bus: encode payload: %w", err)
	}

	b.hub.Deliver(dest, data)
	return nil
}
