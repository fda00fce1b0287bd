package bus

import (
	"context"
	"fmt"

	"github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/pubsub"
)

// Relay feeds every transport event into the local hub.
type Relay struct {
	sub     pubsub.Subscriber
	hub     Deliverer
	pattern string
}

// NewRelay creates a relay for all broadcast destinations.
func NewRelay(sub pubsub.Subscriber, hub Deliverer) *Relay {
	return &Relay{sub: sub, hub: hub, pattern: "*"}
}

// Run blocks until ctx is cancelled or the transport closes the stream.
func (r *Relay) Run(ctx context.Context) error {
	events, err := r.sub.SubscribePattern(ctx, r.pattern)
	if err != nil {
		return fmt.Errorf("relay: subscribe: %w", err)
	}

	l := log.L()
	l.Info().Str("pattern", r.pattern).Msg("broadcast relay started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("relay: event stream closed")
			}
			n := r.hub.Deliver(ev.Destination, ev.Payload)
			l.Debug().
				Str(log.FieldDestination, ev.Destination).
				Int("delivered", n).
				Msg("broadcast relayed")
		}
	}
}
