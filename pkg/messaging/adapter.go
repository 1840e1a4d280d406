package messaging

import (
	"context"
	"fmt"
)

// Consume subscribes to channel and hands every payload to handle until ctx
// is done or the subscription ends. Handler errors go to onError and do not
// stop consumption.
func Consume(ctx context.Context, broker Broker, channel string, handle Handler, onError func(error)) error {
	msgChan, err := broker.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgChan:
			if !ok {
				return nil
			}
			if err := handle(ctx, msg); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}
