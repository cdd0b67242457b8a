// Package bus carries alert and detection updates between processes over a
// narrow publish/subscribe interface and relays them to connected clients.
package bus

import (
	"context"
	"errors"
)

// ErrSubscriptionClosed is returned by Next once the subscription has been
// closed, locally or by the transport.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Publisher publishes messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) error
}

// Subscriber opens subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Subscription yields messages from one topic.
//
// Next blocks until a message arrives or ctx is done. A temporary
// *errs.TransportError means the caller may call Next again; ErrMalformed
// means one message was skipped; any other error means the subscription
// is dead and must be replaced.
type Subscription interface {
	Next(ctx context.Context) (Message, error)
	Close() error
}

// Bus is a complete transport.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}
