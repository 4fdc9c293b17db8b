package interfaces

import "context"

// EventPublisher delivers a fund event to downstream consumers under topic.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event any) error
}
