package fanout

import (
	"context"
	"errors"
	"fmt"

	interfaces "github.com/sheikh-saqib/crowdfunding-ledger/internal/interfaces"
)

// Publisher delivers each event to every wrapped publisher, in order.
// A failing publisher does not stop delivery to the rest.
type Publisher struct {
	publishers []interfaces.EventPublisher
}

// New returns a publisher that delivers to publishers in the given order.
func New(publishers ...interfaces.EventPublisher) *Publisher {
	return &Publisher{publishers: publishers}
}

// Publish delivers event to every publisher and joins their errors.
func (f *Publisher) Publish(ctx context.Context, topic string, event any) error {
	var errs []error
	for i, p := range f.publishers {
		if err := p.Publish(ctx, topic, event); err != nil {
			errs = append(errs, fmt.Errorf("publisher %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
