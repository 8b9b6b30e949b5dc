package broadcaster

import (
	"context"
	"errors"

	"troffee-auction-engine/internal/ports/outbound"

	"github.com/google/uuid"
)

// Fanout publishes each event to every configured publisher. A failing
// publisher does not stop the others.
type Fanout struct {
	publishers []outbound.EventPublisher
}

var _ outbound.EventPublisher = (*Fanout)(nil)

func NewFanout(publishers ...outbound.EventPublisher) *Fanout {
	var kept []outbound.EventPublisher
	for _, p := range publishers {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return &Fanout{publishers: kept}
}

func (f *Fanout) Publish(ctx context.Context, auctionID uuid.UUID, event outbound.Event) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, auctionID, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
