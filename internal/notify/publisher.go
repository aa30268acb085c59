// Package notify delivers engine events after their transaction commits.
// Delivery is best effort: callers log a failed publish and carry on, the
// committed state is never rolled back because a subscriber was unreachable.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/evetabi/predex/internal/domain"
)

// Publisher receives committed engine events.
type Publisher interface {
	MarketResolved(ctx context.Context, ev domain.MarketResolvedEvent) error
	OrderBookChanged(ctx context.Context, ev domain.OrderBookChangedEvent) error
}

// Nop discards every event.
type Nop struct{}

// MarketResolved implements Publisher.
func (Nop) MarketResolved(context.Context, domain.MarketResolvedEvent) error { return nil }

// OrderBookChanged implements Publisher.
func (Nop) OrderBookChanged(context.Context, domain.OrderBookChangedEvent) error { return nil }

// Fanout forwards each event to every publisher. A failing publisher does
// not prevent delivery to the rest; the failures are joined.
type Fanout struct {
	pubs   []Publisher
	logger *slog.Logger
}

// NewFanout builds a fan-out over pubs. Nil entries are skipped.
func NewFanout(logger *slog.Logger, pubs ...Publisher) *Fanout {
	f := &Fanout{logger: logger.With("component", "notify")}
	for _, p := range pubs {
		if p != nil {
			f.pubs = append(f.pubs, p)
		}
	}
	return f
}

// MarketResolved implements Publisher.
func (f *Fanout) MarketResolved(ctx context.Context, ev domain.MarketResolvedEvent) error {
	return f.dispatch(ctx, string(domain.EventMarketResolved), func(p Publisher) error {
		return p.MarketResolved(ctx, ev)
	})
}

// OrderBookChanged implements Publisher.
func (f *Fanout) OrderBookChanged(ctx context.Context, ev domain.OrderBookChangedEvent) error {
	return f.dispatch(ctx, string(domain.EventOrderBookChanged), func(p Publisher) error {
		return p.OrderBookChanged(ctx, ev)
	})
}

func (f *Fanout) dispatch(ctx context.Context, event string, send func(Publisher) error) error {
	var errs []error
	for i, p := range f.pubs {
		if err := send(p); err != nil {
			f.logger.WarnContext(ctx, "publish failed", "event", event, "publisher", i, "err", err)
			errs = append(errs, fmt.Errorf("publisher %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
