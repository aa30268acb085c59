package notify_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/notify"
)

type recorder struct {
	resolved []domain.MarketResolvedEvent
	changed  int
	err      error
}

func (r *recorder) MarketResolved(_ context.Context, ev domain.MarketResolvedEvent) error {
	r.resolved = append(r.resolved, ev)
	return r.err
}

func (r *recorder) OrderBookChanged(context.Context, domain.OrderBookChangedEvent) error {
	r.changed++
	return r.err
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestFanout_DeliversDespiteFailures(t *testing.T) {
	boom := errors.New("boom")
	bad := &recorder{err: boom}
	good := &recorder{}
	f := notify.NewFanout(quietLogger(), bad, nil, good)

	ev := domain.MarketResolvedEvent{MarketID: uuid.New(), Outcome: domain.OutcomeNo}
	err := f.MarketResolved(context.Background(), ev)
	require.ErrorIs(t, err, boom)
	require.Len(t, good.resolved, 1)
	assert.Equal(t, ev.MarketID, good.resolved[0].MarketID)

	require.NoError(t, notify.NewFanout(quietLogger(), good).OrderBookChanged(context.Background(), domain.OrderBookChangedEvent{}))
	assert.Equal(t, 1, good.changed)
}

func TestNopPublisher(t *testing.T) {
	var p notify.Publisher = notify.Nop{}
	assert.NoError(t, p.MarketResolved(context.Background(), domain.MarketResolvedEvent{}))
	assert.NoError(t, p.OrderBookChanged(context.Background(), domain.OrderBookChangedEvent{}))
}

func TestRedisPublisher_ChannelNames(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	p := notify.NewRedisPublisher(rdb, "")
	assert.Equal(t, "predex:market_resolved", p.Channel(domain.EventMarketResolved))
	assert.Equal(t, "x:orderbook_changed", notify.NewRedisPublisher(rdb, "x").Channel(domain.EventOrderBookChanged))
}
