package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/evetabi/predex/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuth struct{}

func (stubAuth) ParseAccessToken(token string) (domain.Caller, error) {
	if token != "good" {
		return domain.Caller{}, domain.ErrTokenInvalid
	}
	return domain.Caller{Address: "0xabc"}, nil
}

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(stubAuth{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestHub_FiltersByMarket(t *testing.T) {
	hub, url := startHub(t)
	watched, other := uuid.New(), uuid.New()

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token=good&market="+watched.String(), nil)
	require.NoError(t, err)
	defer conn.Close()

	var welcome WelcomeMessage
	readJSON(t, conn, &welcome)
	assert.Equal(t, MsgTypeWelcome, welcome.Type)
	assert.Equal(t, "0xabc", welcome.Address)
	require.Eventually(t, func() bool { return hub.ConnectedCount() == 1 }, time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, hub.OrderBookChanged(ctx, domain.OrderBookChangedEvent{MarketID: other, Reason: "trade"}))
	require.NoError(t, hub.MarketResolved(ctx, domain.MarketResolvedEvent{
		MarketID: watched, Outcome: domain.OutcomeNo, Status: domain.StatusResolved, NetDeposits: decimal.NewFromInt(42),
	}))

	var msg MarketResolvedMessage
	readJSON(t, conn, &msg)
	assert.Equal(t, MsgTypeMarketResolved, msg.Type, "the other market's event is filtered out")
	assert.Equal(t, watched, msg.MarketID)
	assert.Equal(t, domain.OutcomeNo, msg.Outcome)
	assert.True(t, msg.NetDeposits.Equal(decimal.NewFromInt(42)))
}

func TestHub_RejectsBadToken(t *testing.T) {
	_, url := startHub(t)
	_, resp, err := websocket.DefaultDialer.Dial(url+"?token=bad", nil)
	require.True(t, errors.Is(err, websocket.ErrBadHandshake))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
