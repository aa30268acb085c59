package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType identifies a published engine event so subscribers can switch on it.
type EventType string

const (
	EventMarketResolved   EventType = "market_resolved"
	EventOrderBookChanged EventType = "orderbook_changed"
)

// MarketResolvedEvent is published after a resolution commits.
type MarketResolvedEvent struct {
	Type        EventType       `json:"type"`
	MarketID    uuid.UUID       `json:"market_id"`
	Outcome     Outcome         `json:"outcome"`
	Status      MarketStatus    `json:"status"`
	NetDeposits decimal.Decimal `json:"net_deposits"`
	Timestamp   time.Time       `json:"timestamp"`
}

// OrderBookChangedEvent is published after a trade, fill or cancellation.
type OrderBookChangedEvent struct {
	Type      EventType         `json:"type"`
	MarketID  uuid.UUID         `json:"market_id"`
	Prices    []decimal.Decimal `json:"prices"`
	Reason    string            `json:"reason"`
	Timestamp time.Time         `json:"timestamp"`
}
