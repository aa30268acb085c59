// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs pushed to connected clients.
package ws

import (
	"time"

	"github.com/evetabi/predex/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeWelcome        MsgType = "welcome"
	MsgTypeOrderBook      MsgType = "orderbook_changed"
	MsgTypeMarketResolved MsgType = "market_resolved"
)

// ──────────────────────────────────────────────────────────────────────────────
// WelcomeMessage: sent once to each client after the upgrade.
// ──────────────────────────────────────────────────────────────────────────────

// WelcomeMessage echoes the identity and filter the hub applied to the
// connection. Address is empty for anonymous clients.
type WelcomeMessage struct {
	Type     MsgType    `json:"type"`
	Address  string     `json:"address,omitempty"`
	MarketID *uuid.UUID `json:"market_id,omitempty"`
}

// ──────────────────────────────────────────────────────────────────────────────
// OrderBookMessage: broadcast after trades, fills and cancellations.
// ──────────────────────────────────────────────────────────────────────────────

// OrderBookMessage tells clients that a market's prices or resting orders
// changed. Prices is empty when the change did not move the pool.
type OrderBookMessage struct {
	Type      MsgType           `json:"type"`
	MarketID  uuid.UUID         `json:"market_id"`
	Prices    []decimal.Decimal `json:"prices"`
	Reason    string            `json:"reason"`
	Timestamp time.Time         `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketResolvedMessage: broadcast when an outcome is locked in.
// ──────────────────────────────────────────────────────────────────────────────

// MarketResolvedMessage tells clients which outcome won and how much the
// winners share.
type MarketResolvedMessage struct {
	Type        MsgType         `json:"type"`
	MarketID    uuid.UUID       `json:"market_id"`
	Outcome     domain.Outcome  `json:"outcome"`
	Status      string          `json:"status"`
	NetDeposits decimal.Decimal `json:"net_deposits"`
	Timestamp   time.Time       `json:"timestamp"`
}
