package domain

import "time"

// EventType names a market lifecycle event.
type EventType string

const (
	EventMarketCreated EventType = "market_created"
	EventTrade         EventType = "trade"
	EventResolution    EventType = "resolution"
)

// Pub/Sub channels and the durable stream events are written to.
const (
	ChannelMarkets     = "markets"
	ChannelTrades      = "trades"
	ChannelResolutions = "resolutions"
	StreamEvents       = "events"
)

// Event is the JSON payload published on the signal bus and relayed to
// WebSocket clients.
type Event struct {
	Type      EventType `json:"type"`
	MarketID  string    `json:"market_id"`
	UserID    string    `json:"user_id,omitempty"`
	Side      Side      `json:"side,omitempty"`
	Amount    float64   `json:"amount,omitempty"`
	Cost      float64   `json:"cost,omitempty"`
	PriceYes  float64   `json:"price_yes"`
	PriceNo   float64   `json:"price_no"`
	Outcome   Side      `json:"outcome,omitempty"`
	Payouts   int       `json:"payouts,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Channel returns the Pub/Sub channel e is published on.
func (e Event) Channel() string {
	switch e.Type {
	case EventTrade:
		return ChannelTrades
	case EventResolution:
		return ChannelResolutions
	default:
		return ChannelMarkets
	}
}
