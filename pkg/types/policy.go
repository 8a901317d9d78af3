package types

import "time"

// TradingPolicy is the configuration object under which a delegated key is
// allowed to act. The custody core never evaluates these rules; it only
// guards their integrity between approval time and use time. Any
// JSON-serializable object can be committed; this is the shape the service
// ships with.
type TradingPolicy struct {
	Version        int       `json:"version"`
	MaxOrderValue  string    `json:"max_order_value"`
	MaxDailyValue  string    `json:"max_daily_value"`
	MaxOpenOrders  int       `json:"max_open_orders"`
	AllowedMarkets []string  `json:"allowed_markets"`
	AllowShort     bool      `json:"allow_short"`
	ApprovedAt     time.Time `json:"approved_at"`
}
