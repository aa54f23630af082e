package eventbus

import "fmt"

// Topic names are hierarchical: {event}:{scope}. Per-bot topics let a UI
// subscribe to a single bot's feed without filtering an org-wide stream.

const (
	prefixTrade          = "trade_executed"
	prefixPosition       = "position_updated"
	prefixBotStatus      = "bot_status_changed"
	prefixMarketStatus   = "market_status_changed"
	prefixReconciliation = "reconciliation_alert"
	prefixPrice          = "price_update"
)

// TradeTopic returns the topic carrying trade_executed events for one bot.
func TradeTopic(botID string) string { return fmt.Sprintf("%s:%s", prefixTrade, botID) }

// PositionTopic returns the topic carrying position_updated events for one bot.
func PositionTopic(botID string) string { return fmt.Sprintf("%s:%s", prefixPosition, botID) }

// BotStatusTopic returns the topic carrying bot_status_changed events for one bot.
func BotStatusTopic(botID string) string { return fmt.Sprintf("%s:%s", prefixBotStatus, botID) }

// MarketStatusTopic is global: market open/closed applies to every bot.
func MarketStatusTopic() string { return prefixMarketStatus }

// ReconciliationTopic returns the topic carrying reconciliation_alert events
// for one user.
func ReconciliationTopic(userID string) string {
	return fmt.Sprintf("%s:%s", prefixReconciliation, userID)
}

// PriceTopic returns the topic carrying price_update events for one symbol.
func PriceTopic(symbol string) string { return fmt.Sprintf("%s:%s", prefixPrice, symbol) }
