package domain

type MessageType string

// Outbound message types.
const (
	MsgInitialData       MessageType = "initialData"
	MsgMarketData        MessageType = "marketData"
	MsgPositionUpdate    MessageType = "positionUpdate"
	MsgAccountUpdate     MessageType = "accountUpdate"
	MsgStrategySignal    MessageType = "strategySignal"
	MsgOrderUpdate       MessageType = "orderUpdate"
	MsgNewLog            MessageType = "newLog"
	MsgLogsClear         MessageType = "logsClear"
	MsgBotSettingsUpdate MessageType = "botSettingsUpdate"
	MsgAPIKeyUpdate      MessageType = "apiKeyUpdate"
	MsgPositionClosed    MessageType = "positionClosed"
	MsgBotStatus         MessageType = "botStatus"
)

// Inbound message types.
const (
	MsgAuth           MessageType = "auth"
	MsgStartBot       MessageType = "startBot"
	MsgStopBot        MessageType = "stopBot"
	MsgUpdateSettings MessageType = "updateSettings"
	MsgSaveAPIKey     MessageType = "saveApiKey"
	MsgDeleteAPIKey   MessageType = "deleteApiKey"
	MsgClosePosition  MessageType = "closePosition"
	MsgClearLogs      MessageType = "clearLogs"
)

// Message is the tagged union sent to dashboard sessions; Type selects the shape of Data.
type Message struct {
	Type MessageType `json:"type"`
	Data any         `json:"data,omitempty"`
}

type InitialData struct {
	Positions   []*Position         `json:"positions"`
	Trades      []*Trade            `json:"trades"`
	Metrics     *PerformanceMetrics `json:"metrics"`
	Logs        []*SystemLog        `json:"logs"`
	BotSettings *BotSettings        `json:"botSettings"`
	HasAPIKey   bool                `json:"hasApiKey"`
}

type AccountUpdate struct {
	Account   *Account            `json:"account"`
	Positions []*Position         `json:"positions"`
	Metrics   *PerformanceMetrics `json:"metrics"`
}

type OrderUpdate struct {
	Order *OrderResponse `json:"order"`
	Trade *Trade         `json:"trade"`
}

type BotStatus struct {
	IsActive  bool      `json:"isActive"`
	Running   bool      `json:"running"`
	Readiness Readiness `json:"readiness"`
}

type APIKeyUpdate struct {
	HasAPIKey   bool        `json:"hasApiKey"`
	Environment Environment `json:"environment,omitempty"`
}

type PositionClosed struct {
	Symbol string `json:"symbol"`
	Trade  *Trade `json:"trade,omitempty"`
}
