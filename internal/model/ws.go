package model

// WebSocket event types
const (
	WSTypeSessionUpdate = "session_update"
	WSTypeOrderExecuted = "order_executed"
)

// WSMessage is the envelope pushed to connected clients
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WSSessionUpdatePayload notifies a session status transition
type WSSessionUpdatePayload struct {
	SessionID        string `json:"session_id"`
	Pair             string `json:"pair"`
	Status           string `json:"status"`
	SuccessfulOrders int64  `json:"successful_orders"`
	FailedOrders     int64  `json:"failed_orders"`
	Error            string `json:"error,omitempty"`
}

// WSOrderExecutedPayload notifies a terminal order outcome
type WSOrderExecutedPayload struct {
	SessionID string `json:"session_id"`
	OrderID   string `json:"order_id"`
	Pair      string `json:"pair"`
	Action    string `json:"action"`
	Status    string `json:"status"`
}
