package realtime

import (
	"encoding/json"
	"time"
)

// EventName identifies an event in the closed taxonomy. Consumers dispatch
// purely on this name.
type EventName string

// Order lifecycle events
const (
	EventOrderNew                  EventName = "order:new"
	EventOrderUpdate               EventName = "order:update"
	EventOrderStatusChange         EventName = "order:status-change"
	EventOrderReady                EventName = "order:ready"
	EventOrderDelivered            EventName = "order:delivered"
	EventOrderCancelled            EventName = "order:cancelled"
	EventOrderCancellationRequest  EventName = "order:cancellation-request"
	EventOrderCancellationRejected EventName = "order:cancellation-rejected"
)

// Notification events
const (
	EventNotificationNew      EventName = "notification:new"
	EventNotificationReminder EventName = "notification:reminder"
)

// Connection/meta events
const (
	EventConnectionStatus EventName = "connection:status"
	EventConnectionError  EventName = "connection:error"
	EventUserPresence     EventName = "user:presence"
	EventHeartbeat        EventName = "system:heartbeat"
)

// Financial events
const (
	EventDebtCreated           EventName = "debt:created"
	EventDebtPaid              EventName = "debt:paid"
	EventBatchPaymentCompleted EventName = "batch:payment:completed"
)

// Table events
const (
	EventTableUpdated EventName = "table:updated"
)

// eventChannels maps each event name to the channel it travels on. Events
// not listed here resolve to no channel and are dropped unless targeted at a
// user or broadcast.
var eventChannels = map[EventName]Channel{
	EventOrderNew:                  ChannelOrders,
	EventOrderUpdate:               ChannelOrders,
	EventOrderStatusChange:         ChannelOrders,
	EventOrderReady:                ChannelOrders,
	EventOrderDelivered:            ChannelOrders,
	EventOrderCancelled:            ChannelOrders,
	EventOrderCancellationRequest:  ChannelOrders,
	EventOrderCancellationRejected: ChannelOrders,

	EventNotificationNew:      ChannelNotifications,
	EventNotificationReminder: ChannelNotifications,

	EventConnectionStatus: ChannelSystem,
	EventConnectionError:  ChannelSystem,
	EventUserPresence:     ChannelSystem,

	EventDebtCreated:           ChannelCashier,
	EventDebtPaid:              ChannelCashier,
	EventBatchPaymentCompleted: ChannelCashier,

	EventTableUpdated: ChannelWaiter,
}

// criticalEvents are re-emitted on a fixed delay ladder after the initial
// emit, so consumers reconnecting inside that window still see them.
// Duplicate delivery is expected; handlers must be idempotent.
var criticalEvents = map[EventName]bool{
	EventDebtCreated:           true,
	EventBatchPaymentCompleted: true,
}

// ChannelForEvent resolves the channel an event is published on.
func ChannelForEvent(name EventName) (Channel, bool) {
	ch, ok := eventChannels[name]
	return ch, ok
}

// IsCritical reports whether an event belongs to the redelivery class.
func IsCritical(name EventName) bool {
	return criticalEvents[name]
}

// Envelope is the wire format for dispatched events.
type Envelope struct {
	EventName EventName       `json:"eventName"`
	Payload   json.RawMessage `json:"payload"`
}

// HeartbeatFrame is the periodic liveness message.
type HeartbeatFrame struct {
	Type      EventName `json:"type"`
	Timestamp int64     `json:"timestamp"` // epoch milliseconds
}

// NewHeartbeatFrame builds a heartbeat for the current instant.
func NewHeartbeatFrame(now time.Time) HeartbeatFrame {
	return HeartbeatFrame{Type: EventHeartbeat, Timestamp: now.UnixMilli()}
}

// ConnectionStatusFrame is the first message written on a new connection and
// the shape the client engine exposes to its UI.
type ConnectionStatusFrame struct {
	Type              EventName `json:"type"`
	Status            string    `json:"status"`
	Quality           string    `json:"quality"`
	LatencyMS         int64     `json:"latency"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
}

// Typed payloads per event name. The wire format stays name + JSON payload;
// these give producers a compile-checked shape per variant.

// OrderPayload accompanies order lifecycle events.
type OrderPayload struct {
	OrderID  string `json:"orderId"`
	TableID  string `json:"tableId,omitempty"`
	Status   string `json:"status,omitempty"`
	WaiterID string `json:"waiterId,omitempty"`
	Station  string `json:"station,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// NotificationPayload accompanies notification events.
type NotificationPayload struct {
	Title   string `json:"title"`
	Body    string `json:"body,omitempty"`
	Level   string `json:"level,omitempty"`
	OrderID string `json:"orderId,omitempty"`
}

// DebtPayload accompanies financial events.
type DebtPayload struct {
	DebtID     string `json:"debtId"`
	OrderID    string `json:"orderId,omitempty"`
	CustomerID string `json:"customerId,omitempty"`
	Amount     string `json:"amount"`
}

// BatchPaymentPayload accompanies batch:payment:completed.
type BatchPaymentPayload struct {
	BatchID  string `json:"batchId"`
	Payments int    `json:"payments"`
	Total    string `json:"total"`
}

// TablePayload accompanies table:updated.
type TablePayload struct {
	TableID  string `json:"tableId"`
	Status   string `json:"status"`
	WaiterID string `json:"waiterId,omitempty"`
	OrderID  string `json:"orderId,omitempty"`
}

// PresencePayload accompanies user:presence.
type PresencePayload struct {
	UserID  string `json:"userId"`
	Station string `json:"station,omitempty"`
	Online  bool   `json:"online"`
}
