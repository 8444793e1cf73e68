package policy

import (
	"fmt"

	"barpos/pkg/models"
)

// Action names a business operation a principal may attempt.
type Action string

const (
	ActionOrderCreate       Action = "order:create"
	ActionOrderUpdate       Action = "order:update"
	ActionOrderSetStatus    Action = "order:set-status"
	ActionOrderCancel       Action = "order:cancel"
	ActionPaymentCreate     Action = "payment:create"
	ActionDebtSettle        Action = "debt:settle"
	ActionTableUpdate       Action = "table:update"
	ActionProductWrite      Action = "product:write"
	ActionStatsRead         Action = "stats:read"
	ActionNotificationSend  Action = "notification:send"
	ActionCancellationReply Action = "order:cancellation-reply"
)

// Checker decides whether a role may perform an action.
type Checker interface {
	Allow(role string, action Action) bool
}

// roleActions is the allow table. Roles not listed get nothing; the
// supervisor gets everything.
var roleActions = map[string]map[Action]bool{
	"waiter": {
		ActionOrderCreate:      true,
		ActionOrderUpdate:      true,
		ActionOrderSetStatus:   true,
		ActionOrderCancel:      true,
		ActionTableUpdate:      true,
		ActionNotificationSend: true,
	},
	"kitchen": {
		ActionOrderSetStatus:    true,
		ActionCancellationReply: true,
		ActionNotificationSend:  true,
	},
	"bar": {
		ActionOrderSetStatus:    true,
		ActionCancellationReply: true,
		ActionNotificationSend:  true,
	},
	"cashier": {
		ActionPaymentCreate:    true,
		ActionDebtSettle:       true,
		ActionOrderSetStatus:   true,
		ActionNotificationSend: true,
	},
}

// RoleTable is the static role-based Checker.
type RoleTable struct{}

// NewRoleTable returns the default checker.
func NewRoleTable() *RoleTable {
	return &RoleTable{}
}

// Allow implements Checker.
func (t *RoleTable) Allow(role string, action Action) bool {
	if role == "supervisor" {
		return true
	}
	return roleActions[role][action]
}

// orderTransitions is the legal status graph. Cancellation requests may be
// raised from any pre-delivery status; rejection returns the order to the
// status it held before, which callers must supply.
var orderTransitions = map[string][]string{
	models.OrderStatusPlaced:    {models.OrderStatusPreparing, models.OrderStatusCancellationRequested, models.OrderStatusCancelled},
	models.OrderStatusPreparing: {models.OrderStatusReady, models.OrderStatusCancellationRequested},
	models.OrderStatusReady:     {models.OrderStatusDelivered, models.OrderStatusCancellationRequested},
	models.OrderStatusCancellationRequested: {
		models.OrderStatusCancelled,
		models.OrderStatusPlaced, models.OrderStatusPreparing, models.OrderStatusReady,
	},
	models.OrderStatusDelivered: {},
	models.OrderStatusCancelled: {},
}

// ValidTransition reports whether an order may move between two statuses.
func ValidTransition(from, to string) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition wraps ValidTransition with a descriptive error.
func CheckTransition(from, to string) error {
	if !ValidTransition(from, to) {
		return fmt.Errorf("illegal order transition %s -> %s", from, to)
	}
	return nil
}
