package domain

import "strings"

// Role is the closed set of actors allowed to drive order transitions.
type Role string

const (
	// RoleCustomer is the purchasing end user.
	RoleCustomer Role = "customer"
	// RoleSalesSupport validates orders and decides return requests.
	RoleSalesSupport Role = "sales_support"
	// RoleOperations runs fulfillment and return processing.
	RoleOperations Role = "operations"
	// RoleManager may perform any staff transition.
	RoleManager Role = "manager"
	// RoleAdmin may perform any staff transition.
	RoleAdmin Role = "admin"
)

// ParseRole maps a claim string onto the closed role set. Unknown strings
// resolve to RoleCustomer, the least privileged role.
func ParseRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleSalesSupport:
		return RoleSalesSupport
	case RoleOperations:
		return RoleOperations
	case RoleManager:
		return RoleManager
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleCustomer
	}
}

// Staff reports whether the role belongs to shop staff.
func (r Role) Staff() bool {
	switch r {
	case RoleSalesSupport, RoleOperations, RoleManager, RoleAdmin:
		return true
	default:
		return false
	}
}

// salesSupportTransitions whitelists the order moves sales staff may perform.
var salesSupportTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:         {OrderStatusValidated},
	OrderStatusValidated:       {OrderStatusConfirmed},
	OrderStatusConfirmed:       {OrderStatusCancelled},
	OrderStatusShipped:         {OrderStatusCompleted},
	OrderStatusReturnRequested: {OrderStatusReturnApproved, OrderStatusReturnRejected},
}

// operationsTransitions whitelists the order moves operations staff may perform.
var operationsTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusConfirmed:        {OrderStatusProcessing},
	OrderStatusProcessing:       {OrderStatusShipped},
	OrderStatusShipped:          {OrderStatusDelivered},
	OrderStatusDelivered:        {OrderStatusCompleted},
	OrderStatusReturnApproved:   {OrderStatusReturnProcessing},
	OrderStatusReturnProcessing: {OrderStatusReturnCompleted},
}

// AllowedTransitions returns the next states the role may move an order to
// from the given state. Managers and admins union the staff tables.
// AwaitingPayment and Deleted are reachable only via checkout and the expiry
// sweeper, never through this table.
func AllowedTransitions(role Role, from OrderStatus) []OrderStatus {
	switch role {
	case RoleSalesSupport:
		return salesSupportTransitions[from]
	case RoleOperations:
		return operationsTransitions[from]
	case RoleManager, RoleAdmin:
		merged := append([]OrderStatus{}, salesSupportTransitions[from]...)
		for _, next := range operationsTransitions[from] {
			if !containsStatus(merged, next) {
				merged = append(merged, next)
			}
		}
		return merged
	default:
		return nil
	}
}

// CanTransition reports whether the role may move an order from one status to
// another. Anything not explicitly whitelisted is rejected.
func CanTransition(role Role, from, to OrderStatus) bool {
	return containsStatus(AllowedTransitions(role, from), to)
}

func containsStatus(list []OrderStatus, status OrderStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}
