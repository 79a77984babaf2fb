package domain

import "testing"

func TestRoleGatedTransitions(t *testing.T) {
	cases := []struct {
		name string
		role Role
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{"sales validates pending", RoleSalesSupport, OrderStatusPending, OrderStatusValidated, true},
		{"sales cannot process", RoleSalesSupport, OrderStatusConfirmed, OrderStatusProcessing, false},
		{"operations processes confirmed", RoleOperations, OrderStatusConfirmed, OrderStatusProcessing, true},
		{"operations cannot validate", RoleOperations, OrderStatusPending, OrderStatusValidated, false},
		{"nobody skips to shipped", RoleAdmin, OrderStatusPending, OrderStatusShipped, false},
		{"customer cannot transition", RoleCustomer, OrderStatusPending, OrderStatusValidated, false},
		{"manager unions both tables", RoleManager, OrderStatusConfirmed, OrderStatusProcessing, true},
		{"manager cancels confirmed", RoleManager, OrderStatusConfirmed, OrderStatusCancelled, true},
		{"sales decides returns", RoleSalesSupport, OrderStatusReturnRequested, OrderStatusReturnRejected, true},
		{"operations completes returns", RoleOperations, OrderStatusReturnProcessing, OrderStatusReturnCompleted, true},
		{"no role reaches deleted", RoleAdmin, OrderStatusAwaitingPayment, OrderStatusDeleted, false},
		{"no backward moves", RoleOperations, OrderStatusShipped, OrderStatusProcessing, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanTransition(tc.role, tc.from, tc.to); got != tc.want {
				t.Fatalf("CanTransition(%s, %s, %s) = %v, want %v", tc.role, tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestParseRoleDefaultsToCustomer(t *testing.T) {
	if got := ParseRole(" Operations "); got != RoleOperations {
		t.Fatalf("ParseRole trims and lowercases, got %s", got)
	}
	if got := ParseRole("superuser"); got != RoleCustomer {
		t.Fatalf("unknown role must map to customer, got %s", got)
	}
}

func TestStaffRoles(t *testing.T) {
	if RoleCustomer.Staff() {
		t.Fatal("customer is not staff")
	}
	for _, role := range []Role{RoleSalesSupport, RoleOperations, RoleManager, RoleAdmin} {
		if !role.Staff() {
			t.Fatalf("%s should be staff", role)
		}
	}
}
