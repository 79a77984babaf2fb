package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrVariantUnavailable indicates a requested variant or its product is inactive.
	ErrVariantUnavailable = errors.New("allocation: variant not available")
	// ErrInsufficientQuantity indicates a line requests more than stock plus pre-order.
	ErrInsufficientQuantity = errors.New("allocation: insufficient quantity")
	// ErrInvalidQuantity indicates a non-positive requested quantity.
	ErrInvalidQuantity = errors.New("allocation: quantity must be positive")
)

// AllocationLine pairs a requested quantity with the variant state read
// inside the same transaction that will apply the decrement.
type AllocationLine struct {
	Variant  Variant
	Quantity int
}

// Allocation records how one line's quantity is split across stock pools.
type Allocation struct {
	VariantID    string
	FromStock    int
	FromPreOrder int
}

// AllocationPlan is the all-or-nothing outcome of planning every line.
type AllocationPlan struct {
	Lines        []Allocation
	UsedPreOrder bool
}

// PlanAllocation decides, per line, how much draws from on-hand stock and how
// much from pre-order stock. Stock is consumed first. Any line failure aborts
// the whole plan so callers never commit a partial allocation.
func PlanAllocation(lines []AllocationLine) (AllocationPlan, error) {
	plan := AllocationPlan{Lines: make([]Allocation, 0, len(lines))}

	for _, line := range lines {
		if line.Quantity <= 0 {
			return AllocationPlan{}, fmt.Errorf("%w: variant %s", ErrInvalidQuantity, line.Variant.ID)
		}
		if !line.Variant.Active() {
			return AllocationPlan{}, fmt.Errorf("%w: variant %s", ErrVariantUnavailable, line.Variant.ID)
		}
		available := line.Variant.StockQuantity + line.Variant.PreOrderQuantity
		if line.Quantity > available {
			return AllocationPlan{}, fmt.Errorf("%w: variant %s has %d available, %d requested",
				ErrInsufficientQuantity, line.Variant.ID, available, line.Quantity)
		}

		fromStock := line.Quantity
		if fromStock > line.Variant.StockQuantity {
			fromStock = line.Variant.StockQuantity
		}
		fromPreOrder := line.Quantity - fromStock
		if fromPreOrder > 0 {
			plan.UsedPreOrder = true
		}

		plan.Lines = append(plan.Lines, Allocation{
			VariantID:    line.Variant.ID,
			FromStock:    fromStock,
			FromPreOrder: fromPreOrder,
		})
	}

	return plan, nil
}

// DeriveOrderType classifies an order from its allocation and cart mix.
// PRESCRIPTION takes precedence over PRE_ORDER; the result is informational
// metadata and never gates later logic.
func DeriveOrderType(plan AllocationPlan, hasFrame, hasRxLens, hasPrescription bool) OrderType {
	if hasFrame && hasRxLens && hasPrescription {
		return OrderTypePrescription
	}
	if plan.UsedPreOrder {
		return OrderTypePreOrder
	}
	return OrderTypeAvailable
}
