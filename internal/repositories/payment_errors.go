package repositories

import "fmt"

// PaymentErrorCode enumerates repository error causes for payment operations.
type PaymentErrorCode string

const (
	// PaymentErrorUnknown represents an unspecified failure.
	PaymentErrorUnknown PaymentErrorCode = "payment_unknown"
	// PaymentErrorTransactionNotFound indicates no transaction exists for the request id.
	PaymentErrorTransactionNotFound PaymentErrorCode = "payment_transaction_not_found"
	// PaymentErrorDuplicateTransaction indicates the request id is already taken.
	PaymentErrorDuplicateTransaction PaymentErrorCode = "payment_duplicate_transaction"
	// PaymentErrorInvalidState indicates the transaction status forbids the operation.
	PaymentErrorInvalidState PaymentErrorCode = "payment_invalid_state"
)

// PaymentError wraps payment-specific failures with machine readable codes.
type PaymentError struct {
	Op      string
	Code    PaymentErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *PaymentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewPaymentError constructs a typed payment error.
func NewPaymentError(code PaymentErrorCode, message string, err error) *PaymentError {
	if message == "" {
		message = string(code)
	}
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
