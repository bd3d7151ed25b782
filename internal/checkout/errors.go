package checkout

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyCart      = errors.New("cart is empty, nothing to check out")
	ErrNoPendingOrder = errors.New("no pending order")
)

// FieldError is a single readiness failure, addressed to a form field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NotReadyError reports why checkout cannot proceed. It is handled and
// displayed locally; a request that produces it never reaches the order
// service or the gateway.
type NotReadyError struct {
	Reasons []FieldError
}

func (e *NotReadyError) Error() string {
	parts := make([]string, 0, len(e.Reasons))
	for _, r := range e.Reasons {
		parts = append(parts, fmt.Sprintf("%s: %s", r.Field, r.Message))
	}
	return "checkout not ready: " + strings.Join(parts, "; ")
}
