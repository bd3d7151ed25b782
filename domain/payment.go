package domain

// PaymentMethod is the closed set of supported payment methods.
// New methods must be added here and handled in every switch below,
// so adding one is a compile-time visible change.
type PaymentMethod string

const (
	PaymentMethodCOD   PaymentMethod = "COD"
	PaymentMethodVNPay PaymentMethod = "VNPAY"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodVNPay:
		return true
	}
	return false
}

// RequiresRedirect reports whether paying with this method hands control
// to an external gateway via browser navigation.
func (m PaymentMethod) RequiresRedirect() bool {
	switch m {
	case PaymentMethodCOD:
		return false
	case PaymentMethodVNPay:
		return true
	}
	return false
}

// Label is the display name, not used by the orchestration logic.
func (m PaymentMethod) Label() string {
	switch m {
	case PaymentMethodCOD:
		return "Cash on delivery"
	case PaymentMethodVNPay:
		return "VNPay"
	}
	return string(m)
}
