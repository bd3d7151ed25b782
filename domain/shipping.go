package domain

// ShippingInfo is the delivery profile captured at checkout time.
// All fields except Notes are mandatory for checkout readiness.
type ShippingInfo struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	City     string `json:"city"`
	District string `json:"district"`
	Ward     string `json:"ward"`
	Notes    string `json:"notes,omitempty"`
}
