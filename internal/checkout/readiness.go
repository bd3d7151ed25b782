package checkout

import (
	"regexp"
	"strings"

	"github.com/fjod/go_storefront/domain"
)

const minAddressLength = 5

var (
	nameRe  = regexp.MustCompile(`^[\p{L}][\p{L} .'-]+$`)
	phoneRe = regexp.MustCompile(`^(0|\+84)[0-9]{9}$`)
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// ValidateReadiness checks that checkout can proceed: an authenticated
// user, a complete shipping profile passing the field rules, and a valid
// payment method. A nil result means ready.
func ValidateReadiness(userID int64, shipping *domain.ShippingInfo, method domain.PaymentMethod) []FieldError {
	var reasons []FieldError

	if userID <= 0 {
		reasons = append(reasons, FieldError{Field: "user", Message: "authentication required"})
	}

	if shipping == nil {
		reasons = append(reasons, FieldError{Field: "shipping", Message: "shipping information is required"})
	} else {
		if name := strings.TrimSpace(shipping.FullName); name == "" {
			reasons = append(reasons, FieldError{Field: "full_name", Message: "full name is required"})
		} else if !nameRe.MatchString(name) {
			reasons = append(reasons, FieldError{Field: "full_name", Message: "full name contains invalid characters"})
		}

		if shipping.Email == "" {
			reasons = append(reasons, FieldError{Field: "email", Message: "email is required"})
		} else if !emailRe.MatchString(shipping.Email) {
			reasons = append(reasons, FieldError{Field: "email", Message: "email is not valid"})
		}

		if shipping.Phone == "" {
			reasons = append(reasons, FieldError{Field: "phone", Message: "phone is required"})
		} else if !phoneRe.MatchString(shipping.Phone) {
			reasons = append(reasons, FieldError{Field: "phone", Message: "phone number is not valid"})
		}

		if len(strings.TrimSpace(shipping.Address)) < minAddressLength {
			reasons = append(reasons, FieldError{Field: "address", Message: "address is too short"})
		}
		if strings.TrimSpace(shipping.City) == "" {
			reasons = append(reasons, FieldError{Field: "city", Message: "city is required"})
		}
		if strings.TrimSpace(shipping.District) == "" {
			reasons = append(reasons, FieldError{Field: "district", Message: "district is required"})
		}
		if strings.TrimSpace(shipping.Ward) == "" {
			reasons = append(reasons, FieldError{Field: "ward", Message: "ward is required"})
		}
	}

	if !method.Valid() {
		reasons = append(reasons, FieldError{Field: "payment_method", Message: "a payment method must be selected"})
	}

	return reasons
}
