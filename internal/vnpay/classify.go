package vnpay

// Outcome classifies a gateway response code.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeKnownFailure
	OutcomeUnknownFailure
)

const successCode = "00"

// genericFailureMessage covers every code outside the table. Classification
// never fails; an unrecognized code is still a decline.
const genericFailureMessage = "Payment failed. Please try again or choose another payment method."

// failureMessages maps the vendor's two-digit response codes to the
// user-facing decline reasons.
var failureMessages = map[string]string{
	"07": "The transaction is suspected of fraud and was rejected.",
	"09": "Your card or account is not registered for Internet Banking.",
	"10": "Card or account information was entered incorrectly more than 3 times.",
	"11": "The payment session expired. Please try again.",
	"12": "Your card or account is locked.",
	"13": "Incorrect OTP entered. The transaction was rejected.",
	"24": "You cancelled the transaction.",
	"51": "Your account has insufficient funds for this transaction.",
	"65": "Your account has exceeded its daily transaction limit.",
	"75": "The issuing bank is under maintenance. Please try again later.",
	"79": "Incorrect payment password entered too many times.",
	"99": "An unknown error occurred at the payment gateway.",
}

// Classification is the result of mapping a response code.
type Classification struct {
	Outcome Outcome
	Message string
}

// Classify maps a vendor response code to an outcome. "00" is the only
// success code; table misses fall back to the generic decline message.
func Classify(responseCode string) Classification {
	if responseCode == successCode {
		return Classification{Outcome: OutcomeSuccess}
	}
	if msg, ok := failureMessages[responseCode]; ok {
		return Classification{Outcome: OutcomeKnownFailure, Message: msg}
	}
	return Classification{Outcome: OutcomeUnknownFailure, Message: genericFailureMessage}
}
