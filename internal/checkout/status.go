package checkout

type Status string

const (
	StatusAwaitingAgeVerification Status = "AWAITING_AGE_VERIFICATION"
	StatusComputingTotals         Status = "COMPUTING_TOTALS"
	StatusAwaitingPaymentToken    Status = "AWAITING_PAYMENT_TOKEN"
	StatusSubmittingOrder         Status = "SUBMITTING_ORDER"
	StatusOrderSucceeded          Status = "ORDER_SUCCEEDED"
	StatusOrderFailed             Status = "ORDER_FAILED"
)

var transitions = map[Status][]Status{
	StatusAwaitingAgeVerification: {StatusComputingTotals},
	StatusComputingTotals:         {StatusAwaitingPaymentToken},
	// a failed or cancelled token request returns to the form
	StatusAwaitingPaymentToken: {StatusSubmittingOrder, StatusComputingTotals},
	StatusSubmittingOrder:      {StatusOrderSucceeded, StatusOrderFailed},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusOrderSucceeded || s == StatusOrderFailed
}

// String representation (for logging)
func (s Status) String() string {
	return string(s)
}
