package enums

import "fmt"

// LedgerOutcome records how an admitted external event was ultimately handled.
type LedgerOutcome string

const (
	LedgerOutcomeApplied        LedgerOutcome = "applied"
	LedgerOutcomeRejected       LedgerOutcome = "rejected"
	LedgerOutcomeUnknownPayment LedgerOutcome = "unknown_payment"
)

var validLedgerOutcomes = []LedgerOutcome{
	LedgerOutcomeApplied,
	LedgerOutcomeRejected,
	LedgerOutcomeUnknownPayment,
}

// String implements fmt.Stringer.
func (l LedgerOutcome) String() string {
	return string(l)
}

// IsValid reports whether the value is a known ledger outcome.
func (l LedgerOutcome) IsValid() bool {
	for _, candidate := range validLedgerOutcomes {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLedgerOutcome converts raw input into a LedgerOutcome.
func ParseLedgerOutcome(value string) (LedgerOutcome, error) {
	for _, candidate := range validLedgerOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger outcome %q", value)
}
