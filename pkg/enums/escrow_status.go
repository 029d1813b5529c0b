package enums

import "fmt"

// EscrowStatus tracks one seller's share of a payment.
type EscrowStatus string

const (
	EscrowStatusPending  EscrowStatus = "PENDING"
	EscrowStatusHold     EscrowStatus = "HOLD"
	EscrowStatusReleased EscrowStatus = "RELEASED"
	EscrowStatusFailed   EscrowStatus = "FAILED"
)

var validEscrowStatuses = []EscrowStatus{
	EscrowStatusPending,
	EscrowStatusHold,
	EscrowStatusReleased,
	EscrowStatusFailed,
}

func (s EscrowStatus) String() string {
	return string(s)
}

func (s EscrowStatus) IsValid() bool {
	for _, candidate := range validEscrowStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseEscrowStatus(value string) (EscrowStatus, error) {
	for _, candidate := range validEscrowStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid escrow status %q", value)
}
