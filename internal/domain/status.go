package domain

import (
	"fmt"
	"strings"
)

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusPaid      PaymentStatus = "paid"
	StatusCancelled PaymentStatus = "cancelled"
)

// transitions lists every legal status change. Same-status requests are
// handled by the caller as no-ops and are not listed here.
var transitions = map[PaymentStatus][]PaymentStatus{
	StatusPending:   {StatusPaid, StatusCancelled},
	StatusPaid:      {StatusCancelled},
	StatusCancelled: nil,
}

func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	status := PaymentStatus(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := transitions[status]; !ok {
		return "", fmt.Errorf("unknown payment status %q", raw)
	}
	return status, nil
}

func (s PaymentStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func CanTransition(from PaymentStatus, to PaymentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
