package refund

import (
	"fmt"
	"time"

	"payment-svc/models"
)

// Policy holds the cancellation refund thresholds. Defaults match the
// platform's published policy; they are configurable but treated as business
// constants, not tunables.
type Policy struct {
	FullWindowHours float64 `mapstructure:"full_window_hours"`
	EarlyPercent    int     `mapstructure:"early_percent"`
	LatePercent     int     `mapstructure:"late_percent"`
}

func DefaultPolicy() Policy {
	return Policy{
		FullWindowHours: 24,
		EarlyPercent:    90,
		LatePercent:     60,
	}
}

// Calculate computes the refund owed when a session charged at amountCents,
// scheduled for sessionAt, is cancelled at cancelAt. Pure function, no side
// effects; callers persist the outcome if they choose.
//
// Boundaries favor the customer: exactly FullWindowHours before the session
// earns the early percentage, and cancelling at the exact session start still
// earns the late percentage. Only cancelling after the start earns nothing.
func (p Policy) Calculate(sessionAt time.Time, amountCents int64, cancelAt time.Time) models.RefundDecision {
	hours := sessionAt.Sub(cancelAt).Hours()

	var pct int
	switch {
	case hours >= p.FullWindowHours:
		pct = p.EarlyPercent
	case hours >= 0:
		pct = p.LatePercent
	default:
		pct = 0
	}

	displayHours := hours
	if displayHours < 0 {
		displayHours = 0
	}

	// Zero or negative charges are degenerate but not exceptional.
	if amountCents <= 0 {
		return models.RefundDecision{
			OriginalAmountCents: amountCents,
			RefundPercentage:    pct,
			HoursBeforeSession:  displayHours,
		}
	}

	refund := (amountCents*int64(pct) + 50) / 100

	return models.RefundDecision{
		OriginalAmountCents: amountCents,
		RefundAmountCents:   refund,
		RefundPercentage:    pct,
		HoursBeforeSession:  displayHours,
		Eligible:            refund > 0,
	}
}

// Describe renders the policy for API responses.
func (p Policy) Describe() models.RefundPolicyInfo {
	return models.RefundPolicyInfo{
		FullRefund:    fmt.Sprintf("Cancel %.0f+ hours before the session: %d%% refund", p.FullWindowHours, p.EarlyPercent),
		PartialRefund: fmt.Sprintf("Cancel less than %.0f hours before the session: %d%% refund", p.FullWindowHours, p.LatePercent),
		NoRefund:      "Cancel after the session has started: no refund",
	}
}
