package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Period is an accounting period (exercice) as reported by the period
// collaborator. Totals are the assistance and recurring-event payouts made
// during the period.
type Period struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Current             bool            `json:"current"`
	AssistanceTotal     decimal.Decimal `json:"assistance_total"`
	RecurringEventTotal decimal.Decimal `json:"recurring_event_total"`
	LatestSessionID     string          `json:"latest_session_id,omitempty"`
}

// PayoutTotal is the amount the renfoulement levy must recover.
func (p *Period) PayoutTotal() decimal.Decimal {
	return p.AssistanceTotal.Add(p.RecurringEventTotal)
}

// Assessment records a renfoulement levy computed for one period.
type Assessment struct {
	ID                      string          `json:"id"`
	PeriodID                string          `json:"period_id"`
	TotalToDistribute       decimal.Decimal `json:"total_to_distribute"`
	BaseMembersCount        int             `json:"base_members_count"`
	UnitAmount              decimal.Decimal `json:"unit_amount"`
	DistributedMembersCount int             `json:"distributed_members_count"`
	ExpectedTotal           decimal.Decimal `json:"expected_total"`
	Applied                 bool            `json:"applied"`
	SkipReason              string          `json:"skip_reason,omitempty"`
	CreatedAt               time.Time       `json:"created_at"`
}

// RenfoulementHistory lists the levies applied so far, oldest first, and
// what the open period would levy if assessed now. Current is nil when no
// period is open, the open period is already assessed, or no member is
// compliant yet.
type RenfoulementHistory struct {
	Assessments []Assessment `json:"assessments"`
	Current     *Assessment  `json:"current,omitempty"`
}

// Reasons an assessment is computed but not applied.
const (
	SkipNothingToRecover = "no payouts to recover"
	SkipUnitBelowMinimum = "per-member levy rounds to zero"
	SkipSimulation       = "simulation"
)
