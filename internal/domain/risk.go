package domain

import "time"

// RiskRegime is the per-symbol trading regime resolved by the risk state
// machine. RISK_ON permits new entries and core builds; RISK_OFF forbids
// them and triggers a core unwind; NEUTRAL is the initial regime before any
// evaluation has recorded a state.
type RiskRegime string

const (
	RegimeRiskOn  RiskRegime = "RISK_ON"
	RegimeRiskOff RiskRegime = "RISK_OFF"
	RegimeNeutral RiskRegime = "NEUTRAL"
)

// RiskState is one append-only record of a regime resolution. The current
// regime for a symbol is always the most recent record; rows are never
// updated or deleted.
type RiskState struct {
	ID         int64
	Symbol     string
	Regime     RiskRegime
	Reason     string
	WeeklyRSI  *float64
	DailyRSI   *float64
	CurrentRSI *float64
	RecordedAt time.Time
}

// RiskReadings are the externally supplied inputs to one regime evaluation.
// A nil field means the reading could not be obtained; the state machine
// fails safe to RISK_OFF when any required reading is missing.
type RiskReadings struct {
	WeeklyRSI    *float64
	DailyRSI     *float64
	CurrentRSI   *float64
	CurrentPrice *float64
	YearHigh     *float64
	AllTimeHigh  *float64
}

// Complete reports whether every reading the state machine requires is
// present.
func (r RiskReadings) Complete() bool {
	return r.WeeklyRSI != nil && r.DailyRSI != nil &&
		r.CurrentPrice != nil && r.YearHigh != nil && r.AllTimeHigh != nil
}

// MilestoneKind names a price milestone emitted by the risk state machine.
type MilestoneKind string

const (
	Milestone52WeekHigh  MilestoneKind = "52_WEEK_HIGH"
	MilestoneAllTimeHigh MilestoneKind = "ALL_TIME_HIGH"
)

// PriceMilestone records that a symbol traded at or above a tracked high.
// Milestones fire on every evaluation that observes the condition,
// independent of whether the resolved regime changed.
type PriceMilestone struct {
	ID         int64
	Symbol     string
	Kind       MilestoneKind
	Price      float64
	RecordedAt time.Time
}
