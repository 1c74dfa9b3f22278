package domain

import (
	"fmt"
	"time"
)

// TradeRecord is one call contract under consideration for a covered call.
// Corresponds to the trade_records / trade_records_archive tables in PostgreSQL.
type TradeRecord struct {
	RecordID string // deterministic hash of the contract key
	RunID    string // screening run that last refreshed the analytics

	// Identity
	Symbol     string
	Expiration time.Time // calendar date, UTC midnight
	Strike     float64
	OptionType OptionType

	// Market snapshot
	ObservationDate time.Time
	Spot            float64
	Bid             float64
	Ask             float64
	Volume          int64
	OpenInterest    int64
	ImpliedVol      float64
	RiskFreeRate    float64

	// Analytics
	Premium          float64 // premium received per share
	DaysToExpiry     int
	Delta            float64
	Gamma            float64
	Theta            float64 // per calendar day
	Vega             float64 // per vol point
	Rho              float64 // per rate point
	TheoreticalPrice float64
	ReturnOnRisk     float64
	AnnualizedReturn float64
	MaxProfit        float64
	MaxLoss          float64
	BreakEven        float64 // spot - premium
	OTMPercent       float64 // (strike - spot) / spot
	ReturnPerDay     float64
	RiskRewardRatio  float64 // max profit / max loss, 0 when max loss is 0

	Status Status

	// Realized outcome, set when labeled
	Outcome *Outcome

	CreatedAt  time.Time
	UpdatedAt  time.Time
	ArchivedAt *time.Time
}

// Outcome is the realized result of a covered call at expiration.
type Outcome struct {
	Label                Status // StatusWin or StatusLoss, kept after archival
	ClosingPrice         float64
	ClosingDate          time.Time // trading day the close was taken from
	RealizedPnL          float64   // per share
	RealizedReturn       float64   // realized P/L / spot
	RealizedAnnualReturn float64
	Assigned             bool // close > strike, shares called away
	HighQuality          bool
	Policy               string
	LabeledAt            time.Time
}

// Key returns the unique contract identity of the record.
func (t *TradeRecord) Key() ContractKey {
	return ContractKey{
		Symbol:     t.Symbol,
		Expiration: Date(t.Expiration),
		Strike:     t.Strike,
		Type:       t.OptionType,
	}
}

// TimeToExpiryYears is the ACT/365 year fraction between observation and expiration.
func (t *TradeRecord) TimeToExpiryYears() float64 {
	return YearFraction(DaysBetween(t.ObservationDate, t.Expiration))
}

// Greeks returns the stored pricing analytics.
func (t *TradeRecord) Greeks() Greeks {
	return Greeks{
		Delta:            t.Delta,
		Gamma:            t.Gamma,
		Theta:            t.Theta,
		Vega:             t.Vega,
		Rho:              t.Rho,
		TheoreticalPrice: t.TheoreticalPrice,
	}
}

// Validate checks identity fields and that the observation date precedes expiration.
func (t *TradeRecord) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("empty symbol: %w", ErrInvalidInput)
	}
	if t.Strike <= 0 {
		return fmt.Errorf("strike %v: %w", t.Strike, ErrInvalidInput)
	}
	if t.OptionType != OptionTypeCall && t.OptionType != OptionTypePut {
		return fmt.Errorf("option type %q: %w", t.OptionType, ErrInvalidInput)
	}
	if !Date(t.ObservationDate).Before(Date(t.Expiration)) {
		return fmt.Errorf("observation %s not before expiration %s: %w",
			t.ObservationDate.Format(DateLayout), t.Expiration.Format(DateLayout), ErrInvalidInput)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("status %q: %w", t.Status, ErrInvalidInput)
	}
	return nil
}

// Clone returns a deep copy.
func (t *TradeRecord) Clone() *TradeRecord {
	if t == nil {
		return nil
	}
	c := *t
	if t.Outcome != nil {
		o := *t.Outcome
		c.Outcome = &o
	}
	if t.ArchivedAt != nil {
		a := *t.ArchivedAt
		c.ArchivedAt = &a
	}
	return &c
}

// RefreshFrom copies market snapshot and analytics from a newer screening of the same key.
// Status only moves forward. Terminal and archived records are left untouched.
func (t *TradeRecord) RefreshFrom(newer *TradeRecord) {
	if t.Status.IsTerminal() || t.Status == StatusArchived {
		return
	}
	status := t.Status.Max(newer.Status)
	created := t.CreatedAt
	id := t.RecordID

	*t = *newer.Clone()
	t.RecordID = id
	t.Status = status
	t.CreatedAt = created
	t.Outcome = nil
	t.ArchivedAt = nil
}
