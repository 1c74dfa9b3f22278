package clickhouse

import (
	"context"
	"fmt"
	"time"

	"covered-call-lab/internal/domain"
	"covered-call-lab/internal/storage"
)

const trainingColumns = `run_date, record_id, symbol, expiration, strike, option_type,
	observation_date, spot, premium, volume, open_interest, implied_vol, risk_free_rate, days_to_expiry,
	delta, gamma, theta, vega, rho, return_on_risk, annualized_return, max_profit, max_loss,
	closing_price, closing_date, realized_pnl, realized_return, realized_annual_return,
	assigned, high_quality, label, label_policy, labeled_at`

// TrainingDataStore implements storage.TrainingDataStore using ClickHouse.
// training_data is a ReplacingMergeTree on record_id, read with FINAL.
type TrainingDataStore struct {
	conn *Conn
}

// NewTrainingDataStore creates a new TrainingDataStore.
func NewTrainingDataStore(conn *Conn) *TrainingDataStore {
	return &TrainingDataStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TrainingDataStore = (*TrainingDataStore)(nil)

// WriteLabeled inserts labeled records into the runDate partition.
func (s *TrainingDataStore) WriteLabeled(ctx context.Context, runDate time.Time, records []*domain.TradeRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if r == nil || r.RecordID == "" || r.Outcome == nil {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO training_data (`+trainingColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	runDay := domain.Date(runDate)
	for _, r := range records {
		o := r.Outcome
		err = batch.Append(
			runDay, r.RecordID, r.Symbol, domain.Date(r.Expiration), r.Strike, string(r.OptionType),
			domain.Date(r.ObservationDate), r.Spot, r.Premium, r.Volume, r.OpenInterest, r.ImpliedVol, r.RiskFreeRate, int32(r.DaysToExpiry),
			r.Delta, r.Gamma, r.Theta, r.Vega, r.Rho, r.ReturnOnRisk, r.AnnualizedReturn, r.MaxProfit, r.MaxLoss,
			o.ClosingPrice, domain.Date(o.ClosingDate), o.RealizedPnL, o.RealizedReturn, o.RealizedAnnualReturn,
			o.Assigned, o.HighQuality, string(o.Label), o.Policy, o.LabeledAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByRunDate retrieves the deduplicated runDate partition ordered by record id.
func (s *TrainingDataStore) GetByRunDate(ctx context.Context, runDate time.Time) ([]*domain.TradeRecord, error) {
	query := `
		SELECT ` + trainingColumns + `
		FROM training_data FINAL
		WHERE run_date = toDate(?)
		ORDER BY record_id ASC
	`

	rows, err := s.conn.Query(ctx, query, partitionDate(runDate))
	if err != nil {
		return nil, fmt.Errorf("query training data: %w", err)
	}
	defer rows.Close()

	var result []*domain.TradeRecord
	for rows.Next() {
		var (
			r                 domain.TradeRecord
			o                 domain.Outcome
			runDay            time.Time
			dte               int32
			optionType, label string
		)
		err := rows.Scan(
			&runDay, &r.RecordID, &r.Symbol, &r.Expiration, &r.Strike, &optionType,
			&r.ObservationDate, &r.Spot, &r.Premium, &r.Volume, &r.OpenInterest, &r.ImpliedVol, &r.RiskFreeRate, &dte,
			&r.Delta, &r.Gamma, &r.Theta, &r.Vega, &r.Rho, &r.ReturnOnRisk, &r.AnnualizedReturn, &r.MaxProfit, &r.MaxLoss,
			&o.ClosingPrice, &o.ClosingDate, &o.RealizedPnL, &o.RealizedReturn, &o.RealizedAnnualReturn,
			&o.Assigned, &o.HighQuality, &label, &o.Policy, &o.LabeledAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan training row: %w", err)
		}

		r.Expiration = domain.Date(r.Expiration)
		r.ObservationDate = domain.Date(r.ObservationDate)
		r.DaysToExpiry = int(dte)
		r.OptionType = domain.OptionType(optionType)
		o.Label = domain.Status(label)
		o.ClosingDate = domain.Date(o.ClosingDate)
		o.LabeledAt = o.LabeledAt.UTC()
		r.Status = o.Label
		r.Outcome = &o
		result = append(result, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate training rows: %w", err)
	}
	return result, nil
}
