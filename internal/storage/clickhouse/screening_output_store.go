package clickhouse

import (
	"context"
	"fmt"
	"time"

	"covered-call-lab/internal/domain"
	"covered-call-lab/internal/storage"
)

const screeningColumns = `run_date, run_id, rank, record_id, symbol, expiration, strike, option_type,
	spot, premium, volume, open_interest, implied_vol, days_to_expiry,
	delta, gamma, theta, vega, rho, return_on_risk, annualized_return,
	max_profit, max_loss, break_even, otm_percent, status`

// ScreeningOutputStore implements storage.ScreeningOutputStore using ClickHouse.
// Each run date is one partition of screening_output.
type ScreeningOutputStore struct {
	conn *Conn
}

// NewScreeningOutputStore creates a new ScreeningOutputStore.
func NewScreeningOutputStore(conn *Conn) *ScreeningOutputStore {
	return &ScreeningOutputStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ScreeningOutputStore = (*ScreeningOutputStore)(nil)

// WriteRun drops the runDate partition and inserts the ranked records.
func (s *ScreeningOutputStore) WriteRun(ctx context.Context, runDate time.Time, runID string, records []*domain.TradeRecord) error {
	for _, r := range records {
		if r == nil {
			return storage.ErrInvalidInput
		}
	}

	day := partitionDate(runDate)
	if err := s.conn.Exec(ctx, fmt.Sprintf("ALTER TABLE screening_output DROP PARTITION '%s'", day)); err != nil {
		return fmt.Errorf("drop screening partition %s: %w", day, err)
	}
	if len(records) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO screening_output (`+screeningColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	runDay := domain.Date(runDate)
	for i, r := range records {
		err = batch.Append(
			runDay, runID, uint32(i+1), r.RecordID, r.Symbol, domain.Date(r.Expiration), r.Strike, string(r.OptionType),
			r.Spot, r.Premium, r.Volume, r.OpenInterest, r.ImpliedVol, int32(r.DaysToExpiry),
			r.Delta, r.Gamma, r.Theta, r.Vega, r.Rho, r.ReturnOnRisk, r.AnnualizedReturn,
			r.MaxProfit, r.MaxLoss, r.BreakEven, r.OTMPercent, string(r.Status),
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

// GetRun retrieves the runDate partition ordered by rank.
func (s *ScreeningOutputStore) GetRun(ctx context.Context, runDate time.Time) ([]storage.ScreeningRow, error) {
	query := `
		SELECT ` + screeningColumns + `
		FROM screening_output
		WHERE run_date = toDate(?)
		ORDER BY rank ASC
	`

	rows, err := s.conn.Query(ctx, query, partitionDate(runDate))
	if err != nil {
		return nil, fmt.Errorf("query screening run: %w", err)
	}
	defer rows.Close()

	var result []storage.ScreeningRow
	for rows.Next() {
		var (
			row        storage.ScreeningRow
			r          domain.TradeRecord
			rank       uint32
			dte        int32
			optionType string
			status     string
		)
		err := rows.Scan(
			&row.RunDate, &row.RunID, &rank, &r.RecordID, &r.Symbol, &r.Expiration, &r.Strike, &optionType,
			&r.Spot, &r.Premium, &r.Volume, &r.OpenInterest, &r.ImpliedVol, &dte,
			&r.Delta, &r.Gamma, &r.Theta, &r.Vega, &r.Rho, &r.ReturnOnRisk, &r.AnnualizedReturn,
			&r.MaxProfit, &r.MaxLoss, &r.BreakEven, &r.OTMPercent, &status,
		)
		if err != nil {
			return nil, fmt.Errorf("scan screening row: %w", err)
		}

		row.RunDate = domain.Date(row.RunDate)
		row.Rank = int(rank)
		r.Expiration = domain.Date(r.Expiration)
		r.DaysToExpiry = int(dte)
		r.OptionType = domain.OptionType(optionType)
		r.Status = domain.Status(status)
		r.RunID = row.RunID
		row.Record = &r
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate screening rows: %w", err)
	}
	return result, nil
}
