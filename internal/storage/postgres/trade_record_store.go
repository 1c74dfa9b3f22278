package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"covered-call-lab/internal/domain"
	"covered-call-lab/internal/storage"
)

// recordColumns is the column order of trade_records, shared by every read and write.
const recordColumns = `record_id, run_id, symbol, expiration, strike, option_type,
	observation_date, spot, bid, ask, volume, open_interest, implied_vol, risk_free_rate,
	premium, days_to_expiry, delta, gamma, theta, vega, rho, theoretical_price,
	return_on_risk, annualized_return, max_profit, max_loss, break_even, otm_percent,
	return_per_day, risk_reward_ratio,
	status,
	outcome_label, closing_price, closing_date, realized_pnl, realized_return,
	realized_annual_return, assigned, high_quality, label_policy, labeled_at,
	created_at, updated_at`

const keyOrder = `ORDER BY symbol ASC, expiration ASC, strike ASC, option_type ASC`

var (
	upsertRecordQuery = fmt.Sprintf(`
		INSERT INTO trade_records (%s)
		VALUES (%s)
		ON CONFLICT (record_id) DO UPDATE SET %s
	`, recordColumns, placeholders(columnCount(recordColumns), 1), excludedSet(recordColumns, "record_id", "created_at"))

	insertArchiveQuery = fmt.Sprintf(`
		INSERT INTO trade_records_archive (%s, archived_at)
		VALUES (%s)
	`, recordColumns, placeholders(columnCount(recordColumns)+1, 1))
)

// querier is satisfied by both *Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TradeRecordStore implements storage.PartitionStore using PostgreSQL.
// The active partition is trade_records, the archive is trade_records_archive.
type TradeRecordStore struct {
	pool *Pool
	now  func() time.Time
}

// NewTradeRecordStore creates a new TradeRecordStore.
func NewTradeRecordStore(pool *Pool) *TradeRecordStore {
	return &TradeRecordStore{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Compile-time interface check.
var _ storage.PartitionStore = (*TradeRecordStore)(nil)

// Upsert inserts r or refreshes the stored record under a row lock.
func (s *TradeRecordStore) Upsert(ctx context.Context, r *domain.TradeRecord) (*domain.TradeRecord, error) {
	if err := validateUpsert(r); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	stored, err := s.upsertTx(ctx, tx, r)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return stored, nil
}

// UpsertBulk upserts all records in one transaction. Fails entire batch on any error.
func (s *TradeRecordStore) UpsertBulk(ctx context.Context, records []*domain.TradeRecord) error {
	if len(records) == 0 {
		return nil
	}

	batchKeys := make(map[string]struct{}, len(records))
	for _, r := range records {
		if err := validateUpsert(r); err != nil {
			return err
		}
		if _, exists := batchKeys[r.RecordID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[r.RecordID] = struct{}{}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range records {
		if _, err := s.upsertTx(ctx, tx, r); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *TradeRecordStore) upsertTx(ctx context.Context, tx pgx.Tx, r *domain.TradeRecord) (*domain.TradeRecord, error) {
	archived, err := getArchived(ctx, tx, r.RecordID)
	if err == nil {
		return archived, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	now := s.now()
	cur, err := getActive(ctx, tx, r.RecordID, true)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		cur = r.Clone()
		if cur.CreatedAt.IsZero() {
			cur.CreatedAt = now
		}
	case err != nil:
		return nil, err
	case cur.Status.IsTerminal():
		return cur, nil
	default:
		cur.RefreshFrom(r)
	}
	cur.UpdatedAt = now

	if err := writeRecord(ctx, tx, cur); err != nil {
		return nil, err
	}
	return cur, nil
}

func validateUpsert(r *domain.TradeRecord) error {
	if r == nil || r.RecordID == "" {
		return storage.ErrInvalidInput
	}
	if r.Status == domain.StatusArchived {
		return fmt.Errorf("archived record %s in active partition: %w", r.RecordID, storage.ErrInvalidInput)
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	return nil
}

// GetByID retrieves an active record. Returns ErrNotFound if not exists.
func (s *TradeRecordStore) GetByID(ctx context.Context, recordID string) (*domain.TradeRecord, error) {
	return getActive(ctx, s.pool, recordID, false)
}

// GetByStatus retrieves active records in any of the given statuses.
func (s *TradeRecordStore) GetByStatus(ctx context.Context, statuses ...domain.Status) ([]*domain.TradeRecord, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	query := `SELECT ` + recordColumns + ` FROM trade_records WHERE status = ANY($1) ` + keyOrder
	rows, err := s.pool.Query(ctx, query, names)
	if err != nil {
		return nil, fmt.Errorf("get trade records by status: %w", err)
	}
	defer rows.Close()

	return scanTradeRecords(rows, false)
}

// GetAll retrieves the whole active partition.
func (s *TradeRecordStore) GetAll(ctx context.Context) ([]*domain.TradeRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM trade_records ` + keyOrder
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all trade records: %w", err)
	}
	defer rows.Close()

	return scanTradeRecords(rows, false)
}

// Promote moves records forward to status to. Records at or past it are not touched.
func (s *TradeRecordStore) Promote(ctx context.Context, recordIDs []string, to domain.Status) error {
	var from []string
	switch to {
	case domain.StatusScreened:
		from = []string{string(domain.StatusCandidate)}
	case domain.StatusPending:
		from = []string{string(domain.StatusCandidate), string(domain.StatusScreened)}
	default:
		return fmt.Errorf("promote to %s: %w", to, storage.ErrInvalidInput)
	}
	if len(recordIDs) == 0 {
		return nil
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE trade_records
		SET status = $1, updated_at = $2
		WHERE record_id = ANY($3) AND status = ANY($4)
	`, string(to), s.now(), recordIDs, from)
	if err != nil {
		return fmt.Errorf("promote trade records: %w", err)
	}
	return nil
}

// SaveLabel stores a resolved Win/Loss record over its Screened/Pending predecessor.
func (s *TradeRecordStore) SaveLabel(ctx context.Context, r *domain.TradeRecord) error {
	if r == nil || r.RecordID == "" || r.Outcome == nil || !r.Status.IsTerminal() {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cur, err := getActive(ctx, tx, r.RecordID, true)
	if errors.Is(err, storage.ErrNotFound) {
		if _, aerr := getArchived(ctx, tx, r.RecordID); aerr == nil {
			return storage.ErrImmutable
		}
		return storage.ErrNotFound
	}
	if err != nil {
		return err
	}
	if !cur.Status.IsLabelable() {
		return storage.ErrImmutable
	}

	c := r.Clone()
	c.CreatedAt = cur.CreatedAt
	c.UpdatedAt = s.now()
	if err := writeRecord(ctx, tx, c); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// MoveToArchive deletes terminal records from trade_records and inserts them into
// trade_records_archive in one transaction. Already archived ids are skipped.
func (s *TradeRecordStore) MoveToArchive(ctx context.Context, records []*domain.TradeRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	for _, r := range records {
		if r == nil || r.RecordID == "" || r.Status != domain.StatusArchived || r.Outcome == nil {
			return 0, storage.ErrInvalidInput
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.now()
	moved := 0
	for _, r := range records {
		if _, err := getArchived(ctx, tx, r.RecordID); err == nil {
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			return 0, err
		}

		cur, err := getActive(ctx, tx, r.RecordID, true)
		if err != nil {
			return 0, fmt.Errorf("archive %s: %w", r.RecordID, err)
		}
		if !cur.Status.IsTerminal() {
			return 0, fmt.Errorf("archive %s in status %s: %w", r.RecordID, cur.Status, storage.ErrInvalidInput)
		}

		c := r.Clone()
		if c.ArchivedAt == nil {
			c.ArchivedAt = &now
		}
		args := append(recordArgs(c), *c.ArchivedAt)
		if _, err := tx.Exec(ctx, insertArchiveQuery, args...); err != nil {
			if isDuplicateKeyError(err) {
				return 0, storage.ErrDuplicateKey
			}
			return 0, fmt.Errorf("insert archived record: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM trade_records WHERE record_id = $1`, r.RecordID); err != nil {
			return 0, fmt.Errorf("delete active record: %w", err)
		}
		moved++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return moved, nil
}

// GetArchived retrieves the archive partition.
func (s *TradeRecordStore) GetArchived(ctx context.Context) ([]*domain.TradeRecord, error) {
	query := `SELECT ` + recordColumns + `, archived_at FROM trade_records_archive ` + keyOrder
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get archived records: %w", err)
	}
	defer rows.Close()

	return scanTradeRecords(rows, true)
}

// GetArchivedByID retrieves an archived record. Returns ErrNotFound if not exists.
func (s *TradeRecordStore) GetArchivedByID(ctx context.Context, recordID string) (*domain.TradeRecord, error) {
	return getArchived(ctx, s.pool, recordID)
}

func getActive(ctx context.Context, q querier, recordID string, forUpdate bool) (*domain.TradeRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM trade_records WHERE record_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	r, err := scanTradeRecord(q.QueryRow(ctx, query, recordID), false)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade record by id: %w", err)
	}
	return r, nil
}

func getArchived(ctx context.Context, q querier, recordID string) (*domain.TradeRecord, error) {
	query := `SELECT ` + recordColumns + `, archived_at FROM trade_records_archive WHERE record_id = $1`

	r, err := scanTradeRecord(q.QueryRow(ctx, query, recordID), true)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get archived record by id: %w", err)
	}
	return r, nil
}

func writeRecord(ctx context.Context, q querier, r *domain.TradeRecord) error {
	if _, err := q.Exec(ctx, upsertRecordQuery, recordArgs(r)...); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("upsert trade record: %w", err)
	}
	return nil
}

// recordArgs returns r's values in recordColumns order.
func recordArgs(r *domain.TradeRecord) []any {
	args := []any{
		r.RecordID, r.RunID, r.Symbol, domain.Date(r.Expiration), r.Strike, string(r.OptionType),
		domain.Date(r.ObservationDate), r.Spot, r.Bid, r.Ask, r.Volume, r.OpenInterest, r.ImpliedVol, r.RiskFreeRate,
		r.Premium, r.DaysToExpiry, r.Delta, r.Gamma, r.Theta, r.Vega, r.Rho, r.TheoreticalPrice,
		r.ReturnOnRisk, r.AnnualizedReturn, r.MaxProfit, r.MaxLoss, r.BreakEven, r.OTMPercent,
		r.ReturnPerDay, r.RiskRewardRatio,
		string(r.Status),
	}

	if o := r.Outcome; o != nil {
		args = append(args,
			string(o.Label), o.ClosingPrice, domain.Date(o.ClosingDate), o.RealizedPnL, o.RealizedReturn,
			o.RealizedAnnualReturn, o.Assigned, o.HighQuality, o.Policy, o.LabeledAt,
		)
	} else {
		args = append(args, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil)
	}

	return append(args, r.CreatedAt, r.UpdatedAt)
}

// scanTradeRecord scans a single row into a TradeRecord.
func scanTradeRecord(row pgx.Row, archived bool) (*domain.TradeRecord, error) {
	var (
		r          domain.TradeRecord
		optionType string
		status     string

		label, policy                      *string
		closing, pnl, ret, annual          *float64
		closingDate, labeledAt, archivedAt *time.Time
		assigned, highQuality              *bool
	)

	dest := []any{
		&r.RecordID, &r.RunID, &r.Symbol, &r.Expiration, &r.Strike, &optionType,
		&r.ObservationDate, &r.Spot, &r.Bid, &r.Ask, &r.Volume, &r.OpenInterest, &r.ImpliedVol, &r.RiskFreeRate,
		&r.Premium, &r.DaysToExpiry, &r.Delta, &r.Gamma, &r.Theta, &r.Vega, &r.Rho, &r.TheoreticalPrice,
		&r.ReturnOnRisk, &r.AnnualizedReturn, &r.MaxProfit, &r.MaxLoss, &r.BreakEven, &r.OTMPercent,
		&r.ReturnPerDay, &r.RiskRewardRatio,
		&status,
		&label, &closing, &closingDate, &pnl, &ret,
		&annual, &assigned, &highQuality, &policy, &labeledAt,
		&r.CreatedAt, &r.UpdatedAt,
	}
	if archived {
		dest = append(dest, &archivedAt)
	}

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	r.OptionType = domain.OptionType(optionType)
	r.Status = domain.Status(status)
	r.Expiration = domain.Date(r.Expiration)
	r.ObservationDate = domain.Date(r.ObservationDate)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	if archivedAt != nil {
		a := archivedAt.UTC()
		r.ArchivedAt = &a
	}

	if label != nil {
		r.Outcome = &domain.Outcome{
			Label:                domain.Status(*label),
			ClosingPrice:         deref(closing),
			RealizedPnL:          deref(pnl),
			RealizedReturn:       deref(ret),
			RealizedAnnualReturn: deref(annual),
			Assigned:             deref(assigned),
			HighQuality:          deref(highQuality),
			Policy:               deref(policy),
		}
		if closingDate != nil {
			r.Outcome.ClosingDate = domain.Date(*closingDate)
		}
		if labeledAt != nil {
			r.Outcome.LabeledAt = labeledAt.UTC()
		}
	}

	return &r, nil
}

// scanTradeRecords scans multiple rows into a slice of TradeRecord.
func scanTradeRecords(rows pgx.Rows, archived bool) ([]*domain.TradeRecord, error) {
	var records []*domain.TradeRecord

	for rows.Next() {
		r, err := scanTradeRecord(rows, archived)
		if err != nil {
			return nil, fmt.Errorf("scan trade record row: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade record rows: %w", err)
	}

	return records, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func columnCount(cols string) int {
	return len(strings.Split(cols, ","))
}

// placeholders renders "$start, ..., $start+n-1".
func placeholders(n, start int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(ps, ", ")
}

// excludedSet renders "col = EXCLUDED.col" for every column not in skip.
func excludedSet(cols string, skip ...string) string {
	skipped := make(map[string]bool, len(skip))
	for _, c := range skip {
		skipped[c] = true
	}

	var sets []string
	for _, c := range strings.Split(cols, ",") {
		c = strings.TrimSpace(c)
		if skipped[c] {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	return strings.Join(sets, ", ")
}
