// Package labeling resolves expired trade records into Win or Loss.
//
// A record moves Screened/Pending -> {Win, Loss} once the as-of date reaches its
// expiration and the closing price of the underlying is known. A missing close
// defers the transition to the next run, unless the grace period has passed, in
// which case the expiration is treated as a market holiday and the previous
// session's close is used. Terminal records are returned as-is.
package labeling

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"covered-call-lab/internal/domain"
	"covered-call-lab/internal/marketdata"
)

// Transition describes what Apply did to a record.
type Transition int

const (
	// Unchanged: the record is already terminal (or archived) and was returned untouched.
	Unchanged Transition = iota
	// NotEligible: the record was never screened.
	NotEligible
	// NotDue: the as-of date is before expiration.
	NotDue
	// Deferred: expired, but the closing price is not published yet.
	Deferred
	// Labeled: the record was resolved to Win or Loss.
	Labeled
)

func (t Transition) String() string {
	switch t {
	case Unchanged:
		return "unchanged"
	case NotEligible:
		return "not_eligible"
	case NotDue:
		return "not_due"
	case Deferred:
		return "deferred"
	case Labeled:
		return "labeled"
	default:
		return "unknown"
	}
}

// Result is the outcome of one Apply call.
type Result struct {
	Record     *domain.TradeRecord
	Transition Transition
}

// Machine applies the labeling transition using a closing-price source.
type Machine struct {
	src             marketdata.ClosingPriceSource
	policy          Policy
	highQuality     float64
	weekendFallback bool
	holidayGrace    int
	logger          *zap.Logger
}

// DefaultHolidayGraceDays is how long a missing expiration close is waited for
// before the previous session is used instead.
const DefaultHolidayGraceDays = 2

// maxHolidayLookback bounds how many earlier sessions are tried.
const maxHolidayLookback = 3

// Option configures a Machine.
type Option func(*Machine)

// WithHighQualityThreshold sets the realized annual return above which a record is high quality.
func WithHighQualityThreshold(v float64) Option {
	return func(m *Machine) { m.highQuality = v }
}

// WithWeekendFallback toggles resolving non-trading expirations to the
// preceding session: weekends immediately, holidays after the grace period.
// Disabled, only the expiration date's own close labels a record.
func WithWeekendFallback(enabled bool) Option {
	return func(m *Machine) { m.weekendFallback = enabled }
}

// WithHolidayGrace sets the calendar days a missing close is waited for
// before falling back to the previous session.
func WithHolidayGrace(days int) Option {
	return func(m *Machine) {
		if days >= 0 {
			m.holidayGrace = days
		}
	}
}

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMachine creates a labeling machine.
func NewMachine(src marketdata.ClosingPriceSource, policy Policy, opts ...Option) *Machine {
	if policy == "" {
		policy = PolicyRealizedPnL
	}
	m := &Machine{
		src:             src,
		policy:          policy,
		highQuality:     DefaultHighQualityAnnualReturn,
		weekendFallback: true,
		holidayGrace:    DefaultHolidayGraceDays,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the configured win/loss policy.
func (m *Machine) Policy() Policy { return m.policy }

// Apply attempts the labeling transition for rec as of asOf.
// Errors are record-scoped *domain.RecordError values; rec itself is never mutated.
func (m *Machine) Apply(ctx context.Context, rec *domain.TradeRecord, asOf time.Time) (Result, error) {
	if rec == nil {
		return Result{}, fmt.Errorf("nil record: %w", domain.ErrInputData)
	}
	if rec.Status.IsTerminal() || rec.Status == domain.StatusArchived {
		return Result{Record: rec, Transition: Unchanged}, nil
	}
	if !rec.Status.IsLabelable() {
		return Result{Record: rec, Transition: NotEligible}, nil
	}

	key := rec.Key()
	if err := checkLabelInputs(rec); err != nil {
		return Result{Record: rec}, domain.NewRecordError(key, err)
	}
	if domain.Date(asOf).Before(key.Expiration) {
		return Result{Record: rec, Transition: NotDue}, nil
	}

	lookup := m.lookupDate(key.Expiration)
	price, closeDate, ok, err := m.closingPrice(ctx, rec.Symbol, lookup, asOf)
	if err != nil {
		if !errors.Is(err, domain.ErrInputData) && !errors.Is(err, domain.ErrExternalService) &&
			ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", domain.ErrExternalService, err)
		}
		return Result{Record: rec}, domain.NewRecordError(key, err)
	}
	if !ok {
		m.logger.Debug("closing price not yet available",
			zap.String("symbol", rec.Symbol),
			zap.String("date", lookup.Format(domain.DateLayout)))
		return Result{Record: rec, Transition: Deferred}, nil
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return Result{Record: rec}, domain.NewRecordError(key,
			fmt.Errorf("closing price %v on %s: %w", price, closeDate.Format(domain.DateLayout), domain.ErrInputData))
	}

	return Result{
		Record:     resolve(rec, price, closeDate, m.policy, m.highQuality, asOf),
		Transition: Labeled,
	}, nil
}

// lookupDate maps a weekend expiration to the preceding Friday.
func (m *Machine) lookupDate(expiration time.Time) time.Time {
	d := domain.Date(expiration)
	if !m.weekendFallback {
		return d
	}
	return PreviousTradingDay(d)
}

// closingPrice looks up the close on d. When it is still missing once the
// grace period after d has passed, d is taken to be a holiday and up to
// maxHolidayLookback earlier sessions are tried. Returns the date the close
// was found on.
func (m *Machine) closingPrice(ctx context.Context, symbol string, d, asOf time.Time) (float64, time.Time, bool, error) {
	price, ok, err := m.src.ClosingPrice(ctx, symbol, d)
	if err != nil || ok || !m.weekendFallback {
		return price, d, ok, err
	}
	if domain.DaysBetween(d, asOf) < m.holidayGrace {
		return 0, d, false, nil
	}

	prev := d
	for i := 0; i < maxHolidayLookback; i++ {
		prev = PreviousTradingDay(prev.AddDate(0, 0, -1))
		price, ok, err = m.src.ClosingPrice(ctx, symbol, prev)
		if err != nil {
			return 0, prev, false, err
		}
		if ok {
			m.logger.Info("no close on expiration date, using previous session",
				zap.String("symbol", symbol),
				zap.String("expiration_close", d.Format(domain.DateLayout)),
				zap.String("close_date", prev.Format(domain.DateLayout)))
			return price, prev, true, nil
		}
	}
	return 0, d, false, nil
}

// PreviousTradingDay returns d itself on weekdays, the prior Friday on weekends.
func PreviousTradingDay(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, -2)
	default:
		return d
	}
}

func checkLabelInputs(rec *domain.TradeRecord) error {
	switch {
	case rec.Symbol == "":
		return fmt.Errorf("empty symbol: %w", domain.ErrInputData)
	case rec.Expiration.IsZero():
		return fmt.Errorf("missing expiration: %w", domain.ErrInputData)
	case !(rec.Strike > 0) || math.IsInf(rec.Strike, 0):
		return fmt.Errorf("strike %v: %w", rec.Strike, domain.ErrInputData)
	case !(rec.Spot > 0) || math.IsInf(rec.Spot, 0):
		return fmt.Errorf("spot %v: %w", rec.Spot, domain.ErrInputData)
	case math.IsNaN(rec.Premium) || rec.Premium < 0:
		return fmt.Errorf("premium %v: %w", rec.Premium, domain.ErrInputData)
	}
	return nil
}

// Resolve labels rec with a known closing price on its expiration date.
// Terminal and archived records are returned unchanged.
func Resolve(rec *domain.TradeRecord, closePrice float64, policy Policy, asOf time.Time) *domain.TradeRecord {
	if rec.Status.IsTerminal() || rec.Status == domain.StatusArchived {
		return rec
	}
	return resolve(rec, closePrice, domain.Date(rec.Expiration), policy, DefaultHighQualityAnnualReturn, asOf)
}

func resolve(rec *domain.TradeRecord, closePrice float64, closeDate time.Time, policy Policy, highQuality float64, asOf time.Time) *domain.TradeRecord {
	pnl := RealizedPnL(rec.Spot, rec.Strike, rec.Premium, closePrice)
	ret := pnl / rec.Spot

	days := domain.DaysBetween(rec.ObservationDate, rec.Expiration)
	if days < 1 {
		days = 1
	}
	annual := ret * 365 / float64(days)

	out := rec.Clone()
	out.Status = domain.StatusLoss
	if policy.IsWin(rec.Spot, rec.Strike, rec.Premium, closePrice) {
		out.Status = domain.StatusWin
	}
	out.Outcome = &domain.Outcome{
		Label:                out.Status,
		ClosingPrice:         closePrice,
		ClosingDate:          closeDate,
		RealizedPnL:          pnl,
		RealizedReturn:       ret,
		RealizedAnnualReturn: annual,
		Assigned:             closePrice > rec.Strike,
		HighQuality:          annual > highQuality,
		Policy:               string(policy),
		LabeledAt:            asOf.UTC(),
	}
	out.UpdatedAt = asOf.UTC()
	return out
}
