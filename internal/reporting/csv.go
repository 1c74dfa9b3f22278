package reporting

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"covered-call-lab/internal/domain"
)

// CandidateHeader is the column order of the ranked candidate export.
// The short_* columns are the writer's exposure on the sold call.
var CandidateHeader = []string{
	"rank", "symbol", "expiration_date", "strike", "option_type",
	"observation_date", "spot", "bid", "ask", "premium", "volume", "open_interest", "implied_vol",
	"days_to_expiry", "delta", "gamma", "theta", "vega", "rho",
	"short_delta", "short_theta", "short_vega",
	"return_on_risk", "annualized_return", "max_profit", "max_loss",
	"break_even", "otm_percent", "status",
}

// LabeledHeader extends CandidateHeader with the realized outcome.
var LabeledHeader = append(append([]string{}, CandidateHeader[1:]...),
	"closing_price", "closing_date", "realized_pnl", "realized_return", "realized_annual_return",
	"assigned", "high_quality", "label",
)

// WriteCandidatesCSV writes ranked records; rank is the position starting at 1.
func WriteCandidatesCSV(w io.Writer, records []*domain.TradeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CandidateHeader); err != nil {
		return err
	}
	for i, r := range records {
		row := append([]string{strconv.Itoa(i + 1)}, recordColumns(r)...)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteLabeledCSV writes labeled records. Records without an outcome are rejected.
func WriteLabeledCSV(w io.Writer, records []*domain.TradeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(LabeledHeader); err != nil {
		return err
	}
	for _, r := range records {
		if r.Outcome == nil {
			return fmt.Errorf("record %s has no outcome: %w", r.Key(), domain.ErrInvalidInput)
		}
		o := r.Outcome
		row := append(recordColumns(r),
			money(o.ClosingPrice),
			o.ClosingDate.Format(domain.DateLayout),
			money(o.RealizedPnL),
			ratio(o.RealizedReturn),
			ratio(o.RealizedAnnualReturn),
			strconv.FormatBool(o.Assigned),
			strconv.FormatBool(o.HighQuality),
			string(o.Label),
		)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func recordColumns(r *domain.TradeRecord) []string {
	short := r.Greeks().Short()
	return []string{
		r.Symbol,
		r.Expiration.Format(domain.DateLayout),
		money(r.Strike),
		string(r.OptionType),
		r.ObservationDate.Format(domain.DateLayout),
		money(r.Spot),
		money(r.Bid),
		money(r.Ask),
		money(r.Premium),
		strconv.FormatInt(r.Volume, 10),
		strconv.FormatInt(r.OpenInterest, 10),
		ratio(r.ImpliedVol),
		strconv.Itoa(r.DaysToExpiry),
		ratio(r.Delta),
		ratio(r.Gamma),
		ratio(r.Theta),
		ratio(r.Vega),
		ratio(r.Rho),
		ratio(short.Delta),
		ratio(short.Theta),
		ratio(short.Vega),
		ratio(r.ReturnOnRisk),
		ratio(r.AnnualizedReturn),
		money(r.MaxProfit),
		money(r.MaxLoss),
		money(r.BreakEven),
		ratio(r.OTMPercent),
		string(r.Status),
	}
}

// money renders prices with cent precision.
func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// ratio renders Greeks and returns with six decimals.
func ratio(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(6)
}

// DataVersion hashes the rendered candidate rows so identical outputs share a version.
func DataVersion(records []*domain.TradeRecord) string {
	h := sha256.New()
	for _, r := range records {
		h.Write([]byte(strings.Join(recordColumns(r), ",")))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
