package screening

import (
	"math"

	"covered-call-lab/internal/config"
	"covered-call-lab/internal/domain"
)

// Rule names.
const (
	RuleMinVolume         = "MIN_VOLUME"
	RuleMinOpenInterest   = "MIN_OPEN_INTEREST"
	RuleMinDelta          = "MIN_DELTA"
	RuleMaxDelta          = "MAX_DELTA"
	RuleMinReturnOnRisk   = "MIN_RETURN_ON_RISK"
	RuleMinDaysToExpiry   = "MIN_DAYS_TO_EXPIRY"
	RuleMaxDaysToExpiry   = "MAX_DAYS_TO_EXPIRY"
	RuleMinPremium        = "MIN_PREMIUM"
	RuleMinImpliedVol     = "MIN_IMPLIED_VOLATILITY"
	RuleMaxImpliedVol     = "MAX_IMPLIED_VOLATILITY"
	RuleMinStockPrice     = "MIN_STOCK_PRICE"
	RuleMaxStockPrice     = "MAX_STOCK_PRICE"
	RuleMinVega           = "MIN_VEGA"
	RuleMaxVega           = "MAX_VEGA"
	RuleMaxGamma          = "MAX_GAMMA"
	RuleMinTheta          = "MIN_THETA"
	RuleMaxTheta          = "MAX_THETA"
	RuleOutOfTheMoneyOnly = "OUT_OF_THE_MONEY_ONLY"
)

// Bound says which side of the threshold a value must fall on.
type Bound int

const (
	// Min retains values >= threshold.
	Min Bound = iota
	// Max retains values <= threshold.
	Max
)

// Rule is a named threshold predicate over one TradeRecord field.
// Raising a Min threshold or lowering a Max threshold can only shrink the retained set.
type Rule struct {
	Name      string
	Bound     Bound
	Threshold float64
	Value     func(*domain.TradeRecord) float64
}

// Eval reports whether t passes the rule. NaN values never pass.
func (r Rule) Eval(t *domain.TradeRecord) bool {
	v := r.Value(t)
	if math.IsNaN(v) || math.IsNaN(r.Threshold) {
		return false
	}
	if r.Bound == Max {
		return v <= r.Threshold
	}
	return v >= r.Threshold
}

// WithThreshold returns a copy of r using threshold.
func (r Rule) WithThreshold(threshold float64) Rule {
	r.Threshold = threshold
	return r
}

func minRule(name string, threshold float64, value func(*domain.TradeRecord) float64) Rule {
	return Rule{Name: name, Bound: Min, Threshold: threshold, Value: value}
}

func maxRule(name string, threshold float64, value func(*domain.TradeRecord) float64) Rule {
	return Rule{Name: name, Bound: Max, Threshold: threshold, Value: value}
}

func volume(t *domain.TradeRecord) float64       { return float64(t.Volume) }
func openInterest(t *domain.TradeRecord) float64 { return float64(t.OpenInterest) }
func delta(t *domain.TradeRecord) float64        { return t.Delta }
func returnOnRisk(t *domain.TradeRecord) float64 { return t.ReturnOnRisk }
func daysToExpiry(t *domain.TradeRecord) float64 { return float64(t.DaysToExpiry) }
func premium(t *domain.TradeRecord) float64      { return t.Premium }
func impliedVol(t *domain.TradeRecord) float64   { return t.ImpliedVol }
func spot(t *domain.TradeRecord) float64         { return t.Spot }
func vega(t *domain.TradeRecord) float64         { return t.Vega }
func gamma(t *domain.TradeRecord) float64        { return t.Gamma }
func theta(t *domain.TradeRecord) float64        { return t.Theta }
func otmPercent(t *domain.TradeRecord) float64   { return t.OTMPercent }

func MinVolume(v int64) Rule         { return minRule(RuleMinVolume, float64(v), volume) }
func MinOpenInterest(v int64) Rule   { return minRule(RuleMinOpenInterest, float64(v), openInterest) }
func MinDelta(v float64) Rule        { return minRule(RuleMinDelta, v, delta) }
func MaxDelta(v float64) Rule        { return maxRule(RuleMaxDelta, v, delta) }
func MinReturnOnRisk(v float64) Rule { return minRule(RuleMinReturnOnRisk, v, returnOnRisk) }
func MinDaysToExpiry(v int) Rule     { return minRule(RuleMinDaysToExpiry, float64(v), daysToExpiry) }
func MaxDaysToExpiry(v int) Rule     { return maxRule(RuleMaxDaysToExpiry, float64(v), daysToExpiry) }
func MinPremium(v float64) Rule      { return minRule(RuleMinPremium, v, premium) }
func MinImpliedVol(v float64) Rule   { return minRule(RuleMinImpliedVol, v, impliedVol) }
func MaxImpliedVol(v float64) Rule   { return maxRule(RuleMaxImpliedVol, v, impliedVol) }
func MinStockPrice(v float64) Rule   { return minRule(RuleMinStockPrice, v, spot) }
func MaxStockPrice(v float64) Rule   { return maxRule(RuleMaxStockPrice, v, spot) }
func MinVega(v float64) Rule         { return minRule(RuleMinVega, v, vega) }
func MaxVega(v float64) Rule         { return maxRule(RuleMaxVega, v, vega) }
func MaxGamma(v float64) Rule        { return maxRule(RuleMaxGamma, v, gamma) }
func MinTheta(v float64) Rule        { return minRule(RuleMinTheta, v, theta) }
func MaxTheta(v float64) Rule        { return maxRule(RuleMaxTheta, v, theta) }
func OutOfTheMoneyOnly() Rule        { return minRule(RuleOutOfTheMoneyOnly, 0, otmPercent) }

// RulesFromConfig builds the ordered rule set from the screening thresholds.
// The five core rules are always present; optional thresholds are added when set.
func RulesFromConfig(s config.Screening) []Rule {
	rules := []Rule{
		MinVolume(s.MinVolume),
		MinOpenInterest(s.MinOpenInterest),
		MinDelta(s.MinDelta),
		MaxDelta(s.MaxDelta),
		MinReturnOnRisk(s.MinReturnOnRisk),
		MinDaysToExpiry(s.MinDaysToExpiry),
		MaxDaysToExpiry(s.MaxDaysToExpiry),
	}

	optional := []struct {
		v    *float64
		rule func(float64) Rule
	}{
		{s.MinPremium, MinPremium},
		{s.MinImpliedVolatility, MinImpliedVol},
		{s.MaxImpliedVolatility, MaxImpliedVol},
		{s.MinStockPrice, MinStockPrice},
		{s.MaxStockPrice, MaxStockPrice},
		{s.MinVega, MinVega},
		{s.MaxVega, MaxVega},
		{s.MaxGamma, MaxGamma},
		{s.MinTheta, MinTheta},
		{s.MaxTheta, MaxTheta},
	}
	for _, o := range optional {
		if o.v != nil {
			rules = append(rules, o.rule(*o.v))
		}
	}
	if s.OutOfTheMoneyOnly {
		rules = append(rules, OutOfTheMoneyOnly())
	}
	return rules
}
