package idhash

import (
	"testing"
	"time"

	"covered-call-lab/internal/domain"
)

func TestComputeRecordID(t *testing.T) {
	tests := []struct {
		name       string
		symbol     string
		expiration string
		strike     float64
		optionType domain.OptionType
		wantLen    int // hash length should be 64
	}{
		{
			name:       "weekly call",
			symbol:     "AAPL",
			expiration: "2024-01-19",
			strike:     190,
			optionType: domain.OptionTypeCall,
			wantLen:    64,
		},
		{
			name:       "fractional strike",
			symbol:     "F",
			expiration: "2024-02-16",
			strike:     12.5,
			optionType: domain.OptionTypeCall,
			wantLen:    64,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeRecordID(tt.symbol, tt.expiration, tt.strike, tt.optionType)

			if len(got) != tt.wantLen {
				t.Errorf("ComputeRecordID() length = %d, want %d", len(got), tt.wantLen)
			}

			// Verify determinism: same inputs should produce same output
			got2 := ComputeRecordID(tt.symbol, tt.expiration, tt.strike, tt.optionType)
			if got != got2 {
				t.Errorf("ComputeRecordID() not deterministic: %s != %s", got, got2)
			}
		})
	}
}

func TestComputeRecordID_DifferentInputs(t *testing.T) {
	base := ComputeRecordID("AAPL", "2024-01-19", 190, domain.OptionTypeCall)

	if base == ComputeRecordID("MSFT", "2024-01-19", 190, domain.OptionTypeCall) {
		t.Error("Different symbol should produce different hash")
	}
	if base == ComputeRecordID("AAPL", "2024-01-26", 190, domain.OptionTypeCall) {
		t.Error("Different expiration should produce different hash")
	}
	if base == ComputeRecordID("AAPL", "2024-01-19", 192.5, domain.OptionTypeCall) {
		t.Error("Different strike should produce different hash")
	}
	if base == ComputeRecordID("AAPL", "2024-01-19", 190, domain.OptionTypePut) {
		t.Error("Different option type should produce different hash")
	}
}

func TestRecordIDForKey(t *testing.T) {
	k := domain.ContractKey{
		Symbol:     "AAPL",
		Expiration: time.Date(2024, 1, 19, 15, 30, 0, 0, time.UTC),
		Strike:     190,
		Type:       domain.OptionTypeCall,
	}
	want := ComputeRecordID("AAPL", "2024-01-19", 190.0, domain.OptionTypeCall)
	if got := RecordIDForKey(k); got != want {
		t.Errorf("RecordIDForKey() = %s, want %s", got, want)
	}
}
