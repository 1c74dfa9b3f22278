package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"covered-call-lab/internal/domain"
)

// ComputeRecordID computes a deterministic record_id using SHA256.
// Formula: SHA256(symbol|expiration|strike|option_type)
// Strike is rendered with 4 decimals so 150 and 150.0 hash identically.
// Returns hex-encoded hash (64 characters).
func ComputeRecordID(
	symbol string,
	expiration string,
	strike float64,
	optionType domain.OptionType,
) string {
	data := fmt.Sprintf("%s|%s|%.4f|%s",
		symbol,
		expiration,
		strike,
		string(optionType),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// RecordIDForKey computes the record_id of a contract key.
func RecordIDForKey(k domain.ContractKey) string {
	return ComputeRecordID(k.Symbol, k.Expiration.Format(domain.DateLayout), k.Strike, k.Type)
}
