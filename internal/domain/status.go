package domain

import (
	"fmt"
	"strings"
)

// Status is the lifecycle stage of a TradeRecord.
//
//	Candidate -> Screened -> Pending -> {Win, Loss} -> Archived
type Status string

const (
	StatusCandidate Status = "CANDIDATE"
	StatusScreened  Status = "SCREENED"
	StatusPending   Status = "PENDING"
	StatusWin       Status = "WIN"
	StatusLoss      Status = "LOSS"
	StatusArchived  Status = "ARCHIVED"
)

// Rank orders statuses along the lifecycle. Win and Loss share a rank.
func (s Status) Rank() int {
	switch s {
	case StatusCandidate:
		return 0
	case StatusScreened:
		return 1
	case StatusPending:
		return 2
	case StatusWin, StatusLoss:
		return 3
	case StatusArchived:
		return 4
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s.Rank() >= 0 }

// IsTerminal reports whether s is a labeled outcome (Win or Loss).
func (s Status) IsTerminal() bool { return s == StatusWin || s == StatusLoss }

// IsLabelable reports whether a record in status s may be resolved by labeling.
func (s Status) IsLabelable() bool { return s == StatusScreened || s == StatusPending }

// Max returns the later of two statuses; re-screening uses it so status never moves backward.
func (s Status) Max(o Status) Status {
	if o.Rank() > s.Rank() {
		return o
	}
	return s
}

// ParseStatus parses a status name in any case.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("status %q: %w", v, ErrInputData)
	}
	return s, nil
}
