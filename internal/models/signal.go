package models

import (
	"encoding/json"
	"sort"
	"time"
)

// Strength classifies a signal by its aggregate convergence score.
type Strength string

const (
	StrengthWatch       Strength = "watch"
	StrengthModerate    Strength = "moderate"
	StrengthStrong      Strength = "strong"
	StrengthExceptional Strength = "exceptional"
)

// StrengthFor maps a 0-100 convergence score onto a strength band.
func StrengthFor(score float64) Strength {
	switch {
	case score >= 90:
		return StrengthExceptional
	case score >= 75:
		return StrengthStrong
	case score >= 55:
		return StrengthModerate
	default:
		return StrengthWatch
	}
}

// IDSet is an unordered set of user identities. It marshals as a sorted
// JSON array so encoded signals are byte-stable.
type IDSet map[string]struct{}

func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Add(id string)    { s[id] = struct{}{} }
func (s IDSet) Remove(id string) { delete(s, id) }

// Toggle flips membership of id and reports the new membership state.
func (s IDSet) Toggle(id string) bool {
	if s.Has(id) {
		delete(s, id)
		return false
	}
	s[id] = struct{}{}
	return true
}

func (s IDSet) Clone() IDSet {
	if s == nil {
		return nil
	}
	out := make(IDSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

func (s IDSet) MarshalJSON() ([]byte, error) {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return json.Marshal(ids)
}

func (s *IDSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewIDSet(ids...)
	return nil
}

// Signal is an immutable-per-version snapshot of one trading opportunity.
// The server owns signal state; the cache only ever holds a copy of the
// latest known version. Signals are never deleted locally, only marked
// expired.
type Signal struct {
	ID               string             `json:"id"`
	Market           string             `json:"market"`
	Symbol           string             `json:"symbol"`
	SubScores        map[string]float64 `json:"sub_scores"`
	ConvergenceScore float64            `json:"convergence_score"`
	Strength         Strength           `json:"strength"`
	IsExpired        bool               `json:"is_expired"`
	ViewedBy         IDSet              `json:"viewed_by"`
	SavedBy          IDSet              `json:"saved_by"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Clone returns a deep copy, so cached snapshots can be handed to callers
// without aliasing the store's mutable maps.
func (s Signal) Clone() Signal {
	out := s
	if s.SubScores != nil {
		out.SubScores = make(map[string]float64, len(s.SubScores))
		for k, v := range s.SubScores {
			out.SubScores[k] = v
		}
	}
	out.ViewedBy = s.ViewedBy.Clone()
	out.SavedBy = s.SavedBy.Clone()
	return out
}

// ListResult is the ordered page of signals matching one query fingerprint.
// Invariant: no duplicate signal identities within one result.
type ListResult struct {
	Signals    []Signal `json:"signals"`
	TotalCount int      `json:"total_count"`
}

// Clone deep-copies the result including every signal snapshot.
func (lr ListResult) Clone() ListResult {
	out := ListResult{TotalCount: lr.TotalCount}
	if lr.Signals != nil {
		out.Signals = make([]Signal, len(lr.Signals))
		for i, s := range lr.Signals {
			out.Signals[i] = s.Clone()
		}
	}
	return out
}

// Aggregate is the derived analytics summary. It is never recomputed
// locally: any signal change marks it stale until the next explicit fetch.
type Aggregate struct {
	TotalSignals     int              `json:"total_signals"`
	ActiveSignals    int              `json:"active_signals"`
	ExpiredSignals   int              `json:"expired_signals"`
	AverageScore     float64          `json:"average_score"`
	CountsByStrength map[Strength]int `json:"counts_by_strength"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

func (a Aggregate) Clone() Aggregate {
	out := a
	if a.CountsByStrength != nil {
		out.CountsByStrength = make(map[Strength]int, len(a.CountsByStrength))
		for k, v := range a.CountsByStrength {
			out.CountsByStrength[k] = v
		}
	}
	return out
}
