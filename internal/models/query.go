package models

import (
	"fmt"
	"strings"
)

// Fingerprint is the canonical cache key for one filter/sort/pagination
// combination. Two queries with identical parameters always produce the
// same fingerprint.
type Fingerprint string

// ListQuery captures the filter predicate, sort and pagination used to
// fetch one list of signals.
type ListQuery struct {
	Market         string   `json:"market"`
	MinScore       float64  `json:"min_score"`
	Strength       Strength `json:"strength,omitempty"`
	SavedBy        string   `json:"saved_by,omitempty"`
	IncludeExpired bool     `json:"include_expired"`
	SortBy         string   `json:"sort_by"`
	SortDesc       bool     `json:"sort_desc"`
	Page           int      `json:"page"`
	PageSize       int      `json:"page_size"`
}

// Fingerprint renders the query as a stable pipe-delimited key. Field
// order is fixed; empty optional fields are still emitted so keys never
// collide across query shapes.
func (q ListQuery) Fingerprint() Fingerprint {
	var b strings.Builder
	fmt.Fprintf(&b, "market=%s", q.Market)
	fmt.Fprintf(&b, "|min_score=%g", q.MinScore)
	fmt.Fprintf(&b, "|strength=%s", q.Strength)
	fmt.Fprintf(&b, "|saved_by=%s", q.SavedBy)
	fmt.Fprintf(&b, "|include_expired=%t", q.IncludeExpired)
	fmt.Fprintf(&b, "|sort=%s", q.SortBy)
	fmt.Fprintf(&b, "|desc=%t", q.SortDesc)
	fmt.Fprintf(&b, "|page=%d", q.Page)
	fmt.Fprintf(&b, "|size=%d", q.PageSize)
	return Fingerprint(b.String())
}
