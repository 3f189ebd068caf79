package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrengthFor_Bands(t *testing.T) {
	tests := []struct {
		score float64
		want  Strength
	}{
		{0, StrengthWatch},
		{54.9, StrengthWatch},
		{55, StrengthModerate},
		{74.9, StrengthModerate},
		{75, StrengthStrong},
		{89.9, StrengthStrong},
		{90, StrengthExceptional},
		{100, StrengthExceptional},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StrengthFor(tt.score), "score %g", tt.score)
	}
}

func TestIDSet_Toggle(t *testing.T) {
	s := NewIDSet("u1")

	assert.False(t, s.Toggle("u1"), "toggling a member removes it")
	assert.False(t, s.Has("u1"))

	assert.True(t, s.Toggle("u2"), "toggling a non-member adds it")
	assert.True(t, s.Has("u2"))
}

func TestIDSet_JSONRoundTripSorted(t *testing.T) {
	s := NewIDSet("zed", "abe", "mia")

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `["abe","mia","zed"]`, string(data), "marshals as sorted array")

	var back IDSet
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, s, back)
}

func TestSignal_CloneIsDeep(t *testing.T) {
	orig := Signal{
		ID:        "sig-1",
		SubScores: map[string]float64{"momentum": 80},
		SavedBy:   NewIDSet("u1"),
		ViewedBy:  NewIDSet("u1", "u2"),
	}

	cp := orig.Clone()
	cp.SubScores["momentum"] = 10
	cp.SavedBy.Add("u9")

	assert.Equal(t, 80.0, orig.SubScores["momentum"])
	assert.False(t, orig.SavedBy.Has("u9"))
}

func TestListQuery_FingerprintStable(t *testing.T) {
	q := ListQuery{Market: "BTC-USD", MinScore: 70, SortBy: "score", SortDesc: true, Page: 1, PageSize: 20}

	assert.Equal(t, q.Fingerprint(), q.Fingerprint())

	q2 := q
	q2.Page = 2
	assert.NotEqual(t, q.Fingerprint(), q2.Fingerprint(), "pagination is part of the key")

	q3 := q
	q3.Strength = StrengthStrong
	assert.NotEqual(t, q.Fingerprint(), q3.Fingerprint(), "filter is part of the key")
}
