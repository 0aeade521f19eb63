// Package model contains domain models passed between layers.
package model

import (
	"sort"
)

// Feature keys produced by the collector. Keys ending in _a / _b describe
// competitor A / B respectively.
const (
	FeatureRankingA      = "ranking_a"
	FeatureRankingB      = "ranking_b"
	FeatureRatingA       = "rating_a"
	FeatureRatingB       = "rating_b"
	FeatureRatingGap     = "rating_gap"
	FeatureFormA         = "form_a"
	FeatureFormB         = "form_b"
	FeatureServeIndexA   = "serve_index_a"
	FeatureServeIndexB   = "serve_index_b"
	FeatureReturnIndexA  = "return_index_a"
	FeatureReturnIndexB  = "return_index_b"
	FeatureAcesA         = "aces_per_match_a"
	FeatureAcesB         = "aces_per_match_b"
	FeatureH2HMeetings   = "h2h_meetings"
	FeatureH2HWinsA      = "h2h_wins_a"
	FeatureH2HWinPctA    = "h2h_win_pct_a"
	FeatureSurfaceMeets  = "surface_meetings"
	FeatureSurfaceWinsA  = "surface_wins_a"
	FeatureSurface       = "surface"
	FeatureImportance    = "importance_tier"
	FeatureBestOf        = "best_of"
	FeatureMatchTiebreak = "match_tiebreak"
	FeatureTemperature   = "temperature"
	FeatureHumidity      = "humidity"
	FeatureIndoor        = "indoor"
	FeatureWeekday       = "weekday"
	FeatureHour          = "hour"
)

// FeatureValue holds either a number or a categorical label.
type FeatureValue struct {
	Number float64 `json:"number,omitempty"`
	Label  string  `json:"label,omitempty"`
	// Categorical is true when Label carries the value.
	Categorical bool `json:"categorical,omitempty"`
}

// FeatureSet maps a signal name to its value. Absent keys mean the source
// had no data; they are never zero-filled.
type FeatureSet map[string]FeatureValue

// SetNumber stores a numeric feature.
func (fs FeatureSet) SetNumber(key string, v float64) {
	fs[key] = FeatureValue{Number: v}
}

// SetLabel stores a categorical feature. Empty labels are ignored.
func (fs FeatureSet) SetLabel(key, v string) {
	if v == "" {
		return
	}
	fs[key] = FeatureValue{Label: v, Categorical: true}
}

// SetFlag stores a boolean feature as 1 or 0.
func (fs FeatureSet) SetFlag(key string, v bool) {
	n := 0.0
	if v {
		n = 1
	}
	fs.SetNumber(key, n)
}

// Number returns the numeric value for key.
func (fs FeatureSet) Number(key string) (float64, bool) {
	v, ok := fs[key]
	if !ok || v.Categorical {
		return 0, false
	}
	return v.Number, true
}

// Label returns the categorical value for key.
func (fs FeatureSet) Label(key string) (string, bool) {
	v, ok := fs[key]
	if !ok || !v.Categorical {
		return "", false
	}
	return v.Label, true
}

// Has reports whether key is present.
func (fs FeatureSet) Has(key string) bool {
	_, ok := fs[key]
	return ok
}

// Len returns the number of present features.
func (fs FeatureSet) Len() int { return len(fs) }

// Keys returns the present keys in sorted order.
func (fs FeatureSet) Keys() []string {
	keys := make([]string, 0, len(fs))
	for k := range fs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns an independent copy.
func (fs FeatureSet) Clone() FeatureSet {
	out := make(FeatureSet, len(fs))
	for k, v := range fs {
		out[k] = v
	}
	return out
}
