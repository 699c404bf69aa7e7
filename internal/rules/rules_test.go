package rules

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnswer_FirstMatchWins(t *testing.T) {
	e := New()
	tests := []struct {
		query string
		want  string // substring of the expected answer
	}{
		{"When should I IRRIGATE my field?", "soil moisture should stay between 65 and 80"},
		{"how much NPK for wheat", "Nutrient needs depend on crop stage"},
		{"aphids everywhere", "neem oil at 5 ml"},
		{"leaf blight on tomato", "Bordeaux mixture"},
		{"what about paddy", "standing water"},
		{"current mandi rates", "eNAM"},
		{"tell me about pm kisan", "PM-KISAN"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Contains(t, e.Answer(tt.query, time.Unix(0, 0)), tt.want)
		})
	}
}

func TestAnswer_TableOrderBreaksTies(t *testing.T) {
	e := New()
	// "water" (moisture entry) appears before "rice" in the table.
	got := e.Answer("how much water does rice need", time.Now())
	assert.Contains(t, got, "soil moisture should stay")
}

func TestAnswer_FallbackRotation(t *testing.T) {
	e := New()
	seen := map[string]bool{}
	for sec := int64(300); sec < 303; sec++ {
		got := e.Answer("zzz", time.Unix(sec, 0))
		assert.Equal(t, defaultFallbacks[sec%3], got)
		seen[got] = true
	}
	assert.Len(t, seen, 3)

	// Same second, same answer.
	now := time.Unix(1700000000, 999)
	assert.Equal(t, e.Answer("qqq", now), e.Answer("qqq", now))
}

func TestAnswer_CustomTable(t *testing.T) {
	e := NewWithTable([]Entry{{Keywords: []string{"goat"}, Answer: "goats"}}, []string{"only"})
	assert.Equal(t, "goats", e.Answer("My GOAT is sick", time.Now()))
	assert.Equal(t, "only", e.Answer("sheep", time.Now()))

	empty := NewWithTable(nil, nil)
	assert.Empty(t, empty.Answer("anything", time.Now()))
}

func TestDefaultTableSize(t *testing.T) {
	assert.Len(t, New().Entries(), 15)
	assert.Len(t, defaultFallbacks, 3)
}

func TestRecommend_WorkedExample(t *testing.T) {
	recs := New().Recommend(Snapshot{Moisture: 50, PH: 6.5, Temperature: 24, Nutrient: NutrientMedium}, "wheat")
	require.Len(t, recs, 3)

	assert.Equal(t, PriorityHigh, recs[0].Priority)
	assert.Equal(t, "Irrigate Now", recs[0].Title)
	assert.Contains(t, recs[0].Action, "50.0%")
	assert.Contains(t, recs[0].Action, "For wheat")

	assert.Equal(t, PriorityLow, recs[1].Priority)
	assert.Equal(t, "pH Balanced", recs[1].Title)
	assert.Contains(t, recs[1].Action, "6.5")

	assert.Equal(t, "Monitor Nutrients", recs[2].Title)
}

func TestRecommend_ScoutTipSurvivesShortLists(t *testing.T) {
	recs := New().Recommend(Snapshot{Moisture: 70, PH: 6.5, Temperature: 24, Nutrient: NutrientHigh}, "maize")
	require.Len(t, recs, 3)
	assert.Equal(t, "Moisture On Track", recs[0].Title)
	assert.Equal(t, "pH Balanced", recs[1].Title)
	assert.Equal(t, "Scout Your Fields", recs[2].Title)
	assert.Contains(t, recs[2].Action, "maize")
}

func TestRecommend_Thresholds(t *testing.T) {
	e := New()
	tests := []struct {
		name      string
		snap      Snapshot
		wantFirst string
		wantPrio  Priority
		wantTitle []string
	}{
		{"wet", Snapshot{Moisture: 90, PH: 6.5, Temperature: 24, Nutrient: NutrientHigh}, "Reduce Irrigation", PriorityMedium, nil},
		{"boundary 65 is on track", Snapshot{Moisture: 65, PH: 6.5, Temperature: 24}, "Moisture On Track", PriorityLow, nil},
		{"boundary 85 is on track", Snapshot{Moisture: 85, PH: 6.5, Temperature: 24}, "Moisture On Track", PriorityLow, nil},
		{"acidic", Snapshot{Moisture: 70, PH: 5.2, Temperature: 24}, "Moisture On Track", PriorityLow,
			[]string{"Moisture On Track", "Correct Soil Acidity", "Scout Your Fields"}},
		{"alkaline and hot", Snapshot{Moisture: 70, PH: 8.1, Temperature: 35, Nutrient: NutrientHigh}, "Moisture On Track", PriorityLow,
			[]string{"Moisture On Track", "Soil Too Alkaline", "High Soil Temperature"}},
		{"cold with low nutrients", Snapshot{Moisture: 40, PH: 6.0, Temperature: 12, Nutrient: NutrientLow}, "Irrigate Now", PriorityHigh,
			[]string{"Irrigate Now", "pH Balanced", "Low Soil Temperature"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := e.Recommend(tt.snap, "rice")
			require.NotEmpty(t, recs)
			require.LessOrEqual(t, len(recs), 3)
			assert.Equal(t, tt.wantFirst, recs[0].Title)
			assert.Equal(t, tt.wantPrio, recs[0].Priority)
			if tt.wantTitle != nil {
				var titles []string
				for _, r := range recs {
					titles = append(titles, r.Title)
				}
				assert.Equal(t, tt.wantTitle, titles)
			}
		})
	}
}

func TestRecommend_Deterministic(t *testing.T) {
	e := New()
	s := Snapshot{Moisture: 61.27, PH: 7.9, Temperature: 33.333, Nutrient: NutrientLow}
	first := e.Recommend(s, "cotton")
	for range 10 {
		assert.Equal(t, first, e.Recommend(s, "cotton"))
	}
	assert.Contains(t, first[0].Action, "61.3%")
}

func TestRecommend_EmptyCrop(t *testing.T) {
	recs := New().Recommend(Snapshot{Moisture: 70, PH: 6.5, Temperature: 24}, "")
	assert.False(t, strings.Contains(recs[len(recs)-1].Action, "Walk your  field"))
}

func TestDiagnose_Offline(t *testing.T) {
	d := New().Diagnose("tomato")
	assert.Equal(t, "Offline: image analysis unavailable", d.Identification)
	assert.Zero(t, d.Confidence)
	assert.Equal(t, "Low", d.Severity)
	assert.Contains(t, d.OrganicTreatment, "Bordeaux")
	assert.Contains(t, d.Description, "tomato")
}

func TestParseNutrientTier(t *testing.T) {
	for in, want := range map[string]NutrientTier{"low": NutrientLow, " Medium ": NutrientMedium, "HIGH": NutrientHigh} {
		got, err := ParseNutrientTier(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseNutrientTier("extreme")
	assert.Error(t, err)
}
