// Package rules answers advisory requests without any network access, from a
// fixed keyword table and sensor threshold rules.
package rules

import (
	"fmt"
	"strings"
	"time"
)

// Entry is one row of the keyword table. An entry matches when any of its
// keywords is a substring of the case-folded query.
type Entry struct {
	Keywords []string
	Answer   string
}

// NutrientTier is the coarse nutrient (NPK) level reported by the sensor kit.
type NutrientTier string

const (
	NutrientLow    NutrientTier = "Low"
	NutrientMedium NutrientTier = "Medium"
	NutrientHigh   NutrientTier = "High"
)

// ParseNutrientTier accepts Low, Medium or High in any letter case.
func ParseNutrientTier(s string) (NutrientTier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return NutrientLow, nil
	case "medium":
		return NutrientMedium, nil
	case "high":
		return NutrientHigh, nil
	}
	return "", fmt.Errorf("unknown nutrient level %q (want Low, Medium or High)", s)
}

// Snapshot is one reading of the field sensors.
type Snapshot struct {
	Moisture    float64
	Temperature float64
	PH          float64
	Nutrient    NutrientTier
}

// Priority ranks a recommendation.
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

type Recommendation struct {
	Priority Priority `json:"priority"`
	Icon     string   `json:"icon"`
	Title    string   `json:"title"`
	Action   string   `json:"action"`
}

// Diagnosis mirrors the shape returned by the remote crop doctor.
type Diagnosis struct {
	Identification   string  `json:"identification"`
	Confidence       float64 `json:"confidence"`
	Description      string  `json:"description"`
	OrganicTreatment string  `json:"organic_treatment"`
	Severity         string  `json:"severity"`
}

const maxRecommendations = 3

// Engine is stateless; the zero value is not usable, use New.
type Engine struct {
	entries   []Entry
	fallbacks []string
}

// New returns an Engine over the built-in farming table.
func New() *Engine {
	return &Engine{entries: defaultEntries, fallbacks: defaultFallbacks}
}

// NewWithTable is used by tests to supply a custom table.
func NewWithTable(entries []Entry, fallbacks []string) *Engine {
	return &Engine{entries: entries, fallbacks: fallbacks}
}

// Entries returns the keyword table in match order.
func (e *Engine) Entries() []Entry {
	out := make([]Entry, len(e.entries))
	copy(out, e.entries)
	return out
}

// Answer returns the first table entry whose keyword appears in query. When
// nothing matches it rotates through the generic fallbacks by the second of
// now.
func (e *Engine) Answer(query string, now time.Time) string {
	q := strings.ToLower(query)
	for _, entry := range e.entries {
		for _, k := range entry.Keywords {
			if strings.Contains(q, k) {
				return entry.Answer
			}
		}
	}
	if len(e.fallbacks) == 0 {
		return ""
	}
	idx := now.Unix() % int64(len(e.fallbacks))
	if idx < 0 {
		idx += int64(len(e.fallbacks))
	}
	return e.fallbacks[idx]
}

// Recommend applies the moisture, pH, temperature and nutrient thresholds in
// that order, appends a field-scouting tip and keeps the first three.
func (e *Engine) Recommend(s Snapshot, crop string) []Recommendation {
	if crop == "" {
		crop = "crop"
	}
	recs := make([]Recommendation, 0, 5)

	switch {
	case s.Moisture < 65:
		recs = append(recs, Recommendation{PriorityHigh, "💧", "Irrigate Now", fmt.Sprintf(
			"Soil moisture is at %.1f%%, below the optimal 65 to 80%% range. Water in the early morning or evening. "+
				"For %s, aim to bring moisture back to 70 to 75%%.", s.Moisture, crop)})
	case s.Moisture > 85:
		recs = append(recs, Recommendation{PriorityMedium, "🚿", "Reduce Irrigation", fmt.Sprintf(
			"Moisture is at %.1f%%, slightly above optimal. Skip the next irrigation cycle. "+
				"Check field drainage to prevent root rot.", s.Moisture)})
	default:
		recs = append(recs, Recommendation{PriorityLow, "💧", "Moisture On Track", fmt.Sprintf(
			"Soil moisture at %.1f%% is within optimal range. Maintain current irrigation schedule and check again in 24 hours.",
			s.Moisture)})
	}

	switch {
	case s.PH < 5.8:
		recs = append(recs, Recommendation{PriorityHigh, "🧪", "Correct Soil Acidity", fmt.Sprintf(
			"pH at %.1f is too acidic for %s. Apply agricultural lime at 1 to 2 tons per hectare and retest in 30 days. "+
				"Most crops need pH between 6.0 and 7.0.", s.PH, crop)})
	case s.PH > 7.5:
		recs = append(recs, Recommendation{PriorityMedium, "🧪", "Soil Too Alkaline", fmt.Sprintf(
			"pH at %.1f is above optimal range. Apply sulfur at 200 kg per hectare to gradually lower pH. "+
				"Recheck in 4 to 6 weeks.", s.PH)})
	default:
		recs = append(recs, Recommendation{PriorityLow, "🧪", "pH Balanced", fmt.Sprintf(
			"Soil pH at %.1f is ideal for %s. No corrective action needed. Continue monitoring weekly.", s.PH, crop)})
	}

	switch {
	case s.Temperature > 32:
		recs = append(recs, Recommendation{PriorityMedium, "🌡️", "High Soil Temperature", fmt.Sprintf(
			"Soil temperature at %.1f°C is above optimal. Apply mulch around plant bases to reduce soil temperature. "+
				"Irrigate in the early morning to cool the root zone.", s.Temperature)})
	case s.Temperature < 18:
		recs = append(recs, Recommendation{PriorityMedium, "🌡️", "Low Soil Temperature", fmt.Sprintf(
			"Soil at %.1f°C may slow germination and root activity. Consider black plastic mulch to trap heat. "+
				"Delay fertilizer application until temperature rises above 20°C.", s.Temperature)})
	}

	switch s.Nutrient {
	case NutrientLow:
		recs = append(recs, Recommendation{PriorityHigh, "🌱", "Apply Nutrients Now",
			"Nutrient levels are low. Apply vermicompost at 2 tons per hectare or a balanced NPK fertilizer. " +
				"For quick results, use a foliar spray of diluted fish emulsion (2%). Test again in 3 weeks."})
	case NutrientMedium:
		recs = append(recs, Recommendation{PriorityLow, "🌱", "Monitor Nutrients",
			"Nutrient levels are at medium. No immediate action needed, but consider a light top-dress of compost " +
				"within the next 2 weeks to maintain soil health through the growing season."})
	}

	recs = append(recs, Recommendation{PriorityLow, "☀️", "Scout Your Fields", fmt.Sprintf(
		"Walk your %s field every 3 to 4 days to check for early signs of pests or disease. Early detection reduces "+
			"treatment cost significantly. Scan any suspicious leaves with the crop doctor once you are online.", crop)})

	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	return recs
}

// Diagnose returns a placeholder diagnosis that states no image was analysed.
// The treatment text is the table's disease-prevention answer.
func (e *Engine) Diagnose(crop string) Diagnosis {
	if crop == "" {
		crop = "crop"
	}
	return Diagnosis{
		Identification: "Offline: image analysis unavailable",
		Confidence:     0,
		Description: fmt.Sprintf("The %s image could not be analysed without a network connection. "+
			"Retry when you are back online for an identification.", crop),
		OrganicTreatment: e.Answer("disease", time.Time{}),
		Severity:         string(PriorityLow),
	}
}
