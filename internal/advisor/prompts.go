package advisor

import (
	"fmt"
	"strings"

	"github.com/agrisense/agrisensed/internal/rules"
)

const (
	chatSystem = "You are a helpful AI assistant for farmers in India. Provide precise, helpful, and empathetic " +
		"answers to agricultural queries in the requested language."

	recommendSystem = "You are an expert AI agronomist for Indian agriculture. Your goal is to provide high-impact, " +
		"practical advice based on sensor data. Always respond in the requested language."

	diagnoseSystem = "You are an expert plant pathologist. Be precise and provide an organic treatment plan " +
		"suitable for a small-scale farmer."
)

func chatPrompt(question, language string) string {
	var sb strings.Builder
	sb.WriteString("Answer the following question about farming, crops, and farm management.\n")
	fmt.Fprintf(&sb, "IMPORTANT: You must provide the answer in the following language: %s.\n", language)
	sb.WriteString("Use a supportive, expert tone suitable for rural agricultural contexts.\n\n")
	sb.WriteString("Question: ")
	sb.WriteString(question)
	return sb.String()
}

func recommendPrompt(in RecommendInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Based on these conditions, provide 3 prioritized recommendations for a %s farm in %s.\n", in.Crop, in.Location)
	fmt.Fprintf(&sb, "Language: %s\n\n", in.Language)
	sb.WriteString("Sensor Data:\n")
	fmt.Fprintf(&sb, "- Soil Moisture: %.1f%%\n", in.Snapshot.Moisture)
	fmt.Fprintf(&sb, "- Temperature: %.1f°C\n", in.Snapshot.Temperature)
	fmt.Fprintf(&sb, "- pH: %.1f\n", in.Snapshot.PH)
	fmt.Fprintf(&sb, "- Nutrients: %s\n", in.Snapshot.Nutrient)
	fmt.Fprintf(&sb, "Weather: %s\n\n", in.WeatherForecast)
	sb.WriteString(`Respond with a JSON array only. Each element must have "priority" (High, Medium or Low), ` +
		`"icon" (one emoji), "title" and "action".`)
	return sb.String()
}

func diagnosePrompt(crop string) string {
	return fmt.Sprintf("Analyze the image of the %s provided. Identify any diseases, pests, or nutrient deficiencies.\n"+
		`Respond with a JSON object only, with keys "identification", "confidence" (0 to 1), "description", `+
		`"organic_treatment" and "severity" (Low, Medium or High).`, crop)
}

func validPriority(p rules.Priority) bool {
	switch p {
	case rules.PriorityHigh, rules.PriorityMedium, rules.PriorityLow:
		return true
	}
	return false
}
