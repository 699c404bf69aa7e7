package notify

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// PriceAlert builds a market price change notification.
func PriceAlert(crop string, pricePerQuintal, changePct float64) Draft {
	icon, arrow := "📈", "↑"
	if changePct < 0 {
		icon, arrow = "📉", "↓"
	}
	return Draft{
		Title: fmt.Sprintf("%s %s Price Update", icon, crop),
		Body:  fmt.Sprintf("₹%.0f/quintal (%s %.1f%%)", pricePerQuintal, arrow, math.Abs(changePct)),
		Icon:  icon,
		URL:   "/prices",
	}
}

// WeatherAlert severity is one of info, warning or severe.
func WeatherAlert(message, severity string) Draft {
	icon := "☁️"
	switch severity {
	case "severe":
		icon = "⚠️"
	case "warning":
		icon = "🌤️"
	}
	return Draft{Title: icon + " Weather Alert", Body: message, Icon: icon, URL: "/weather"}
}

func SensorAlert(sensor, reading string) Draft {
	return Draft{Title: "🌡️ Sensor Alert", Body: fmt.Sprintf("%s: %s", sensor, reading), Icon: "🌡️", URL: "/sensors"}
}

func AdvisorTip(message string) Draft {
	return Draft{Title: "🤖 AI Advisor", Body: message, Icon: "🤖", URL: "/advisor"}
}

// LogAlerter is the daemon's alert surface: it writes alerts to the log.
// A request for permission is granted unless the user denied it in config.
type LogAlerter struct {
	Logger *slog.Logger

	mu   sync.Mutex
	perm Permission
}

func NewLogAlerter(logger *slog.Logger, initial Permission) *LogAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	if initial == "" {
		initial = PermissionDefault
	}
	return &LogAlerter{Logger: logger, perm: initial}
}

func (a *LogAlerter) Permission(context.Context) Permission {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.perm
}

func (a *LogAlerter) RequestPermission(context.Context) (Permission, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.perm == PermissionDefault {
		a.perm = PermissionGranted
	}
	return a.perm, nil
}

func (a *LogAlerter) Show(_ context.Context, alert Alert) error {
	a.Logger.Info("alert", "title", alert.Title, "body", alert.Body, "url", alert.URL, "tag", alert.Tag)
	return nil
}
