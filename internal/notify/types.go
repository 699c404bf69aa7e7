package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxRecords is the number of most recent records kept in the log.
const MaxRecords = 20

// ErrCorrupt is reported (and logged) when the persisted log cannot be decoded.
var ErrCorrupt = errors.New("notification log corrupt")

// Permission is the platform's answer to "may we show alerts".
type Permission string

const (
	PermissionUnsupported Permission = "unsupported"
	PermissionDefault     Permission = "default"
	PermissionGranted     Permission = "granted"
	PermissionDenied      Permission = "denied"
)

func ParsePermission(s string) (Permission, error) {
	switch p := Permission(strings.ToLower(strings.TrimSpace(s))); p {
	case PermissionUnsupported, PermissionDefault, PermissionGranted, PermissionDenied:
		return p, nil
	}
	return "", fmt.Errorf("unknown notification permission %q", s)
}

// Record is one entry of the notification log.
type Record struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Icon      string    `json:"icon"`
	Timestamp time.Time `json:"time"`
	Read      bool      `json:"read"`
	URL       string    `json:"url,omitempty"`
}

// Draft is the caller-supplied part of a Record.
type Draft struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon"`
	URL   string `json:"url,omitempty"`
}

// Alert is what the platform surface is asked to display.
type Alert struct {
	Title string
	Body  string
	Icon  string
	Badge string
	Tag   string
	URL   string
}

func alertFromDraft(d Draft) Alert {
	return Alert{Title: d.Title, Body: d.Body, Icon: DefaultIcon, Badge: DefaultBadge, Tag: "agrisense", URL: d.URL}
}

const (
	DefaultIcon  = "/icons/icon-192x192.png"
	DefaultBadge = "/icons/icon-72x72.png"
)

// Alerter is the platform notification surface.
type Alerter interface {
	Permission(ctx context.Context) Permission
	RequestPermission(ctx context.Context) (Permission, error)
	Show(ctx context.Context, a Alert) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
