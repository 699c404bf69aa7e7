// Package provider holds the remote inference backends that make up the
// fallback chain and the shim that classifies their failures.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/agrisense/agrisensed/internal/resilience"
)

var (
	// ErrRateLimited marks quota or rate exhaustion, on the provider side or
	// from the local per-candidate budget.
	ErrRateLimited = errors.New("provider rate limited")
	// ErrUnavailable marks transport failures, 5xx responses and empty
	// answers. The next candidate may still succeed.
	ErrUnavailable = errors.New("provider unavailable")
	// ErrRejected marks a request the provider refused outright (bad input,
	// auth failure). Retrying elsewhere will not help.
	ErrRejected = errors.New("provider rejected request")
)

// Image is an inline image attached to a request.
type Image struct {
	MIMEType string
	Data     []byte
}

// Request is one generation request, independent of backend.
type Request struct {
	System string
	Prompt string
	Image  *Image
	// JSON asks the backend for a JSON object answer.
	JSON bool
	// Accept, when set, vets the answer text. A rejected answer counts as
	// an unavailable candidate so the chain moves on.
	Accept func(text string) error
}

// Provider is one backend in the chain.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

var rateLimitMarkers = []string{"quota", "limit", "429", "rate", "resource_exhausted"}

// Classify maps a provider error to an attempt kind. It is the only place
// that looks at error text.
func Classify(err error) resilience.Kind {
	if err == nil {
		return resilience.KindSuccess
	}
	switch {
	case errors.Is(err, ErrRejected):
		return resilience.KindFatal
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrUnavailable):
		return resilience.KindRetryable
	case errors.Is(err, context.DeadlineExceeded):
		return resilience.KindRetryable
	case errors.Is(err, context.Canceled):
		return resilience.KindFatal
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return resilience.KindRetryable
	}

	msg := strings.ToLower(err.Error())
	for _, m := range rateLimitMarkers {
		if strings.Contains(msg, m) {
			return resilience.KindRetryable
		}
	}
	return resilience.KindFatal
}

// Outcome wraps a provider result for the orchestrator.
func Outcome(text string, err error) resilience.Outcome[string] {
	switch Classify(err) {
	case resilience.KindSuccess:
		return resilience.Success(text)
	case resilience.KindRetryable:
		return resilience.Retryable[string](err)
	default:
		return resilience.Fatal[string](err)
	}
}

// statusError turns a non-2xx HTTP status into a classified error.
func statusError(status int, body string) error {
	body = strings.TrimSpace(body)
	if len(body) > 300 {
		body = body[:300]
	}
	switch {
	case status == 429:
		return fmt.Errorf("%w (HTTP %d): %s", ErrRateLimited, status, body)
	case status >= 500:
		return fmt.Errorf("%w (HTTP %d): %s", ErrUnavailable, status, body)
	default:
		return fmt.Errorf("%w (HTTP %d): %s", ErrRejected, status, body)
	}
}
