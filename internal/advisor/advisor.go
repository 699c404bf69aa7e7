// Package advisor answers chat, recommendation and diagnosis requests. It
// asks the provider chain first and falls back to the offline rule engine
// when the network is down or no provider can answer.
package advisor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agrisense/agrisensed/internal/notify"
	"github.com/agrisense/agrisensed/internal/provider"
	"github.com/agrisense/agrisensed/internal/resilience"
	"github.com/agrisense/agrisensed/internal/rules"
)

var (
	// ErrNetworkUnavailable means no provider was attempted because the
	// device is offline.
	ErrNetworkUnavailable = errors.New("network unavailable")
	// ErrInvalidInput wraps every request validation failure.
	ErrInvalidInput = errors.New("invalid input")
)

// Source labels where an answer came from.
type Source string

const (
	SourceProvider Source = "provider"
	SourceOffline  Source = "offline"
)

const maxProviderRecommendations = 5

// Generator runs a request through the provider fallback chain.
// Implemented by *provider.Chain.
type Generator interface {
	Generate(ctx context.Context, req provider.Request) (string, resilience.Result, error)
	Len() int
}

// Connectivity reports whether the providers are reachable.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// Notifier records notifications. Implemented by *notify.Store.
type Notifier interface {
	Add(ctx context.Context, d notify.Draft) (notify.Record, error)
}

// Observer is told the outcome of every request (metrics).
type Observer interface {
	AnswerServed(op string, source Source)
}

type ChatInput struct {
	Question string
	Language string
}

type ChatAnswer struct {
	Answer    string `json:"answer"`
	Source    Source `json:"source"`
	Candidate string `json:"candidate,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type RecommendInput struct {
	Snapshot        rules.Snapshot
	Crop            string
	Location        string
	WeatherForecast string
	Language        string
}

type Recommendations struct {
	Recommendations []rules.Recommendation `json:"recommendations"`
	Source          Source                 `json:"source"`
	Candidate       string                 `json:"candidate,omitempty"`
	Reason          string                 `json:"reason,omitempty"`
}

type DiagnoseInput struct {
	PhotoDataURI string
	Crop         string
}

type DiagnosisResult struct {
	rules.Diagnosis
	Source    Source `json:"source"`
	Candidate string `json:"candidate,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Advisor composes the provider chain, the rule engine, connectivity state
// and the notification store.
type Advisor struct {
	gen      Generator
	rules    *rules.Engine
	conn     Connectivity
	notes    Notifier
	observer Observer
	now      func() time.Time
	logger   *slog.Logger
}

// New creates an Advisor. gen, notes and observer may be nil.
func New(gen Generator, engine *rules.Engine, conn Connectivity, notes Notifier, observer Observer) *Advisor {
	if engine == nil {
		engine = rules.New()
	}
	if conn == nil {
		conn = provider.Static(true)
	}
	return &Advisor{
		gen:      gen,
		rules:    engine,
		conn:     conn,
		notes:    notes,
		observer: observer,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// Ask answers a free-form farming question.
func (a *Advisor) Ask(ctx context.Context, in ChatInput) (ChatAnswer, error) {
	q := strings.TrimSpace(in.Question)
	if q == "" {
		return ChatAnswer{}, fmt.Errorf("%w: question is required", ErrInvalidInput)
	}
	lang := languageOrDefault(in.Language)

	text, cand, err := a.generate(ctx, provider.Request{
		System: chatSystem,
		Prompt: chatPrompt(q, lang),
	})
	if err == nil {
		a.served("chat", SourceProvider)
		return ChatAnswer{Answer: strings.TrimSpace(text), Source: SourceProvider, Candidate: cand}, nil
	}
	if ctx.Err() != nil || !isDegraded(err) {
		return ChatAnswer{}, err
	}

	a.fallback(ctx, "chat", err)
	return ChatAnswer{Answer: a.rules.Answer(q, a.now()), Source: SourceOffline, Reason: err.Error()}, nil
}

// Recommend turns a sensor snapshot into prioritized actions.
func (a *Advisor) Recommend(ctx context.Context, in RecommendInput) (Recommendations, error) {
	if in.Snapshot.Nutrient == "" {
		return Recommendations{}, fmt.Errorf("%w: nutrient level is required", ErrInvalidInput)
	}
	if in.Crop == "" {
		in.Crop = "General"
	}
	if in.Location == "" {
		in.Location = "Unknown"
	}
	if in.WeatherForecast == "" {
		in.WeatherForecast = "No forecast available"
	}
	in.Language = languageOrDefault(in.Language)

	var parsed []rules.Recommendation
	_, cand, err := a.generate(ctx, provider.Request{
		System: recommendSystem,
		Prompt: recommendPrompt(in),
		JSON:   true,
		Accept: func(text string) error {
			recs, err := parseRecommendations(text)
			if err != nil {
				return err
			}
			parsed = recs
			return nil
		},
	})
	if err == nil {
		a.served("recommend", SourceProvider)
		return Recommendations{Recommendations: parsed, Source: SourceProvider, Candidate: cand}, nil
	}
	if ctx.Err() != nil || !isDegraded(err) {
		return Recommendations{}, err
	}

	a.fallback(ctx, "recommend", err)
	return Recommendations{
		Recommendations: a.rules.Recommend(in.Snapshot, in.Crop),
		Source:          SourceOffline,
		Reason:          err.Error(),
	}, nil
}

// Diagnose identifies a crop problem from a photo.
func (a *Advisor) Diagnose(ctx context.Context, in DiagnoseInput) (DiagnosisResult, error) {
	crop := strings.TrimSpace(in.Crop)
	if crop == "" {
		return DiagnosisResult{}, fmt.Errorf("%w: crop type is required", ErrInvalidInput)
	}
	img, err := ParseDataURI(in.PhotoDataURI)
	if err != nil {
		return DiagnosisResult{}, err
	}

	var parsed rules.Diagnosis
	_, cand, err := a.generate(ctx, provider.Request{
		System: diagnoseSystem,
		Prompt: diagnosePrompt(crop),
		Image:  img,
		JSON:   true,
		Accept: func(text string) error {
			d, err := parseDiagnosis(text)
			if err != nil {
				return err
			}
			parsed = d
			return nil
		},
	})
	if err == nil {
		a.served("diagnose", SourceProvider)
		return DiagnosisResult{Diagnosis: parsed, Source: SourceProvider, Candidate: cand}, nil
	}
	if ctx.Err() != nil || !isDegraded(err) {
		return DiagnosisResult{}, err
	}

	a.fallback(ctx, "diagnose", err)
	return DiagnosisResult{Diagnosis: a.rules.Diagnose(crop), Source: SourceOffline, Reason: err.Error()}, nil
}

// generate returns the answer and the winning candidate, or an error that
// isDegraded classifies.
func (a *Advisor) generate(ctx context.Context, req provider.Request) (string, string, error) {
	if a.gen == nil || a.gen.Len() == 0 {
		return "", "", resilience.ErrNoCandidates
	}
	if !a.conn.Online(ctx) {
		return "", "", ErrNetworkUnavailable
	}
	text, res, err := a.gen.Generate(ctx, req)
	if err != nil {
		return "", "", err
	}
	return text, res.Candidate.ID, nil
}

// isDegraded reports whether err calls for the offline answer rather than
// an error response. Only invalid input and caller cancellation surface.
func isDegraded(err error) bool {
	if errors.Is(err, ErrInvalidInput) || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrNetworkUnavailable) ||
		errors.Is(err, resilience.ErrExhausted) ||
		errors.Is(err, resilience.ErrFatal) ||
		errors.Is(err, resilience.ErrNoCandidates)
}

func (a *Advisor) fallback(ctx context.Context, op string, reason error) {
	a.logger.Warn("serving offline answer", "op", op, "reason", reason)
	a.served(op, SourceOffline)
	if a.notes == nil {
		return
	}
	if _, err := a.notes.Add(ctx, notify.Draft{
		Title: "🤖 AI Advisor (offline)",
		Body:  offlineNoteBody(reason),
		Icon:  "🤖",
		URL:   "/advisor",
	}); err != nil {
		a.logger.Warn("recording offline notification", "error", err)
	}
}

func offlineNoteBody(reason error) string {
	if errors.Is(reason, ErrNetworkUnavailable) {
		return "You are offline. Showing built-in farming guidance until the connection returns."
	}
	if errors.Is(reason, resilience.ErrFatal) {
		return "The AI service rejected the request. Showing built-in farming guidance for now."
	}
	return "The AI service is busy. Showing built-in farming guidance for now."
}

func (a *Advisor) served(op string, src Source) {
	if a.observer != nil {
		a.observer.AnswerServed(op, src)
	}
}

func languageOrDefault(lang string) string {
	if strings.TrimSpace(lang) == "" {
		return "English"
	}
	return strings.TrimSpace(lang)
}

// ParseDataURI decodes a base64 data URI of the form
// data:<mime>;base64,<payload>.
func ParseDataURI(uri string) (*provider.Image, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(uri), "data:")
	if !ok {
		return nil, fmt.Errorf("%w: photo must be a data URI", ErrInvalidInput)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("%w: data URI has no payload", ErrInvalidInput)
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return nil, fmt.Errorf("%w: data URI must be base64 encoded", ErrInvalidInput)
	}
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("%w: unsupported media type %q", ErrInvalidInput, mime)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding photo: %v", ErrInvalidInput, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: photo is empty", ErrInvalidInput)
	}
	return &provider.Image{MIMEType: mime, Data: data}, nil
}

// stripFence removes a markdown code fence some models wrap JSON in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func parseRecommendations(text string) ([]rules.Recommendation, error) {
	body := stripFence(text)
	var recs []rules.Recommendation
	if err := json.Unmarshal([]byte(body), &recs); err != nil {
		var wrapped struct {
			Recommendations []rules.Recommendation `json:"recommendations"`
		}
		if err2 := json.Unmarshal([]byte(body), &wrapped); err2 != nil {
			return nil, fmt.Errorf("decoding recommendations: %w", err)
		}
		recs = wrapped.Recommendations
	}
	if len(recs) == 0 {
		return nil, errors.New("no recommendations in answer")
	}
	for i, r := range recs {
		if !validPriority(r.Priority) || strings.TrimSpace(r.Title) == "" || strings.TrimSpace(r.Action) == "" {
			return nil, fmt.Errorf("recommendation %d is incomplete", i)
		}
	}
	if len(recs) > maxProviderRecommendations {
		recs = recs[:maxProviderRecommendations]
	}
	return recs, nil
}

func parseDiagnosis(text string) (rules.Diagnosis, error) {
	var raw struct {
		Identification    string  `json:"identification"`
		Confidence        float64 `json:"confidence"`
		Description       string  `json:"description"`
		OrganicTreatment  string  `json:"organic_treatment"`
		OrganicTreatment2 string  `json:"organicTreatment"`
		Severity          string  `json:"severity"`
	}
	if err := json.Unmarshal([]byte(stripFence(text)), &raw); err != nil {
		return rules.Diagnosis{}, fmt.Errorf("decoding diagnosis: %w", err)
	}
	if strings.TrimSpace(raw.Identification) == "" {
		return rules.Diagnosis{}, errors.New("diagnosis has no identification")
	}
	if raw.Confidence < 0 || raw.Confidence > 1 {
		return rules.Diagnosis{}, fmt.Errorf("confidence %v out of range", raw.Confidence)
	}
	if !validPriority(rules.Priority(raw.Severity)) {
		return rules.Diagnosis{}, fmt.Errorf("unknown severity %q", raw.Severity)
	}
	treatment := raw.OrganicTreatment
	if treatment == "" {
		treatment = raw.OrganicTreatment2
	}
	return rules.Diagnosis{
		Identification:   raw.Identification,
		Confidence:       raw.Confidence,
		Description:      raw.Description,
		OrganicTreatment: treatment,
		Severity:         raw.Severity,
	}, nil
}
