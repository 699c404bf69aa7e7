package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/agrisense/agrisensed/internal/advisor"
	"github.com/agrisense/agrisensed/internal/edge"
	"github.com/agrisense/agrisensed/internal/notify"
	"github.com/agrisense/agrisensed/internal/provider"
	"github.com/agrisense/agrisensed/internal/rules"
	"github.com/agrisense/agrisensed/internal/storage"
)

// --- mocks ---

type fakeAdvisor struct {
	mu   sync.Mutex
	chat advisor.ChatAnswer
	recs advisor.Recommendations
	diag advisor.DiagnosisResult
	err  error

	lastChat  advisor.ChatInput
	lastRecs  advisor.RecommendInput
	lastDiag  advisor.DiagnoseInput
	chatCalls int
	recCalls  int
	diagCalls int
}

func (f *fakeAdvisor) Ask(_ context.Context, in advisor.ChatInput) (advisor.ChatAnswer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCalls++
	f.lastChat = in
	return f.chat, f.err
}

func (f *fakeAdvisor) Recommend(_ context.Context, in advisor.RecommendInput) (advisor.Recommendations, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recCalls++
	f.lastRecs = in
	return f.recs, f.err
}

func (f *fakeAdvisor) Diagnose(_ context.Context, in advisor.DiagnoseInput) (advisor.DiagnosisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.diagCalls++
	f.lastDiag = in
	return f.diag, f.err
}

type fakeEdge struct {
	mu       sync.Mutex
	served   []string
	pushed   [][]byte
	enqueued map[string]json.RawMessage
	syncErr  error
	report   edge.SyncReport
	periodic []string
}

func (e *fakeEdge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	e.served = append(e.served, r.Method+" "+r.URL.Path)
	e.mu.Unlock()
	w.Header().Set(edge.HeaderSource, edge.SourceCache)
	w.Write([]byte("<html>origin</html>"))
}

func (e *fakeEdge) Status(context.Context) (edge.Status, error) {
	return edge.Status{CacheName: edge.CacheName, Installed: true, Active: true, CachedEntries: 6}, nil
}

func (e *fakeEdge) Push(_ context.Context, data []byte) (notify.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pushed = append(e.pushed, data)
	p := edge.ParsePush(data)
	return notify.Record{ID: "push-1", Title: p.Title, Body: p.Body, URL: p.URL}, nil
}

func (e *fakeEdge) Enqueue(_ context.Context, tag, id string, body json.RawMessage) (bool, error) {
	if tag != edge.TagJournalSync {
		return false, fmt.Errorf("%w: %s", edge.ErrUnknownTag, tag)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enqueued == nil {
		e.enqueued = make(map[string]json.RawMessage)
	}
	if _, ok := e.enqueued[id]; ok {
		return false, nil
	}
	e.enqueued[id] = body
	return true, nil
}

func (e *fakeEdge) Sync(_ context.Context, tag string) (edge.SyncReport, error) {
	if tag != edge.TagJournalSync {
		return edge.SyncReport{}, fmt.Errorf("%w: %s", edge.ErrUnknownTag, tag)
	}
	return e.report, e.syncErr
}

func (e *fakeEdge) PeriodicSync(_ context.Context, tag string) error {
	if tag != edge.TagMarketPrices {
		return fmt.Errorf("%w: %s", edge.ErrUnknownTag, tag)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.periodic = append(e.periodic, tag)
	return nil
}

// --- helpers ---

func setupHandler(t *testing.T) (http.Handler, *fakeAdvisor, *notify.Store, *fakeEdge) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	notes := notify.New(store, notify.NewLogAlerter(slog.Default(), notify.PermissionDefault), notify.PermissionDefault)
	if err := notes.ClearAll(context.Background()); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}

	adv := &fakeAdvisor{}
	e := &fakeEdge{}
	h := NewHandler(Deps{
		Advisor:       adv,
		Notifications: notes,
		Edge:          e,
		Metrics:       http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { io.WriteString(w, "agrisense_up 1\n") }),
	})
	return h, adv, notes, e
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var resp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error body %q: %v", w.Body.String(), err)
	}
	return resp.Error.Type, resp.Error.Message
}

// --- tests ---

func TestHealth_ReportsEdgeStatus(t *testing.T) {
	h, _, _, _ := setupHandler(t)
	w := do(h, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Status string      `json:"status"`
		Edge   edge.Status `json:"edge"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.Status != "ok" || !resp.Edge.Active || resp.Edge.CachedEntries != 6 {
		t.Fatalf("unexpected health: %+v", resp)
	}
}

func TestMetrics_Mounted(t *testing.T) {
	h, _, _, _ := setupHandler(t)
	w := do(h, http.MethodGet, "/metrics", "")
	if !strings.Contains(w.Body.String(), "agrisense_up 1") {
		t.Fatalf("metrics handler not mounted: %q", w.Body.String())
	}
}

func TestChat_ReturnsAnswer(t *testing.T) {
	h, adv, _, _ := setupHandler(t)
	adv.chat = advisor.ChatAnswer{Answer: "Sow after the first rain.", Source: advisor.SourceProvider, Candidate: "gemini-2.5-flash"}

	w := do(h, http.MethodPost, "/v1/chat", `{"question":"When should I sow wheat?","language":"Hindi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var ans advisor.ChatAnswer
	if err := json.Unmarshal(w.Body.Bytes(), &ans); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if ans.Source != advisor.SourceProvider || ans.Candidate != "gemini-2.5-flash" {
		t.Fatalf("unexpected answer: %+v", ans)
	}
	if adv.lastChat.Language != "Hindi" {
		t.Fatalf("language not forwarded: %+v", adv.lastChat)
	}
}

func TestChat_MissingQuestion(t *testing.T) {
	h, adv, _, _ := setupHandler(t)
	w := do(h, http.MethodPost, "/v1/chat", `{"language":"Hindi"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	typ, msg := errorBody(t, w)
	if typ != "invalid_request_error" || msg != "question is required" {
		t.Fatalf("unexpected error: %s %q", typ, msg)
	}
	if adv.chatCalls != 0 {
		t.Fatal("advisor must not be called for invalid input")
	}
}

func TestChat_MalformedJSON(t *testing.T) {
	h, _, _, _ := setupHandler(t)
	w := do(h, http.MethodPost, "/v1/chat", `{"question":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestChat_ErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
		wantType string
	}{
		{"invalid input", fmt.Errorf("%w: bad", advisor.ErrInvalidInput), http.StatusBadRequest, "invalid_request_error"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "api_error"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "api_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, adv, _, _ := setupHandler(t)
			adv.err = tc.err
			w := do(h, http.MethodPost, "/v1/chat", `{"question":"hello"}`)
			if w.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, w.Code)
			}
			if typ, _ := errorBody(t, w); typ != tc.wantType {
				t.Fatalf("expected type %s, got %s", tc.wantType, typ)
			}
		})
	}
}

type rejectingProvider struct{}

func (rejectingProvider) Name() string { return "gemini" }

func (rejectingProvider) Generate(context.Context, provider.Request) (string, error) {
	return "", fmt.Errorf("%w (HTTP 401): API key invalid", provider.ErrRejected)
}

func TestChat_RejectedProviderServesOfflineAnswer(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	notes := notify.New(store, nil, notify.PermissionDefault)
	if err := notes.ClearAll(context.Background()); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}

	chain := provider.NewChain(provider.ChainOptions{MaxRounds: 1}, rejectingProvider{})
	adv := advisor.New(chain, rules.New(), provider.Static(true), notes, nil)
	h := NewHandler(Deps{Advisor: adv, Notifications: notes})

	w := do(h, http.MethodPost, "/v1/chat", `{"question":"how to irrigate wheat"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var ans advisor.ChatAnswer
	if err := json.Unmarshal(w.Body.Bytes(), &ans); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if ans.Source != advisor.SourceOffline || ans.Answer == "" {
		t.Fatalf("expected offline answer, got %+v", ans)
	}
	if !strings.Contains(ans.Reason, "HTTP 401") {
		t.Fatalf("reason not kept: %q", ans.Reason)
	}
	if n, _ := notes.UnreadCount(context.Background()); n != 1 {
		t.Fatalf("expected offline notification, got %d unread", n)
	}

	w = do(h, http.MethodPost, "/v1/diagnose", `{"photo_data_uri":"data:text/plain;base64,aGk=","crop_type":"Tomato"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid photo, got %d: %s", w.Code, w.Body.String())
	}
	if typ, _ := errorBody(t, w); typ != "invalid_request_error" {
		t.Fatalf("unexpected error type %s", typ)
	}
}

func TestRecommend_BuildsSnapshot(t *testing.T) {
	h, adv, _, _ := setupHandler(t)
	adv.recs = advisor.Recommendations{
		Recommendations: []rules.Recommendation{{Priority: rules.PriorityHigh, Icon: "💧", Title: "Irrigate Now", Action: "Water today."}},
		Source:          advisor.SourceOffline,
	}

	w := do(h, http.MethodPost, "/v1/recommendations",
		`{"moisture":25,"temperature":31.5,"ph":6.8,"nutrient_level":"medium","crop_type":"Wheat","location":"Punjab"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	want := rules.Snapshot{Moisture: 25, Temperature: 31.5, PH: 6.8, Nutrient: rules.NutrientMedium}
	if adv.lastRecs.Snapshot != want {
		t.Fatalf("snapshot = %+v, want %+v", adv.lastRecs.Snapshot, want)
	}
	if adv.lastRecs.Crop != "Wheat" || adv.lastRecs.Location != "Punjab" {
		t.Fatalf("unexpected input: %+v", adv.lastRecs)
	}
	if !strings.Contains(w.Body.String(), `"source":"offline"`) {
		t.Fatalf("source label missing: %s", w.Body.String())
	}
}

func TestRecommend_MissingSensorFields(t *testing.T) {
	h, adv, _, _ := setupHandler(t)

	w := do(h, http.MethodPost, "/v1/recommendations", `{"moisture":0,"nutrient_level":"Low"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	_, msg := errorBody(t, w)
	if !strings.Contains(msg, "temperature is required") || !strings.Contains(msg, "ph is required") {
		t.Fatalf("unexpected message: %q", msg)
	}
	if strings.Contains(msg, "moisture is required") {
		t.Fatalf("zero moisture is a valid reading: %q", msg)
	}
	if adv.recCalls != 0 {
		t.Fatal("advisor must not be called")
	}
}

func TestRecommend_OutOfRangeAndBadTier(t *testing.T) {
	h, _, _, _ := setupHandler(t)

	w := do(h, http.MethodPost, "/v1/recommendations", `{"moisture":20,"temperature":30,"ph":15,"nutrient_level":"Low"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if _, msg := errorBody(t, w); msg != "ph must be at most 14" {
		t.Fatalf("unexpected message: %q", msg)
	}

	w = do(h, http.MethodPost, "/v1/recommendations", `{"moisture":20,"temperature":30,"ph":6,"nutrient_level":"Very High"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestDiagnose(t *testing.T) {
	h, adv, _, _ := setupHandler(t)
	adv.diag = advisor.DiagnosisResult{
		Diagnosis: rules.Diagnosis{Identification: "Leaf rust", Confidence: 0.8, Severity: "Medium"},
		Source:    advisor.SourceProvider,
	}

	w := do(h, http.MethodPost, "/v1/diagnose", `{"photo_data_uri":"data:image/png;base64,iVBORw0KGgo=","crop_type":"Wheat"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"identification":"Leaf rust"`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	if adv.lastDiag.Crop != "Wheat" {
		t.Fatalf("crop not forwarded: %+v", adv.lastDiag)
	}

	w = do(h, http.MethodPost, "/v1/diagnose", `{"photo_data_uri":"https://example.com/leaf.png","crop_type":"Wheat"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non data URI, got %d", w.Code)
	}
	if adv.diagCalls != 1 {
		t.Fatalf("expected 1 advisor call, got %d", adv.diagCalls)
	}
}

func TestNotifications_Lifecycle(t *testing.T) {
	h, _, _, _ := setupHandler(t)

	w := do(h, http.MethodGet, "/v1/notifications", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"notifications":[]`) {
		t.Fatalf("expected empty list, got %s", w.Body.String())
	}

	w = do(h, http.MethodPost, "/v1/notifications", `{"title":"📈 Price Update","body":"Onion up 3%","url":"/prices"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var rec notify.Record
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if rec.ID == "" || rec.Read || rec.URL != "/prices" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	var list notificationList
	w = do(h, http.MethodGet, "/v1/notifications", "")
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(list.Notifications) != 1 || list.Unread != 1 || list.Permission != notify.PermissionDefault {
		t.Fatalf("unexpected list: %+v", list)
	}

	if w = do(h, http.MethodPost, "/v1/notifications/read", ""); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	w = do(h, http.MethodGet, "/v1/notifications", "")
	json.Unmarshal(w.Body.Bytes(), &list)
	if list.Unread != 0 {
		t.Fatalf("expected 0 unread, got %d", list.Unread)
	}

	if w = do(h, http.MethodDelete, "/v1/notifications", ""); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	w = do(h, http.MethodGet, "/v1/notifications", "")
	json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Notifications) != 0 {
		t.Fatalf("expected empty list after clear, got %d", len(list.Notifications))
	}
}

func TestNotifications_AddValidation(t *testing.T) {
	h, _, _, _ := setupHandler(t)
	w := do(h, http.MethodPost, "/v1/notifications", `{"title":"x","body":"y","url":"https://evil.example"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if _, msg := errorBody(t, w); msg != "url is invalid" {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestNotifications_RequestPermission(t *testing.T) {
	h, _, _, _ := setupHandler(t)
	w := do(h, http.MethodPost, "/v1/notifications/permission", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"permission":"granted"`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestPush_DeliversRawPayload(t *testing.T) {
	h, _, _, e := setupHandler(t)
	w := do(h, http.MethodPost, "/v1/push", "Mandi prices updated")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if len(e.pushed) != 1 || string(e.pushed[0]) != "Mandi prices updated" {
		t.Fatalf("unexpected pushes: %q", e.pushed)
	}
	if !strings.Contains(w.Body.String(), `"body":"Mandi prices updated"`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestSync_EnqueueAndReplay(t *testing.T) {
	h, _, _, e := setupHandler(t)
	e.report = edge.SyncReport{Replayed: 1}

	w := do(h, http.MethodPost, "/v1/sync/sync-journal-entries", `{"id":"entry-1","payload":{"note":"sowed wheat"}}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	w = do(h, http.MethodPost, "/v1/sync/sync-journal-entries", `{"id":"entry-1","payload":{"note":"again"}}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"queued":false`) {
		t.Fatalf("duplicate should be a no-op, got %d: %s", w.Code, w.Body.String())
	}

	w = do(h, http.MethodPost, "/v1/sync/sync-journal-entries/replay", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"replayed":1`) {
		t.Fatalf("unexpected replay: %d %s", w.Code, w.Body.String())
	}
}

func TestSync_Errors(t *testing.T) {
	h, _, _, e := setupHandler(t)

	w := do(h, http.MethodPost, "/v1/sync/nope", `{"id":"a","payload":{}}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown tag, got %d", w.Code)
	}
	w = do(h, http.MethodPost, "/v1/sync/sync-journal-entries", `{"payload":{}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing id, got %d", w.Code)
	}

	e.syncErr = edge.ErrSyncDisabled
	w = do(h, http.MethodPost, "/v1/sync/sync-journal-entries/replay", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestPeriodicSync(t *testing.T) {
	h, _, _, e := setupHandler(t)
	if w := do(h, http.MethodPost, "/v1/periodic-sync/update-market-prices", ""); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if len(e.periodic) != 1 {
		t.Fatalf("expected 1 periodic run, got %d", len(e.periodic))
	}
	if w := do(h, http.MethodPost, "/v1/periodic-sync/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestOriginRoutesGoToEdge(t *testing.T) {
	h, _, _, e := setupHandler(t)
	w := do(h, http.MethodGet, "/prices?crop=wheat", "")
	if w.Code != http.StatusOK || w.Header().Get(edge.HeaderSource) != edge.SourceCache {
		t.Fatalf("expected edge response, got %d %v", w.Code, w.Header())
	}
	do(h, http.MethodPost, "/api/journal", `{}`)
	if len(e.served) != 2 || e.served[0] != "GET /prices" || e.served[1] != "POST /api/journal" {
		t.Fatalf("unexpected edge traffic: %v", e.served)
	}
}

func TestNoEdge_OriginRoutes404(t *testing.T) {
	h := NewHandler(Deps{Advisor: &fakeAdvisor{}})
	if w := do(h, http.MethodGet, "/prices", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := do(h, http.MethodPost, "/v1/push", "x"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}
