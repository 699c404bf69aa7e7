package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/agrisense/agrisensed/internal/advisor"
	"github.com/agrisense/agrisensed/internal/edge"
	"github.com/agrisense/agrisensed/internal/notify"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxPhotoBodySize   = 12 << 20 // base64 photos
	maxPushBodySize    = 64 << 10
)

// Advisor answers farming questions with provider or rule-based output.
type Advisor interface {
	Ask(ctx context.Context, in advisor.ChatInput) (advisor.ChatAnswer, error)
	Recommend(ctx context.Context, in advisor.RecommendInput) (advisor.Recommendations, error)
	Diagnose(ctx context.Context, in advisor.DiagnoseInput) (advisor.DiagnosisResult, error)
}

// Notifications is the persisted in-app notification log.
type Notifications interface {
	List(ctx context.Context) ([]notify.Record, error)
	UnreadCount(ctx context.Context) (int, error)
	Add(ctx context.Context, d notify.Draft) (notify.Record, error)
	MarkAllRead(ctx context.Context) error
	ClearAll(ctx context.Context) error
	Permission() notify.Permission
	RequestPermission(ctx context.Context) (notify.Permission, error)
}

// Edge is the caching intermediary in front of the origin app.
type Edge interface {
	http.Handler
	Status(ctx context.Context) (edge.Status, error)
	Push(ctx context.Context, data []byte) (notify.Record, error)
	Enqueue(ctx context.Context, tag, id string, body json.RawMessage) (bool, error)
	Sync(ctx context.Context, tag string) (edge.SyncReport, error)
	PeriodicSync(ctx context.Context, tag string) error
}

type Deps struct {
	Advisor       Advisor
	Notifications Notifications
	Edge          Edge         // optional; when nil origin routes return 404
	Metrics       http.Handler // optional
}

// NewHandler builds the daemon's loopback HTTP surface. Anything not matched
// by a /v1 route is served by the edge intermediary.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat", handleChat(deps))
		r.Post("/recommendations", handleRecommend(deps))
		r.Post("/diagnose", handleDiagnose(deps))

		r.Get("/notifications", handleListNotifications(deps))
		r.Post("/notifications", handleAddNotification(deps))
		r.Delete("/notifications", handleClearNotifications(deps))
		r.Post("/notifications/read", handleMarkRead(deps))
		r.Post("/notifications/permission", handleRequestPermission(deps))

		r.Post("/push", handlePush(deps))
		r.Post("/sync/{tag}", handleEnqueueSync(deps))
		r.Post("/sync/{tag}/replay", handleReplaySync(deps))
		r.Post("/periodic-sync/{tag}", handlePeriodicSync(deps))
	})

	if deps.Edge != nil {
		r.Handle("/*", deps.Edge)
	}

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"status": "ok"}
		if deps.Edge != nil {
			st, err := deps.Edge.Status(r.Context())
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "edge status: %v", err)
				return
			}
			resp["edge"] = st
		}
		if deps.Notifications != nil {
			resp["notification_permission"] = deps.Notifications.Permission()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeBody reads a size-limited JSON body into dst and validates it.
// It writes the 400 response itself and reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body exceeds %d bytes", tooLarge.Limit)
			return false
		}
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
		case "gte", "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param()))
		case "lte", "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(msgs, "; ")
}
