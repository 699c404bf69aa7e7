package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agrisense/agrisensed/internal/advisor"
	"github.com/agrisense/agrisensed/internal/edge"
	"github.com/agrisense/agrisensed/internal/notify"
	"github.com/agrisense/agrisensed/internal/rules"
)

type chatRequest struct {
	Question string `json:"question" validate:"required,max=4000"`
	Language string `json:"language" validate:"max=40"`
}

type recommendRequest struct {
	Moisture        *float64 `json:"moisture" validate:"required,gte=0,lte=100"`
	Temperature     *float64 `json:"temperature" validate:"required,gte=-60,lte=70"`
	PH              *float64 `json:"ph" validate:"required,gte=0,lte=14"`
	NutrientLevel   string   `json:"nutrient_level" validate:"required"`
	CropType        string   `json:"crop_type" validate:"max=80"`
	Location        string   `json:"location" validate:"max=120"`
	WeatherForecast string   `json:"weather_forecast" validate:"max=1000"`
	Language        string   `json:"language" validate:"max=40"`
}

type diagnoseRequest struct {
	PhotoDataURI string `json:"photo_data_uri" validate:"required,startswith=data:"`
	CropType     string `json:"crop_type" validate:"required,max=80"`
}

type notificationRequest struct {
	Title string `json:"title" validate:"required,max=120"`
	Body  string `json:"body" validate:"required,max=1000"`
	Icon  string `json:"icon" validate:"max=16"`
	URL   string `json:"url" validate:"omitempty,startswith=/"`
}

type syncRequest struct {
	ID      string          `json:"id" validate:"required,max=128"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

type notificationList struct {
	Notifications []notify.Record   `json:"notifications"`
	Unread        int               `json:"unread"`
	Permission    notify.Permission `json:"permission"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		ans, err := deps.Advisor.Ask(r.Context(), advisor.ChatInput{
			Question: req.Question,
			Language: req.Language,
		})
		if err != nil {
			advisorError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ans)
	}
}

func handleRecommend(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req recommendRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		tier, err := rules.ParseNutrientTier(req.NutrientLevel)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "nutrient_level: %v", err)
			return
		}
		recs, err := deps.Advisor.Recommend(r.Context(), advisor.RecommendInput{
			Snapshot: rules.Snapshot{
				Moisture:    *req.Moisture,
				Temperature: *req.Temperature,
				PH:          *req.PH,
				Nutrient:    tier,
			},
			Crop:            req.CropType,
			Location:        req.Location,
			WeatherForecast: req.WeatherForecast,
			Language:        req.Language,
		})
		if err != nil {
			advisorError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, recs)
	}
}

func handleDiagnose(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req diagnoseRequest
		if !decodeBody(w, r, maxPhotoBodySize, &req) {
			return
		}
		res, err := deps.Advisor.Diagnose(r.Context(), advisor.DiagnoseInput{
			PhotoDataURI: req.PhotoDataURI,
			Crop:         req.CropType,
		})
		if err != nil {
			advisorError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func advisorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, advisor.ErrInvalidInput):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, context.DeadlineExceeded):
		httpError(w, http.StatusGatewayTimeout, "api_error", "request timed out")
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func handleListNotifications(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.Notifications.List(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing notifications: %v", err)
			return
		}
		unread, err := deps.Notifications.UnreadCount(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "counting unread: %v", err)
			return
		}
		if records == nil {
			records = []notify.Record{}
		}
		writeJSON(w, http.StatusOK, notificationList{
			Notifications: records,
			Unread:        unread,
			Permission:    deps.Notifications.Permission(),
		})
	}
}

func handleAddNotification(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req notificationRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		rec, err := deps.Notifications.Add(r.Context(), notify.Draft{
			Title: req.Title,
			Body:  req.Body,
			Icon:  req.Icon,
			URL:   req.URL,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "adding notification: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	}
}

func handleMarkRead(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Notifications.MarkAllRead(r.Context()); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "marking read: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleClearNotifications(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Notifications.ClearAll(r.Context()); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "clearing notifications: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleRequestPermission(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		perm, err := deps.Notifications.RequestPermission(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "requesting permission: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"permission": perm})
	}
}

func handlePush(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Edge == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "edge intermediary not configured")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxPushBodySize)
		defer r.Body.Close()
		data, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading push payload: %v", err)
			return
		}
		rec, err := deps.Edge.Push(r.Context(), data)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "delivering push: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	}
}

func handleEnqueueSync(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Edge == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "edge intermediary not configured")
			return
		}
		var req syncRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		tag := chi.URLParam(r, "tag")
		added, err := deps.Edge.Enqueue(r.Context(), tag, req.ID, req.Payload)
		if err != nil {
			edgeError(w, err)
			return
		}
		status := http.StatusAccepted
		if !added {
			status = http.StatusOK
		}
		writeJSON(w, status, map[string]any{"tag": tag, "id": req.ID, "queued": added})
	}
}

func handleReplaySync(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Edge == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "edge intermediary not configured")
			return
		}
		rep, err := deps.Edge.Sync(r.Context(), chi.URLParam(r, "tag"))
		if err != nil {
			edgeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

func handlePeriodicSync(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Edge == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "edge intermediary not configured")
			return
		}
		if err := deps.Edge.PeriodicSync(r.Context(), chi.URLParam(r, "tag")); err != nil {
			edgeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func edgeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, edge.ErrUnknownTag):
		httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
	case errors.Is(err, edge.ErrSyncDisabled):
		httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
	case errors.Is(err, edge.ErrInvalidSyncItem):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, edge.ErrNetwork):
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}
