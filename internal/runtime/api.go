package runtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/loqalabs/loqa-caption/internal/captioner"
	"github.com/loqalabs/loqa-caption/internal/eventstore"
	"github.com/loqalabs/loqa-caption/internal/health"
	"github.com/loqalabs/loqa-caption/internal/language"
	"github.com/loqalabs/loqa-caption/internal/stt"
	"github.com/loqalabs/loqa-caption/internal/svcerr"
	"github.com/loqalabs/loqa-caption/internal/translate"
)

type StatusChecker interface {
	Check(ctx context.Context) health.Status
}

type SessionView interface {
	Snapshot(sessionID string) (captioner.Snapshot, bool)
}

type EventLister interface {
	ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]eventstore.Event, error)
}

// API is the HTTP surface of the runtime. Optional collaborators may be nil.
type API struct {
	Table         *language.Table
	Translator    translate.Translator
	Transcriber   stt.Transcriber
	Prober        StatusChecker
	Sessions      SessionView
	Events        EventLister
	Metrics       http.Handler
	Ready         func() bool
	DefaultSource language.Code
	DefaultTarget language.Code
	Logger        *slog.Logger
}

type translateRequest struct {
	Text   string        `json:"text"`
	Source language.Code `json:"source"`
	Target language.Code `json:"target"`
}

type transcribeRequest struct {
	AudioBase64  string        `json:"audio_base64"`
	MIMEType     string        `json:"mime_type"`
	LanguageHint language.Code `json:"language_hint"`
}

type eventView struct {
	ID        int64           `json:"id"`
	TraceID   string          `json:"trace_id,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt string          `json:"created_at"`
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.handleHealth)
	r.Get("/readyz", a.handleReady)
	if a.Metrics != nil {
		r.Handle("/metrics", a.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/languages", a.handleLanguages)
		r.Get("/languages/{code}", a.handleLanguage)
		r.Get("/services/status", a.handleStatus)
		r.Post("/translate", a.handleTranslate)
		r.Post("/transcribe", a.handleTranscribe)
		r.Get("/sessions/{id}", a.handleSession)
		r.Get("/sessions/{id}/events", a.handleSessionEvents)
	})
	return r
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *API) handleReady(w http.ResponseWriter, _ *http.Request) {
	if a.Ready == nil || a.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (a *API) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"languages": a.Table.Options()})
}

func (a *API) handleLanguage(w http.ResponseWriter, r *http.Request) {
	code := language.Code(chi.URLParam(r, "code"))
	names, ok := a.Table.Lookup(code)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown language "+string(code), "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": code, "name": names.Name, "native_name": names.NativeName})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Prober.Check(r.Context()))
}

func (a *API) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if req.Source == "" {
		req.Source = a.DefaultSource
	}
	if req.Target == "" {
		req.Target = a.DefaultTarget
	}
	for _, code := range []language.Code{req.Source, req.Target} {
		if !a.Table.Valid(code) {
			// the prompt falls back to a generic language name
			a.logger().Debug("translating with unconfigured language", slog.String("code", string(code)))
		}
	}
	text, err := a.Translator.Translate(r.Context(), req.Text, req.Source, req.Target)
	if err != nil {
		a.writeServiceError(w, "translate", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (a *API) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if req.AudioBase64 != "" {
		if _, err := base64.StdEncoding.DecodeString(req.AudioBase64); err != nil {
			writeError(w, http.StatusBadRequest, "audio_base64 is not valid base64", "")
			return
		}
		if strings.TrimSpace(req.MIMEType) == "" {
			writeError(w, http.StatusBadRequest, "mime_type is required", "")
			return
		}
	}
	transcript, err := a.Transcriber.Transcribe(r.Context(), stt.Request{
		AudioBase64:  req.AudioBase64,
		MIMEType:     req.MIMEType,
		LanguageHint: req.LanguageHint,
	})
	if err != nil {
		a.writeServiceError(w, "transcribe", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transcript": transcript})
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if a.Sessions == nil {
		writeError(w, http.StatusNotFound, "session not found", "")
		return
	}
	snap, ok := a.Sessions.Snapshot(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found", "")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "")
			return
		}
		limit = n
	}
	views := []eventView{}
	if a.Events != nil {
		events, err := a.Events.ListSessionEvents(r.Context(), id, limit)
		if err != nil {
			a.logger().Error("failed to list session events", slog.String("error", err.Error()), slog.String("session_id", id))
			writeError(w, http.StatusInternalServerError, "failed to list session events", "")
			return
		}
		for _, e := range events {
			v := eventView{ID: e.ID, TraceID: e.TraceID, Type: e.Type, CreatedAt: e.CreatedAt.UTC().Format(timeLayout)}
			if json.Valid(e.Payload) {
				v.Payload = e.Payload
			}
			views = append(views, v)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "events": views})
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// writeServiceError maps client error kinds onto HTTP statuses.
func (a *API) writeServiceError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	kind := ""
	var svcErr *svcerr.Error
	if errors.As(err, &svcErr) {
		kind = svcErr.Kind.String()
	}
	switch {
	case errors.Is(err, svcerr.ErrConfig):
		status = http.StatusServiceUnavailable
	case errors.Is(err, svcerr.ErrTransport), errors.Is(err, svcerr.ErrAPI), errors.Is(err, svcerr.ErrFormat):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	a.logger().Warn(op+" failed", slog.String("error", err.Error()), slog.String("kind", kind))
	writeError(w, status, err.Error(), kind)
}

func (a *API) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, kind string) {
	body := map[string]string{"error": message}
	if kind != "" {
		body["kind"] = kind
	}
	writeJSON(w, status, body)
}
