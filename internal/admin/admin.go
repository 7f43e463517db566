// Package admin serves the index-admin HTTP routes used by the document receiver
package admin

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nainya/lexstore/internal/logger"
	"github.com/nainya/lexstore/internal/metrics"
	"github.com/nainya/lexstore/internal/service"
	"github.com/nainya/lexstore/pkg/history"
)

// maxUpload bounds a posted edition
const maxUpload = 64 << 20

// Handler serves the index-admin routes
type Handler struct {
	svc     *service.Service
	guard   *Guard
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New creates the admin handler. metrics may be nil.
func New(svc *service.Service, guard *Guard, log *logger.Logger, m *metrics.Metrics) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{svc: svc, guard: guard, log: log, metrics: m}
}

// Routes builds the router
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.observe)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(h.guard.Middleware)

	r.Post("/{domain}/", h.upload)
	r.Delete("/{domain}/{idLocal}/", h.purge)
	r.Delete("/{domain}/{idLocal}/{version}", h.removeLatest)
	r.Post("/_unavailable/{domain}/{idLocal}/{version}", h.insertUnavailable)
	r.Put("/_metadata/{domain}/{idLocal}/", h.updateMetadata)
	r.Get("/{domain}/{idLocal}/_history", h.history)
	r.Get("/{domain}/{idLocal}/{version}/_changes", h.changes)
	return r
}

func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		h.log.LogAdminRequest(r.Method, route, code, time.Since(start))
		if h.metrics != nil {
			h.metrics.RecordAdminRequest(route, code)
		}
	})
}

func statusFor(err error) int {
	switch service.Classify(err) {
	case service.ClassNotFound:
		return http.StatusNotFound
	case service.ClassConflict, service.ClassPrecondition:
		return http.StatusConflict
	case service.ClassInvalid:
		return http.StatusUnprocessableEntity
	case service.ClassUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= 500 {
		h.log.AdminLogger(r.URL.Path).Error("admin request failed").
			Str("request_id", middleware.GetReqID(r.Context())).Err(err).Send()
	}
	http.Error(w, err.Error(), code)
}

func reply(w http.ResponseWriter, format string, args ...any) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, format, args...)
}

func replyJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpload))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var v history.DocumentVersion
	if err := json.Unmarshal(body, &v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if v.Cover == nil {
		http.Error(w, "edition has no cover", http.StatusUnprocessableEntity)
		return
	}
	if v.Doc().Domain != domain {
		http.Error(w, "Inconsistent document domain", http.StatusUnprocessableEntity)
		return
	}
	res, err := h.svc.Upload(r.Context(), domain, &v)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reply(w, "Uploaded to /%s/%s/%s", domain, res.Doc.IDLocal, res.Version)
}

func (h *Handler) purge(w http.ResponseWriter, r *http.Request) {
	doc := h.svc.Doc(chi.URLParam(r, "domain"), chi.URLParam(r, "idLocal"))
	existed, err := h.svc.Purge(r.Context(), doc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !existed {
		reply(w, "Seems like someone deleted it already")
		return
	}
	reply(w, "\nAll versions of /%s/%s/ deleted", doc.Domain, doc.IDLocal)
}

func (h *Handler) removeLatest(w http.ResponseWriter, r *http.Request) {
	doc := h.svc.Doc(chi.URLParam(r, "domain"), chi.URLParam(r, "idLocal"))
	version := chi.URLParam(r, "version")
	if err := h.svc.RemoveVersion(r.Context(), doc, version); err != nil {
		h.fail(w, r, err)
		return
	}
	reply(w, "Deleted /%s/%s/%s", doc.Domain, doc.IDLocal, version)
}

type unavailableBody struct {
	DateDocument string `json:"date_document"`
	After        string `json:"after"`
}

func (h *Handler) insertUnavailable(w http.ResponseWriter, r *http.Request) {
	doc := h.svc.Doc(chi.URLParam(r, "domain"), chi.URLParam(r, "idLocal"))
	version := chi.URLParam(r, "version")
	var body unavailableBody
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	date, err := time.Parse(time.DateOnly, body.DateDocument)
	if err != nil {
		http.Error(w, fmt.Sprintf("date_document: %v", err), http.StatusUnprocessableEntity)
		return
	}
	if err := h.svc.InsertUnavailable(r.Context(), doc, version, date, body.After); err != nil {
		h.fail(w, r, err)
		return
	}
	reply(w, "Accepted /%s/%s/%s", doc.Domain, doc.IDLocal, version)
}

func (h *Handler) updateMetadata(w http.ResponseWriter, r *http.Request) {
	doc := h.svc.Doc(chi.URLParam(r, "domain"), chi.URLParam(r, "idLocal"))
	query := r.URL.Query()
	for key := range query {
		if key != "in_force" {
			http.Error(w, fmt.Sprintf("Attribute %s cannot yet be changed.", key), http.StatusNotImplemented)
			return
		}
	}
	if query.Has("in_force") {
		value, err := service.ParseInForce(query.Get("in_force"))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if _, err := h.svc.SetInForce(r.Context(), doc, value); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	reply(w, "\nUpdated /%s/%s/", doc.Domain, doc.IDLocal)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	doc := h.svc.Doc(chi.URLParam(r, "domain"), chi.URLParam(r, "idLocal"))
	dh, err := h.svc.History(r.Context(), doc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	replyJSON(w, dh)
}

func (h *Handler) changes(w http.ResponseWriter, r *http.Request) {
	doc := h.svc.Doc(chi.URLParam(r, "domain"), chi.URLParam(r, "idLocal"))
	changes, err := h.svc.Changes(r.Context(), doc, chi.URLParam(r, "version"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if changes == nil {
		changes = []history.Change{}
	}
	replyJSON(w, changes)
}
