// Package httpapi implements the HTTP boundary of the core service.
//
// Callers are identified by the configured auth.Provider (gateway headers or
// a bearer token). Anonymous callers may read; mutations need a user.
//
// Routes:
//
//	GET  /health                                → liveness
//	GET  /api/opportunities                     → list (redacted per viewer)
//	POST /api/opportunities                     → create, stamp and list
//	GET  /api/opportunities/stats               → platform rollup
//	GET  /api/opportunities/{id}                → detail (redacted per viewer)
//	PUT  /api/opportunities/{id}/content        → owner edit, new fingerprint version
//	POST /api/opportunities/{id}/vote           → cast vote
//	GET  /api/opportunities/{id}/vote           → caller's vote
//	GET  /api/opportunities/{id}/comments       → list comments, newest first
//	POST /api/opportunities/{id}/comments       → add comment
//	POST /api/opportunities/{id}/nda            → accept NDA
//	GET  /api/opportunities/{id}/provenance     → provenance log
//	POST /api/opportunities/{id}/verify         → owner-requested verification
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"asirinvest/core-service/internal/auth"
	"asirinvest/core-service/internal/comment"
	"asirinvest/core-service/internal/model"
	"asirinvest/core-service/internal/opportunity"
)

// Handler holds shared dependencies.
type Handler struct {
	svc     *opportunity.Service
	auth    auth.Provider
	version string
	timeout time.Duration
	proxies auth.Proxies
}

// NewHandler returns a configured Handler. timeout bounds each request.
func NewHandler(svc *opportunity.Service, provider auth.Provider, version string, timeout time.Duration) *Handler {
	return &Handler{svc: svc, auth: provider, version: version, timeout: timeout}
}

// WithTrustedProxies sets the proxies whose X-Forwarded-For header is
// believed when recording an NDA origin. By default only the peer counts.
func (h *Handler) WithTrustedProxies(p auth.Proxies) *Handler {
	h.proxies = p
	return h
}

// Routes returns the router with every route and middleware mounted.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if h.timeout > 0 {
		r.Use(middleware.Timeout(h.timeout))
	}

	r.Get("/health", h.health)

	r.Route("/api/opportunities", func(r chi.Router) {
		r.Use(h.authenticate)
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/stats", h.stats)
		r.Get("/trending", h.trending)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.detail)
			r.Put("/content", h.editContent)
			r.Post("/vote", h.castVote)
			r.Get("/vote", h.myVote)
			r.Get("/comments", h.listComments)
			r.Post("/comments", h.addComment)
			r.Post("/nda", h.acceptNDA)
			r.Get("/provenance", h.provenance)
			r.Post("/verify", h.verify)
		})
	})
	return r
}

// authenticate resolves the caller once per request. Bad credentials are
// rejected; absent credentials continue as anonymous.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := h.auth.Authenticate(r.Header)
		if err != nil {
			jsonError(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

// ─── Individual handlers ──────────────────────────────────────────────────────

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	jsonOK(w, map[string]string{
		"status":  "ok",
		"service": "core-service",
		"version": h.version,
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := model.ListQuery{
		Page:    queryInt(r, "page"),
		PerPage: queryInt(r, "per_page"),
		Sector:  r.URL.Query().Get("sector"),
	}
	res, err := h.svc.List(r.Context(), viewer(r), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonOK(w, res)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var body opportunity.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	p := auth.FromContext(r.Context())
	v, err := h.svc.Create(r.Context(), model.User{ID: p.UserID, Username: p.Username}, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonCreated(w, v)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonOK(w, st)
}

func (h *Handler) trending(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Trending(r.Context(), viewer(r), queryInt(r, "limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonOK(w, res)
}

func (h *Handler) detail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	v, err := h.svc.Detail(r.Context(), viewer(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonOK(w, v)
}

func (h *Handler) editContent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	stamp, err := h.svc.EditContent(r.Context(), viewer(r), id, model.ContentEdit{Title: body.Title, Description: body.Description})
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonOK(w, stamp)
}

func (h *Handler) castVote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		VoteType string `json:"vote_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "body must contain vote_type", http.StatusBadRequest)
		return
	}
	snap, err := h.svc.CastVote(r.Context(), viewer(r), id, body.VoteType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonOK(w, snap)
}

func (h *Handler) myVote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	v, err := h.svc.MyVote(r.Context(), viewer(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonOK(w, v)
}

func (h *Handler) listComments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	page, err := h.svc.ListComments(r.Context(), viewer(r), id, comment.Page{
		Limit:  queryInt(r, "limit"),
		Cursor: r.URL.Query().Get("cursor"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonOK(w, page)
}

func (h *Handler) addComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Content     string `json:"content"`
		ClientToken string `json:"client_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	token := body.ClientToken
	if token == "" {
		token = r.Header.Get("Idempotency-Key")
	}
	p := auth.FromContext(r.Context())
	c, err := h.svc.AddComment(r.Context(), model.User{ID: p.UserID, Username: p.Username}, id, body.Content, token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonCreated(w, c)
}

func (h *Handler) acceptNDA(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := h.svc.AcceptNDA(r.Context(), viewer(r), id, h.proxies.Origin(r.RemoteAddr, r.Header.Get(auth.HeaderForwardedFor)))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonOK(w, map[string]any{"accepted_at": a.AcceptedAt})
}

func (h *Handler) provenance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	recs, err := h.svc.Provenance(r.Context(), viewer(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonOK(w, map[string]any{"records": recs})
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	v, err := h.svc.Verify(r.Context(), viewer(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonOK(w, v)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func viewer(r *http.Request) int64 { return auth.FromContext(r.Context()).UserID }

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		jsonError(w, "invalid opportunity id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string) int {
	v, _ := strconv.Atoi(r.URL.Query().Get(key))
	return v
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *model.ValidationError
		te *model.TamperError
	)
	switch {
	case errors.As(err, &ve):
		jsonError(w, ve.Msg, http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		jsonError(w, "opportunity not found", http.StatusNotFound)
	case errors.Is(err, model.ErrUnauthorized):
		jsonError(w, "authentication required", http.StatusUnauthorized)
	case errors.Is(err, model.ErrForbidden):
		jsonError(w, "forbidden", http.StatusForbidden)
	case errors.As(err, &te):
		jsonError(w, "fingerprint mismatch: "+te.Reason, http.StatusConflict)
	default:
		slog.Error("request failed",
			"method", r.Method, "path", r.URL.Path,
			"requestId", middleware.GetReqID(r.Context()), "err", err)
		jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}

func jsonOK(w http.ResponseWriter, v any) { jsonWrite(w, http.StatusOK, v) }

func jsonCreated(w http.ResponseWriter, v any) { jsonWrite(w, http.StatusCreated, v) }

func jsonWrite(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	jsonWrite(w, code, map[string]string{"error": msg})
}
