// Package httpapi provides the HTTP surface: the operator authorization
// flow, play history, and token-guarded admin endpoints.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	zlog "github.com/rs/zerolog/log"

	"github.com/auxbox/auxbox/internal/app/credential"
	"github.com/auxbox/auxbox/internal/app/notification"
	"github.com/auxbox/auxbox/internal/infra/store"
)

// Handler serves the HTTP API.
type Handler struct {
	store      *store.Store
	credential *credential.Manager
	notifier   *notification.Manager
	adminToken string

	mu           sync.Mutex
	pendingState string
}

// New creates an HTTP API handler.
func New(st *store.Store, cred *credential.Manager, notifier *notification.Manager, adminToken string) *Handler {
	return &Handler{
		store:      st,
		credential: cred,
		notifier:   notifier,
		adminToken: adminToken,
	}
}

// Router builds the route tree. The WebSocket handler is mounted at /ws.
func (h *Handler) Router(wsHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/login", h.login)
	r.Get("/callback", h.callback)
	r.Get("/history", h.history)
	r.Get("/status", h.status)

	r.Handle("/ws", wsHandler)

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Get("/users", h.listUsers)
		r.Post("/users/{username}/access", h.setAccess)
		r.Delete("/users/{username}", h.deleteUser)
		r.Post("/active", h.setActive)
		r.Post("/reset-served", h.resetServed)
		r.Post("/reset-played", h.resetPlayed)
		r.Delete("/history", h.purgeHistory)
		r.Delete("/credential", h.purgeCredential)
	})

	return r
}

// requireAdmin guards operator endpoints with a shared token.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.adminToken == "" || r.Header.Get("X-Admin-Token") != h.adminToken {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	state := credential.NewState()
	h.mu.Lock()
	h.pendingState = state
	h.mu.Unlock()

	http.Redirect(w, r, h.credential.AuthURL(state), http.StatusFound)
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	expected := h.pendingState
	h.pendingState = ""
	h.mu.Unlock()

	if expected == "" || r.URL.Query().Get("state") != expected {
		writeError(w, http.StatusBadRequest, "state mismatch")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing code")
		return
	}

	if err := h.credential.Exchange(r.Context(), code); err != nil {
		zlog.Error().Msgf("authorization failed: %v", err)
		writeError(w, http.StatusBadGateway, "authorization failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"authorized": true})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 50)
	if pageSize > 200 {
		pageSize = 200
	}

	entries, total, err := h.store.ListHistory(r.Context(), page, pageSize)
	if err != nil {
		zlog.Error().Msgf("history query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries":  entries,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	active, err := h.store.IsActive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":     active,
		"authorized": h.credential.Authorized(),
		"viewers":    h.notifier.SubscriberCount(),
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) setAccess(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	var body struct {
		Granted bool `json:"granted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	if err := h.store.SetAccess(r.Context(), username, body.Granted); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	zlog.Info().Msgf("access updated: user=%s granted=%v", username, body.Granted)
	h.notifier.Broadcast(notification.New(notification.TypeAccessUpdated, map[string]any{
		"username": username,
		"granted":  body.Granted,
	}))
	writeJSON(w, http.StatusOK, map[string]any{"username": username, "granted": body.Granted})
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if err := h.store.DeleteUser(r.Context(), username); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": username})
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	if err := h.store.SetActive(r.Context(), body.Active); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	zlog.Info().Msgf("jukebox active=%v", body.Active)
	writeJSON(w, http.StatusOK, map[string]any{"active": body.Active})
}

func (h *Handler) resetServed(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ResetServed(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) resetPlayed(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ResetPlayed(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) purgeHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.store.PurgeHistory(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) purgeCredential(w http.ResponseWriter, r *http.Request) {
	if err := h.credential.Purge(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Error().Msgf("response encode failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
