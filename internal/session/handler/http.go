package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"warehouse-service/backend/internal/server/middleware"
	"warehouse-service/backend/internal/session/domain"
	"warehouse-service/backend/internal/session/repository"
	"warehouse-service/backend/internal/session/service"
)

// Handler serves the session API under /v1/sessions.
type Handler struct {
	auth        *service.AuthService
	coordinator *service.Coordinator
	cookies     middleware.Cookies
	devLogin    bool
	logger      *slog.Logger
}

// NewHandler returns a Handler. devLogin enables the password-less development login route.
func NewHandler(auth *service.AuthService, coordinator *service.Coordinator, cookies middleware.Cookies, devLogin bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		auth:        auth,
		coordinator: coordinator,
		cookies:     cookies,
		devLogin:    devLogin,
		logger:      logger.With("component", "session_handler"),
	}
}

// Routes mounts the public routes on r and the gated ones behind gate.
func (h *Handler) Routes(r chi.Router, gate func(http.Handler) http.Handler) {
	r.Post("/login", h.handleLogin)
	if h.devLogin {
		r.Get("/dev-login", h.handleDevLogin)
	}
	r.Group(func(r chi.Router) {
		r.Use(gate)
		r.Get("/me", h.handleMe)
		r.Post("/manifest-access/{sessionId}", h.handleClaim)
		r.Post("/manifest-access/{sessionId}/takeover/{conflictingSessionId}", h.handleTakeOver)
		r.Post("/release/{sessionId}", h.handleRelease)
		r.Post("/logout/{sessionId}", h.handleLogout)
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	SessionID    int64   `json:"sessionId"`
	Username     string  `json:"username"`
	AccessToken  string  `json:"accessToken,omitempty"`
	RefreshToken string  `json:"refreshToken,omitempty"`
	PowerUnit    *string `json:"powerUnit,omitempty"`
	ManifestDate *string `json:"manifestDate,omitempty"`
}

type manifestRequest struct {
	PowerUnit    string `json:"powerUnit"`
	ManifestDate string `json:"manifestDate"`
}

type releaseRequest struct {
	Username     string `json:"username"`
	PowerUnit    string `json:"powerUnit"`
	ManifestDate string `json:"manifestDate"`
}

type claimResponse struct {
	Message                string `json:"message"`
	Conflict               bool   `json:"conflict"`
	ConflictType           string `json:"conflictType,omitempty"`
	ConflictingSessionID   int64  `json:"conflictingSessionId,omitempty"`
	ConflictingSessionUser string `json:"conflictingSessionUser,omitempty"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pair, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeSession(w, pair)
}

func (h *Handler) handleDevLogin(w http.ResponseWriter, r *http.Request) {
	var sessionID int64
	if v := r.URL.Query().Get("sessionId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id < 0 {
			middleware.WriteError(w, http.StatusBadRequest, "invalid sessionId")
			return
		}
		sessionID = id
	}
	pair, err := h.auth.DevLogin(r.Context(), r.URL.Query().Get("username"), sessionID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeSession(w, pair)
}

func (h *Handler) writeSession(w http.ResponseWriter, pair *service.TokenPair) {
	h.cookies.Set(w, pair)
	middleware.WriteJSON(w, http.StatusOK, sessionResponse{
		SessionID:    pair.SessionID,
		Username:     pair.Username,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.GetIdentity(r.Context())
	middleware.WriteJSON(w, http.StatusOK, sessionResponse{
		SessionID:    id.SessionID,
		Username:     id.Username,
		PowerUnit:    id.Session.PowerUnit,
		ManifestDate: id.Session.ManifestDate,
	})
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownSession(w, r)
	if !ok {
		return
	}
	var req manifestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.coordinator.Claim(r.Context(), claimRequest(id, req))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeClaimResult(w, res)
}

func (h *Handler) handleTakeOver(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownSession(w, r)
	if !ok {
		return
	}
	victimID, err := strconv.ParseInt(chi.URLParam(r, "conflictingSessionId"), 10, 64)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid conflictingSessionId")
		return
	}
	var req manifestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.coordinator.TakeOver(r.Context(), claimRequest(id, req), victimID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeClaimResult(w, res)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.GetIdentity(r.Context())
	target, err := pathSessionID(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid sessionId")
		return
	}
	var body releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req := service.ReleaseRequest{
		SessionID:    target,
		Username:     body.Username,
		PowerUnit:    body.PowerUnit,
		ManifestDate: body.ManifestDate,
	}
	full := strings.TrimSpace(body.Username) != "" && strings.TrimSpace(body.PowerUnit) != "" && strings.TrimSpace(body.ManifestDate) != ""
	switch {
	case full && !strings.EqualFold(strings.TrimSpace(body.Username), id.Username):
		middleware.WriteError(w, http.StatusForbidden, "cannot release another driver's session")
		return
	case !full && target != id.SessionID:
		middleware.WriteError(w, http.StatusForbidden, "session id does not match the authenticated session")
		return
	case !full:
		req.Username = id.Username
	}
	res, err := h.coordinator.ReleaseManifest(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if res.Released {
		middleware.WriteJSON(w, http.StatusOK, map[string]any{"message": "Manifest released", "released": true})
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"message": "Session released", "deleted": res.Deleted})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownSession(w, r)
	if !ok {
		return
	}
	if err := h.auth.Logout(r.Context(), id.Username, id.SessionID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.cookies.Clear(w)
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// ownSession returns the caller's identity, rejecting requests whose {sessionId} is another session.
func (h *Handler) ownSession(w http.ResponseWriter, r *http.Request) (*middleware.Identity, bool) {
	id, ok := middleware.GetIdentity(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	sessionID, err := pathSessionID(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid sessionId")
		return nil, false
	}
	if sessionID != id.SessionID {
		middleware.WriteError(w, http.StatusForbidden, "session id does not match the authenticated session")
		return nil, false
	}
	return id, true
}

func pathSessionID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "sessionId"), 10, 64)
}

func claimRequest(id *middleware.Identity, req manifestRequest) service.ClaimRequest {
	return service.ClaimRequest{
		SessionID:    id.SessionID,
		Username:     id.Username,
		AccessToken:  id.AccessToken,
		RefreshToken: id.RefreshToken,
		Resource:     domain.NewResource(req.PowerUnit, req.ManifestDate),
	}
}

func writeClaimResult(w http.ResponseWriter, res *service.ClaimResult) {
	if !res.Conflict {
		middleware.WriteJSON(w, http.StatusOK, claimResponse{Message: "Manifest access granted"})
		return
	}
	resp := claimResponse{
		Conflict:               true,
		ConflictType:           string(res.ConflictType),
		ConflictingSessionID:   res.HolderID,
		ConflictingSessionUser: res.HolderUsername,
	}
	if res.ConflictType == domain.ConflictSameUser {
		resp.Message = "This manifest is open in another of your sessions"
		middleware.WriteJSON(w, http.StatusOK, resp)
		return
	}
	resp.Message = "This manifest is being worked by another driver"
	middleware.WriteJSON(w, http.StatusForbidden, resp)
}

// writeServiceError maps service and repository errors to HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidResource),
		errors.Is(err, service.ErrInvalidTakeover),
		errors.Is(err, service.ErrInvalidUsername):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrUnauthorized),
		errors.Is(err, repository.ErrSessionNotFound):
		middleware.WriteError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrTakeoverDenied):
		middleware.WriteError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrDriverNotFound):
		middleware.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrClaimContended):
		middleware.WriteError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("session request failed", "error", err)
		middleware.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
