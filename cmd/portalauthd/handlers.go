package main

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	portalauth "github.com/veritaskey/portalauth"
	"github.com/veritaskey/portalauth/metrics/export/prometheus"
	"github.com/veritaskey/portalauth/middleware"
	"go.uber.org/zap"
)

type server struct {
	engine       *portalauth.Engine
	logger       *zap.Logger
	trustedToken string
}

func newRouter(s *server) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.requestContext)

	r.Post("/api/login", s.handleLogin)
	r.Post("/api/token/refresh", s.handleRefresh)

	// reachable with the restricted token issued on a 2FA_REQUIRED login
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSecondFactor(s.engine))
		r.Post("/api/2fa/verify", s.handleVerifySecondFactor)
		r.Post("/api/2fa/push", s.handleInitiatePush)
		r.Get("/api/2fa/push/{requestID}", s.handleCheckPushStatus)
	})

	// fully authenticated sessions only
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireFull(s.engine))
		r.Post("/api/2fa/setup", s.handleBeginEnrollment)
		r.Post("/api/2fa/setup/verify", s.handleCompleteEnrollment)
		r.Get("/api/devices", s.handleListDevices)
		r.Delete("/api/devices/{deviceID}", s.handleRevokeDevice)
		r.Get("/api/devices/sync", s.handleSyncDevice)
		r.Get("/api/push/pending", s.handlePendingPush)
		r.Post("/api/push/{requestID}/respond", s.handleRespondPush)
	})

	r.Method(http.MethodGet, "/metrics", prometheus.NewPrometheusExporter(s.engine).Handler())

	return r
}

// requestContext moves transport facts (caller IP, user agent, trusted
// channel header) into the context values the engine reads.
func (s *server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ctx = portalauth.WithClientIP(ctx, host)
		}
		if ua := r.UserAgent(); ua != "" {
			ctx = portalauth.WithUserAgent(ctx, ua)
		}
		if s.trustedToken != "" && r.Header.Get("X-Trusted-Channel") == s.trustedToken {
			ctx = portalauth.WithTrustedChannel(ctx)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Outcome        string `json:"outcome"`
	AccessToken    string `json:"access_token,omitempty"`
	RefreshToken   string `json:"refresh_token,omitempty"`
	ScopedToken    string `json:"scoped_token,omitempty"`
	DeviceEnrolled bool   `json:"device_enrolled"`
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.engine.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	resp := loginResponse{
		Outcome:        result.Outcome.String(),
		ScopedToken:    result.ScopedToken,
		DeviceEnrolled: result.DeviceEnrolled,
	}
	if result.Tokens != nil {
		resp.AccessToken = result.Tokens.AccessToken
		resp.RefreshToken = result.Tokens.RefreshToken
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tokens, err := s.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
	})
}

func (s *server) handleVerifySecondFactor(w http.ResponseWriter, r *http.Request) {
	auth, ok := middleware.AuthResultFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tokens, err := s.engine.VerifySecondFactor(r.Context(), auth.UserID, req.Code)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
	})
}

func (s *server) handleBeginEnrollment(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())

	var req struct {
		DeviceName string `json:"device_name"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	setup, err := s.engine.BeginEnrollment(r.Context(), auth.UserID, req.DeviceName)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"secret": setup.Secret,
		"uri":    setup.URI,
	})
}

func (s *server) handleCompleteEnrollment(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	device, err := s.engine.CompleteEnrollment(r.Context(), auth.UserID, req.Code)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (s *server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())

	devices, err := s.engine.ListDevices(r.Context(), auth.UserID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *server) handleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())

	deviceID := chi.URLParam(r, "deviceID")
	if err := s.engine.RevokeDevice(r.Context(), auth.UserID, deviceID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSyncDevice(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())

	sync, err := s.engine.SyncDevice(r.Context(), auth.UserID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"secret": sync.Secret,
		"name":   sync.Name,
	})
}

func (s *server) handleInitiatePush(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())

	req, err := s.engine.InitiatePush(r.Context(), auth.UserID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"request_id": req.RequestID,
		"status":     req.Status.String(),
	})
}

func (s *server) handleCheckPushStatus(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())

	requestID := chi.URLParam(r, "requestID")
	result, err := s.engine.CheckPushStatus(r.Context(), auth.UserID, requestID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	resp := map[string]string{"status": result.Status.String()}
	if result.Tokens != nil {
		resp["access_token"] = result.Tokens.AccessToken
		resp["refresh_token"] = result.Tokens.RefreshToken
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handlePendingPush(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())

	req, err := s.engine.PendingPush(r.Context(), auth.UserID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if req == nil {
		writeJSON(w, http.StatusOK, map[string]any{"pending": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending":      true,
		"request_id":   req.RequestID,
		"origin_ip":    req.OriginIP,
		"origin_agent": req.OriginAgent,
		"created_at":   req.CreatedAt,
	})
}

func (s *server) handleRespondPush(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())

	var req struct {
		Approve bool `json:"approve"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	decision := portalauth.DecisionDeny
	if req.Approve {
		decision = portalauth.DecisionApprove
	}

	requestID := chi.URLParam(r, "requestID")
	if err := s.engine.RespondPush(r.Context(), auth.UserID, requestID, decision); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, portalauth.ErrInvalidCredentials),
		errors.Is(err, portalauth.ErrInvalidCode),
		errors.Is(err, portalauth.ErrRefreshInvalid),
		errors.Is(err, portalauth.ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, portalauth.ErrLoginRateLimited),
		errors.Is(err, portalauth.ErrCodeRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, portalauth.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, portalauth.ErrNotFound),
		errors.Is(err, portalauth.ErrNoPendingDevice),
		errors.Is(err, portalauth.ErrNoActiveDevice):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, portalauth.ErrSetupConflict),
		errors.Is(err, portalauth.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, portalauth.ErrPushExpired):
		writeError(w, http.StatusGone, err.Error())
	default:
		s.logger.Error("engine failure", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
