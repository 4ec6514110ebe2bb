package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"

	"github.com/hitushen/netwatch/internal/auth"
	"github.com/hitushen/netwatch/internal/config"
	"github.com/hitushen/netwatch/internal/realtime"
	"github.com/hitushen/netwatch/internal/scanner"
	"github.com/hitushen/netwatch/internal/store"
)

const csrfHeader = "X-CSRF-Token"

// Server 负责协调 HTTP 路由与业务逻辑。
type Server struct {
	cfg     *config.Config
	store   *store.Store
	auth    *auth.Manager
	scanner *scanner.Manager
	broker  *realtime.Broker
}

// New 创建 Server。扫描管理器与事件代理由调用方持有并负责关闭。
func New(cfg *config.Config, st *store.Store, mgr *scanner.Manager, broker *realtime.Broker) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		auth:    auth.NewManager(st, cfg.SessionKey),
		scanner: mgr,
		broker:  broker,
	}
}

// Handler 返回根 HTTP 处理器。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))

	csrfMiddleware := csrf.Protect(
		s.cfg.CSRFKey,
		csrf.Secure(false),
		csrf.Path("/"),
		csrf.RequestHeader(csrfHeader),
		csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeMessage(w, "invalid csrf token", http.StatusForbidden)
		})),
	)

	r.Group(func(pub chi.Router) {
		pub.Post("/login", s.handleLogin)
		pub.Get("/api/session", s.handleSession)
	})

	r.Group(func(priv chi.Router) {
		priv.Use(s.auth.Require)
		priv.Post("/logout", s.handleLogout)

		priv.Route("/api", func(api chi.Router) {
			api.Get("/events", s.streamEvents)
			api.Get("/ws", s.streamWebSocket)

			api.Get("/sites", s.apiListSites)
			api.Post("/sites", s.apiCreateSite)
			api.Delete("/sites/{siteID}", s.apiDeleteSite)
			api.Get("/sites/{siteID}/devices", s.apiListSiteDevices)

			api.Get("/devices", s.apiListDevices)
			api.Post("/devices", s.apiCreateDevice)
			api.Get("/devices/{deviceID}", s.apiGetDevice)
			api.Put("/devices/{deviceID}", s.apiUpdateDevice)
			api.Delete("/devices/{deviceID}", s.apiDeleteDevice)
			api.Post("/devices/{deviceID}/check", s.apiCheckDevice)

			api.Post("/scan", s.apiScanFleet)
			api.Get("/scans", s.apiListScans)
		})
	})

	return csrfMiddleware(r)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	sess, err := s.auth.Login(w, r, strings.TrimSpace(body.Username), body.Password)
	if err != nil {
		if errors.Is(err, store.ErrInvalidCredentials) {
			writeMessage(w, err.Error(), http.StatusUnauthorized)
			return
		}
		writeErr(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	_ = s.auth.Logout(w, r)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(csrfHeader, csrf.Token(r))
	sess, err := s.auth.Load(r)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"userId":        sess.UserID,
		"username":      sess.Username,
	})
}

func parseIDParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return id, nil
}

func intParam(raw string, fallback int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return fallback
}

// storeStatus 将存储层错误映射为 HTTP 状态码。
func storeStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeErr(w http.ResponseWriter, err error, status int) {
	writeMessage(w, err.Error(), status)
}

func writeMessage(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
