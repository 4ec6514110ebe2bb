package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/hitushen/netwatch/internal/models"
)

const (
	cookieName  = "netwatch_auth"
	keyUserID   = "uid"
	keyUsername = "user"
	sessionTTL  = 12 * 60 * 60
)

// ErrUnauthorised 表示请求没有有效的登录会话。
var ErrUnauthorised = errors.New("unauthorised")

// Credentials 校验用户名与密码，由 store.Store 实现。
type Credentials interface {
	Authenticate(ctx context.Context, username, password string) (*models.User, error)
}

// Session 为通过校验的登录会话。
type Session struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

// Manager 基于签名 cookie 维护 API 会话。
type Manager struct {
	users   Credentials
	cookies sessions.Store
}

// NewManager 使用会话密钥创建 Manager，cookie 有效期 12 小时。
func NewManager(users Credentials, sessionKey []byte) *Manager {
	cookies := sessions.NewCookieStore(sessionKey)
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   sessionTTL,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
	return &Manager{users: users, cookies: cookies}
}

// Login 校验凭证并签发会话 cookie。
func (m *Manager) Login(w http.ResponseWriter, r *http.Request, username, password string) (Session, error) {
	user, err := m.users.Authenticate(r.Context(), username, password)
	if err != nil {
		return Session{}, err
	}
	cookie, _ := m.cookies.Get(r, cookieName)
	cookie.Values[keyUserID] = user.ID
	cookie.Values[keyUsername] = user.Username
	if err := cookie.Save(r, w); err != nil {
		return Session{}, err
	}
	return Session{UserID: user.ID, Username: user.Username}, nil
}

// Logout 让客户端丢弃会话 cookie。
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) error {
	cookie, _ := m.cookies.Get(r, cookieName)
	cookie.Options.MaxAge = -1
	return cookie.Save(r, w)
}

// Load 从请求 cookie 中还原会话。cookie 缺失、签名无效或内容不完整时返回 ErrUnauthorised。
func (m *Manager) Load(r *http.Request) (Session, error) {
	cookie, err := m.cookies.Get(r, cookieName)
	if err != nil || cookie.IsNew {
		return Session{}, ErrUnauthorised
	}
	id, ok := cookie.Values[keyUserID].(int64)
	if !ok || id <= 0 {
		return Session{}, ErrUnauthorised
	}
	name, _ := cookie.Values[keyUsername].(string)
	return Session{UserID: id, Username: name}, nil
}

// Require 拒绝没有会话的请求，并把会话写入请求上下文。
func (m *Manager) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := m.Load(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}

type sessionKey struct{}

// WithSession 将会话写入上下文。
func WithSession(ctx context.Context, sess Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// FromContext 读取 Require 写入的会话。
func FromContext(ctx context.Context) (Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(Session)
	return sess, ok
}
