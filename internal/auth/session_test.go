package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitushen/netwatch/internal/models"
)

var errBadPassword = errors.New("invalid username or password")

type staticUsers map[string]string

func (u staticUsers) Authenticate(_ context.Context, username, password string) (*models.User, error) {
	if want, ok := u[username]; !ok || want != password {
		return nil, errBadPassword
	}
	return &models.User{ID: 7, Username: username}, nil
}

func newTestManager() *Manager {
	return NewManager(staticUsers{"admin": "secret"}, []byte("0123456789abcdef0123456789abcdef"))
}

// login 返回登录成功后签发的 cookie。
func login(t *testing.T, m *Manager) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	sess, err := m.Login(rec, httptest.NewRequest(http.MethodPost, "/login", nil), "admin", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.UserID != 7 || sess.Username != "admin" {
		t.Fatalf("session = %+v", sess)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != cookieName {
		t.Fatalf("cookies = %+v", cookies)
	}
	return cookies[0]
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	m := newTestManager()
	rec := httptest.NewRecorder()
	_, err := m.Login(rec, httptest.NewRequest(http.MethodPost, "/login", nil), "admin", "nope")
	if !errors.Is(err, errBadPassword) {
		t.Fatalf("err = %v", err)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("failed login issued a cookie")
	}
}

func TestLoadRoundTripsSession(t *testing.T) {
	m := newTestManager()
	cookie := login(t, m)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.AddCookie(cookie)
	sess, err := m.Load(req)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sess != (Session{UserID: 7, Username: "admin"}) {
		t.Fatalf("session = %+v", sess)
	}
}

func TestLoadRejectsMissingAndForgedCookies(t *testing.T) {
	m := newTestManager()
	valid := login(t, m)

	tests := []struct {
		name   string
		cookie *http.Cookie
	}{
		{name: "no cookie"},
		{name: "tampered value", cookie: &http.Cookie{Name: cookieName, Value: valid.Value + "x"}},
		{name: "other key", cookie: func() *http.Cookie {
			other := NewManager(staticUsers{"admin": "secret"}, []byte("ffffffffffffffffffffffffffffffff"))
			return login(t, other)
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			if _, err := m.Load(req); !errors.Is(err, ErrUnauthorised) {
				t.Fatalf("err = %v, want ErrUnauthorised", err)
			}
		})
	}
}

func TestRequire(t *testing.T) {
	m := newTestManager()
	var seen Session
	h := m.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := FromContext(r.Context())
		if !ok {
			t.Error("session missing from context")
		}
		seen = sess
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/devices", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body["error"] != "unauthorised" {
		t.Fatalf("body = %v, err = %v", body, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	req.AddCookie(login(t, m))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || seen.UserID != 7 {
		t.Fatalf("status = %d, session = %+v", rec.Code, seen)
	}
}

func TestLogoutExpiresCookie(t *testing.T) {
	m := newTestManager()
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(login(t, m))
	rec := httptest.NewRecorder()
	if err := m.Logout(rec, req); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("logout cookies = %+v", cookies)
	}
}

func TestFromContextEmpty(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("empty context reported a session")
	}
}
