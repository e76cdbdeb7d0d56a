package middleware

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"
)

func newTestAuth() *Auth {
	return NewAuth(log.New(io.Discard, "", 0), "123:bot", "token-secret", "admin-key")
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := UserID(r.Context())
		io.WriteString(w, id)
	})
}

func initData(botToken string, authDate time.Time) string {
	params := url.Values{}
	params.Set("user", `{"id":777,"first_name":"Ana"}`)
	params.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	params.Set("query_id", "AAE")
	params.Set("hash", SignInitData(botToken, params))
	return params.Encode()
}

func TestIdentify(t *testing.T) {
	a := newTestAuth()
	h := a.Identify(echoUser())

	tests := []struct {
		name   string
		header map[string]string
		want   string
	}{
		{"telegram", map[string]string{"X-Telegram-Init-Data": initData("123:bot", time.Now())}, "777"},
		{"telegram wrong bot", map[string]string{"X-Telegram-Init-Data": initData("999:other", time.Now())}, ""},
		{"telegram stale", map[string]string{"X-Telegram-Init-Data": initData("123:bot", time.Now().Add(-48*time.Hour))}, ""},
		{"bearer", map[string]string{"Authorization": "Bearer " + SignToken("token-secret", "user-1")}, "user-1"},
		{"forged bearer", map[string]string{"Authorization": "Bearer user-1.deadbeef"}, ""},
		{"anonymous", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Body.String() != tt.want {
				t.Fatalf("user = %q, want %q", rec.Body.String(), tt.want)
			}
		})
	}
}

func TestRequireUser(t *testing.T) {
	h := newTestAuth().RequireUser(echoUser())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous code = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+SignToken("token-secret", "u"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "u" {
		t.Fatalf("code = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestRequireAdmin(t *testing.T) {
	h := newTestAuth().RequireAdmin(echoUser())

	for key, want := range map[string]int{"admin-key": http.StatusOK, "wrong": http.StatusUnauthorized, "": http.StatusUnauthorized} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if key != "" {
			req.Header.Set("X-Admin-Key", key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("key %q: code = %d, want %d", key, rec.Code, want)
		}
	}
}
