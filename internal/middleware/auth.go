package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

type TelegramUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type contextKey struct{}

// UserID returns the caller identified by Auth.Identify, if any.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

type Auth struct {
	botToken    string
	tokenSecret string
	adminKey    string
	maxAge      time.Duration
	logger      *log.Logger
	now         func() time.Time
}

func NewAuth(logger *log.Logger, botToken, tokenSecret, adminKey string) *Auth {
	return &Auth{
		botToken:    botToken,
		tokenSecret: tokenSecret,
		adminKey:    adminKey,
		maxAge:      24 * time.Hour,
		logger:      logger,
		now:         time.Now,
	}
}

// Identify attaches the caller id when the request carries valid Telegram
// initData or a signed bearer token. Anonymous requests pass through.
func (a *Auth) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := a.identify(r); ok {
			r = r.WithContext(WithUserID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser rejects requests without an identified caller.
func (a *Auth) RequireUser(next http.Handler) http.Handler {
	return a.Identify(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserID(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// RequireAdmin accepts X-Admin-Key or a bearer token equal to ADMIN_API_KEY.
func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Admin-Key")
		if key == "" {
			key = bearer(r)
		}
		if a.adminKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(a.adminKey)) != 1 {
			a.logger.Printf("Admin access denied for %s %s", r.Method, r.URL.Path)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Auth) identify(r *http.Request) (string, bool) {
	if initData := r.Header.Get("X-Telegram-Init-Data"); initData != "" {
		user, ok := a.validateInitData(initData)
		if !ok {
			a.logger.Printf("Invalid Telegram initData on %s", r.URL.Path)
			return "", false
		}
		return strconv.FormatInt(user.ID, 10), true
	}
	if token := bearer(r); token != "" {
		return VerifyToken(a.tokenSecret, token)
	}
	return "", false
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(h[len("Bearer "):])
}

// validateInitData checks the Telegram WebApp signature: the data check
// string is keyed by HMAC-SHA256("WebAppData", bot token).
func (a *Auth) validateInitData(initData string) (*TelegramUser, bool) {
	if a.botToken == "" {
		return nil, false
	}
	params, err := url.ParseQuery(initData)
	if err != nil {
		return nil, false
	}
	hash := params.Get("hash")
	if hash == "" {
		return nil, false
	}

	if authDate, err := strconv.ParseInt(params.Get("auth_date"), 10, 64); err == nil && a.maxAge > 0 {
		if a.now().Sub(time.Unix(authDate, 0)) > a.maxAge {
			return nil, false
		}
	}

	expected := SignInitData(a.botToken, params)
	if !hmac.Equal([]byte(expected), []byte(hash)) {
		return nil, false
	}

	var user TelegramUser
	if err := json.Unmarshal([]byte(params.Get("user")), &user); err != nil || user.ID == 0 {
		return nil, false
	}
	return &user, true
}

// SignInitData computes the hash Telegram attaches to initData.
func SignInitData(botToken string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params.Get(k))
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	h := hmac.New(sha256.New, secret.Sum(nil))
	h.Write([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}

// SignToken issues "<user>.<hex hmac>" bearer tokens.
func SignToken(secret, userID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(userID))
	return userID + "." + hex.EncodeToString(mac.Sum(nil))
}

func VerifyToken(secret, token string) (string, bool) {
	if secret == "" {
		return "", false
	}
	i := strings.LastIndexByte(token, '.')
	if i <= 0 {
		return "", false
	}
	userID := token[:i]
	if !hmac.Equal([]byte(SignToken(secret, userID)), []byte(token)) {
		return "", false
	}
	return userID, true
}
