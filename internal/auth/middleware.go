package auth

import (
	"context"
	"net/http"
)

// LoginCookieName is the cookie that remembers who logged in.
const LoginCookieName = "username"

type contextKey string

const usernameKey contextKey = "username"

// OptionalAuth reads the login cookie and, when it carries a valid token,
// stores the username in the request context. Missing, expired or forged
// cookies leave the request anonymous; nothing is ever rejected here.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if username, err := usernameFromCookie(r, tokens); err == nil {
				r = r.WithContext(WithUsername(r.Context(), username))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithUsername returns a copy of ctx carrying username.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameKey, username)
}

// UsernameFromContext returns the logged-in username, or ("", false) for an
// anonymous request.
func UsernameFromContext(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(usernameKey).(string)
	return username, ok && username != ""
}

// SetLoginCookie issues a token for username and sets it as the login cookie.
func SetLoginCookie(w http.ResponseWriter, tokens *TokenService, username string, secure bool) error {
	token, err := tokens.Generate(username)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     LoginCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(tokens.TTL().Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// ClearLoginCookie tells the browser to drop the login cookie.
func ClearLoginCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     LoginCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func usernameFromCookie(r *http.Request, tokens *TokenService) (string, error) {
	cookie, err := r.Cookie(LoginCookieName)
	if err != nil {
		return "", err
	}
	return tokens.Validate(cookie.Value)
}
