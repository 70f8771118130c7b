package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/topmanuais/api/internal/platform/httpx"
	"github.com/topmanuais/api/internal/platform/requestctx"
	"github.com/topmanuais/api/internal/services"
)

const (
	// SessionCookieName carries the anonymous shopper session.
	SessionCookieName = "tm_session"
	// SessionHeaderName lets API clients without cookies pass the session explicitly.
	SessionHeaderName = "X-Shopper-Session"

	defaultSessionCookieTTL = 7 * 24 * time.Hour
)

// SessionResolver finds or creates shopper sessions.
type SessionResolver interface {
	GetOrCreate(ctx context.Context, id string) (*services.ShopperSession, bool, error)
}

// SessionCookieOptions controls the session cookie attributes.
type SessionCookieOptions struct {
	Secure bool
	MaxAge time.Duration
}

type shopperSessionKey struct{}

// SessionMiddleware attaches the shopper session to the request context, issuing a new
// one when the request carries none or an unknown ID.
func SessionMiddleware(sessions SessionResolver, opts SessionCookieOptions) func(http.Handler) http.Handler {
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = defaultSessionCookieTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if sessions == nil {
				httpx.WriteError(ctx, w, httpx.NewError("session_unavailable", "shopper sessions are unavailable", http.StatusServiceUnavailable))
				return
			}

			session, created, err := sessions.GetOrCreate(ctx, requestedSessionID(r))
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("session_unavailable", "could not start a shopper session", http.StatusServiceUnavailable))
				return
			}
			if created {
				http.SetCookie(w, &http.Cookie{
					Name:     SessionCookieName,
					Value:    session.ID(),
					Path:     "/",
					MaxAge:   int(maxAge.Seconds()),
					HttpOnly: true,
					Secure:   opts.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			w.Header().Set(SessionHeaderName, session.ID())

			ctx = requestctx.WithSessionID(ctx, session.ID())
			ctx = context.WithValue(ctx, shopperSessionKey{}, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestedSessionID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(SessionHeaderName)); id != "" {
		return id
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

func shopperSessionFrom(ctx context.Context) (*services.ShopperSession, bool) {
	session, ok := ctx.Value(shopperSessionKey{}).(*services.ShopperSession)
	return session, ok && session != nil
}

// requireSession writes an error and returns false when no session is attached.
func requireSession(w http.ResponseWriter, r *http.Request) (*services.ShopperSession, bool) {
	session, ok := shopperSessionFrom(r.Context())
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("session_required", "shopper session is required", http.StatusUnauthorized))
		return nil, false
	}
	return session, true
}
