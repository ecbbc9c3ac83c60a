package httpapi

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ivlasau/digestd/internal/models"
)

const (
	defaultRatePerSecond = 5
	defaultBurst         = 10
)

type contextKey string

const userContextKey contextKey = "user"

// userFromContext returns the authenticated user set by the auth middleware.
func userFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userContextKey).(*models.User)
	return user, ok
}

// authenticate validates the Telegram initData credential carried in the
// Authorization header ("tma <initData>") and attaches the resolved user to
// the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, initData, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "tma") || initData == "" {
			respondError(w, http.StatusUnauthorized, "missing credentials")
			return
		}

		identity, err := s.validator.Validate(initData, time.Now())
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		user, err := s.users.GetOrCreateByTelegramID(r.Context(), identity.TelegramUserID, identity.Username)
		if err != nil {
			s.logger.Errorw("failed to resolve user", "telegram_user_id", identity.TelegramUserID, "error", err)
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userLimiter keeps one token bucket per user.
type userLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newUserLimiter(rps rate.Limit, burst int) *userLimiter {
	return &userLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *userLimiter) allow(userID string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.limiters[userID] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userFromContext(r.Context())
		if !ok {
			respondError(w, http.StatusUnauthorized, "missing credentials")
			return
		}
		if !s.limiter.allow(user.ID) {
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
