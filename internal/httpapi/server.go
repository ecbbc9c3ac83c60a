package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ivlasau/digestd/internal/auth"
	"github.com/ivlasau/digestd/internal/models"
	"github.com/ivlasau/digestd/internal/service"
)

// DigestStore is the slice of the digest repository the API needs.
type DigestStore interface {
	ListForUser(ctx context.Context, userID string) ([]models.Digest, error)
	GetForUser(ctx context.Context, id, userID string) (*models.Digest, error)
	Create(ctx context.Context, digest *models.Digest) error
	Update(ctx context.Context, digest *models.Digest, sourceIdentifiers []string) error
	Delete(ctx context.Context, id, userID string) error
	Toggle(ctx context.Context, id, userID string) error
	TryMarkInProgress(ctx context.Context, id string) (bool, error)
}

// RunHistory exposes the run ledger for the history endpoint.
type RunHistory interface {
	ListByDigest(ctx context.Context, digestID string, limit int) ([]models.RunLog, error)
}

// UserStore resolves authenticated Telegram identities to user records.
type UserStore interface {
	GetOrCreateByTelegramID(ctx context.Context, telegramUserID int64, username *string) (*models.User, error)
}

// DigestRunner executes a digest synchronously for the manual trigger.
type DigestRunner interface {
	Run(ctx context.Context, digestID string, sinceOverride *time.Time) service.Result
}

// InitDataValidator verifies Telegram Mini App login payloads.
type InitDataValidator interface {
	Validate(initData string, now time.Time) (*auth.Identity, error)
}

type Server struct {
	digests   DigestStore
	runs      RunHistory
	users     UserStore
	runner    DigestRunner
	validator InitDataValidator
	limiter   *userLimiter
	logger    *zap.SugaredLogger
}

func NewServer(
	digests DigestStore,
	runs RunHistory,
	users UserStore,
	runner DigestRunner,
	validator InitDataValidator,
	logger *zap.SugaredLogger,
) *Server {
	return &Server{
		digests:   digests,
		runs:      runs,
		users:     users,
		runner:    runner,
		validator: validator,
		limiter:   newUserLimiter(defaultRatePerSecond, defaultBurst),
		logger:    logger,
	}
}

// Router assembles the HTTP surface. Everything under /api requires a valid
// Telegram initData login; /health does not.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)

		r.Route("/digests", func(r chi.Router) {
			r.Get("/", s.handleListDigests)
			r.Post("/", s.handleCreateDigest)

			r.Route("/{digestID}", func(r chi.Router) {
				r.Get("/", s.handleGetDigest)
				r.Put("/", s.handleUpdateDigest)
				r.Delete("/", s.handleDeleteDigest)
				r.Post("/toggle", s.handleToggleDigest)
				r.Post("/run-now", s.handleRunNow)
				r.Get("/runs", s.handleListRuns)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
