package httpapi

import (
	"context"

	"github.com/dmitrijs2005/spots/internal/logging"
	"github.com/dmitrijs2005/spots/internal/server/backups"
	"github.com/dmitrijs2005/spots/internal/server/models"
	"github.com/dmitrijs2005/spots/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type userSvc interface {
	Register(ctx context.Context, username, password string) (*models.User, error)
	Login(ctx context.Context, username, password string) (*services.Session, error)
	Authenticate(ctx context.Context, token string) (string, error)
	Me(ctx context.Context, userID string) (*models.User, error)
}

type identitySvc interface {
	PublicKey(ctx context.Context, userID string) ([]byte, error)
	Sign(ctx context.Context, userID string, message []byte) ([]byte, error)
	Rotate(ctx context.Context, userID string) (*models.IdentityKey, error)
	Backup(ctx context.Context, userID string) (*backups.Backup, error)
}

// Pinger reports whether a dependency is ready to serve.
type Pinger func(ctx context.Context) error

type Handler struct {
	users      userSvc
	identities identitySvc
	logger     logging.Logger
	ready      []Pinger
}

func NewHandler(us userSvc, is identitySvc, l logging.Logger, ready ...Pinger) *Handler {
	return &Handler{
		users:      us,
		identities: is,
		logger:     l.With("module", "http_api"),
		ready:      ready,
	}
}

// Router builds the chi route tree.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/register", h.register)
		api.Post("/login", h.login)
		api.Post("/logout", h.logout)

		api.Group(func(p chi.Router) {
			p.Use(h.authenticate)
			p.Get("/me", h.me)
			p.Route("/identity", func(id chi.Router) {
				id.Get("/", h.publicKey)
				id.Post("/sign", h.sign)
				id.Post("/rotate", h.rotate)
				id.Post("/backup", h.backup)
			})
		})
	})

	return r
}
