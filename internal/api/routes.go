// Package api mounts the tutor's HTTP surface: public health and token routes,
// and the JWT-protected /api/v1/tutor routes.
package api

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/academia-ai/tutor/internal/api/handlers"
	apmiddleware "github.com/academia-ai/tutor/internal/api/middleware"
	domainauth "github.com/academia-ai/tutor/internal/domain/auth"
	"github.com/academia-ai/tutor/internal/domain/tutor"
	pkgauth "github.com/academia-ai/tutor/pkg/auth"
)

// Deps are the services the router exposes. Auth, A2A and AgentCard are
// optional; their routes are only mounted when set.
type Deps struct {
	DB        *sql.DB
	Tutor     *tutor.Tutor
	Documents handlers.DocumentStore
	Auth      domainauth.AuthService
	Signer    *pkgauth.Signer

	// A2A serves agent JSON-RPC at /a2a; AgentCard is served at AgentCardPath.
	A2A           http.Handler
	AgentCard     http.Handler
	AgentCardPath string
}

// NewRouter creates the chi router with every route.
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (runs on all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// ===== PUBLIC ROUTES (no auth required) =====

	var pinger handlers.Pinger
	if deps.DB != nil {
		pinger = deps.DB
	}
	var checker handlers.ProviderChecker
	if deps.Tutor != nil {
		checker = deps.Tutor
	}
	r.Get("/health", handlers.Health(pinger, checker))

	if deps.Auth != nil {
		authHandler := handlers.NewAuthHandler(deps.Auth)
		r.Post("/auth/token", authHandler.Login) // POST /auth/token
	}

	if deps.AgentCard != nil && deps.AgentCardPath != "" {
		r.Handle(deps.AgentCardPath, deps.AgentCard)
	}

	// ===== PROTECTED ROUTES (Bearer token required) =====

	authn := apmiddleware.Auth(deps.Signer)

	if deps.A2A != nil {
		r.With(authn).Handle("/a2a", deps.A2A)
	}

	tutorHandler := handlers.NewTutorHandler(deps.Tutor)
	documentHandler := handlers.NewDocumentHandler(deps.Tutor, deps.Documents)

	r.Route("/api/v1/tutor", func(r chi.Router) {
		r.Use(authn)

		r.Get("/catalog", tutorHandler.Catalog)     // GET /api/v1/tutor/catalog
		r.Put("/model", tutorHandler.SetModel)      // PUT /api/v1/tutor/model
		r.Post("/questions", tutorHandler.Ask)      // POST /api/v1/tutor/questions
		r.Post("/questions/stream", tutorHandler.AskStream)
		r.Post("/tests", tutorHandler.GenerateTest) // POST /api/v1/tutor/tests
		r.Post("/assignments", tutorHandler.CompleteAssignment)
		r.Post("/improve", tutorHandler.Improve)
		r.Get("/history", tutorHandler.History)
		r.Delete("/history", tutorHandler.ResetHistory)

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", documentHandler.Upload)       // POST /api/v1/tutor/documents
			r.Get("/", documentHandler.List)          // GET /api/v1/tutor/documents
			r.Delete("/{id}", documentHandler.Delete) // DELETE /api/v1/tutor/documents/{id}
		})
	})

	return r
}
