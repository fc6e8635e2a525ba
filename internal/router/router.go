package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"vibecards-backend/internal/handlers"
	"vibecards-backend/internal/middleware"
)

type Handlers struct {
	Auth   *handlers.AuthHandler
	Decks  *handlers.DeckHandler
	Study  *handlers.StudyHandler
	Health *handlers.HealthHandler
}

type Limiters struct {
	Auth     *middleware.RateLimiter
	Generate *middleware.RateLimiter
}

func New(jwtAuth *middleware.JWTAuth, h Handlers, limiters Limiters, frontendURL string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(frontendURL))

	r.Get("/health", h.Health.Health)

	r.Route("/api", func(r chi.Router) {

		// ──── Auth Routes (public) ────
		r.Route("/auth", func(r chi.Router) {
			r.Use(limiters.Auth.Middleware)
			r.Post("/sign-up", h.Auth.SignUp)
			r.Post("/verify-email", h.Auth.VerifyEmail)
			r.Post("/sign-in", h.Auth.SignIn)
			r.Post("/sign-in/otp", h.Auth.SendSignInOTP)
			r.Post("/sign-in/otp/verify", h.Auth.SignInWithOTP)
			r.Post("/forgot-password", h.Auth.ForgotPassword)
			r.Post("/reset-password", h.Auth.ResetPassword)
			r.Post("/resend-otp", h.Auth.ResendOTP)
			r.Post("/refresh", h.Auth.Refresh)
			r.Post("/sign-out", h.Auth.SignOut)
		})

		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware)

			// ──── Generation ────
			r.With(limiters.Generate.Middleware).Post("/generate-deck", h.Decks.Generate)

			// ──── Deck Routes ────
			r.Route("/decks", func(r chi.Router) {
				r.Get("/", h.Decks.List)
				r.Get("/{id}", h.Decks.Get)
				r.Delete("/{id}", h.Decks.Delete)
				r.Get("/{id}/export", h.Decks.Export)
				r.Post("/{id}/study", h.Study.Start)
			})

			// ──── Study Session Routes ────
			r.Route("/study/{sid}", func(r chi.Router) {
				r.Get("/", h.Study.Get)
				r.Delete("/", h.Study.Discard)
				r.Post("/flip", h.Study.Flip)
				r.Post("/next", h.Study.Next)
				r.Post("/previous", h.Study.Previous)
				r.Post("/answer", h.Study.Answer)
			})

			r.Get("/dashboard/stats", h.Decks.Stats)
		})
	})

	return r
}
