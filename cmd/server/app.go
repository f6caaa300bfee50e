package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/go-partners/auth"
	"github.com/diewo77/go-partners/gate"
	"github.com/diewo77/go-partners/internal/config"
	"github.com/diewo77/go-partners/internal/db"
	"github.com/diewo77/go-partners/internal/documents"
	"github.com/diewo77/go-partners/internal/ghl"
	"github.com/diewo77/go-partners/internal/handlers"
	"github.com/diewo77/go-partners/internal/logging"
	"github.com/diewo77/go-partners/internal/metrics"
	"github.com/diewo77/go-partners/internal/models"
	"github.com/diewo77/go-partners/internal/onboarding"
	"github.com/diewo77/go-partners/internal/policy"
	"github.com/diewo77/go-partners/internal/ratelimit"
	"github.com/diewo77/go-partners/internal/services"
)

// App wires services to routes. DB may be nil, in which case every
// component runs in its degraded mode.
type App struct {
	router   chi.Router
	cfg      *config.Config
	log      *zap.Logger
	db       *gorm.DB
	sessions *auth.Sessions
	gate     *policy.AuthGate
	limiter  *ratelimit.Limiter

	authH      *handlers.AuthHandler
	health     *handlers.HealthHandler
	templates  *handlers.TemplateHandler
	sign       *handlers.SignHandler
	webhooks   *handlers.WebhookHandler
	onboarding *handlers.OnboardingHandler
	support    *handlers.SupportHandler
	profiles   *handlers.AdminProfileHandler
	users      *handlers.AdminUserProfileHandler
}

// NewApp builds every service and handler. limiter is optional; without it
// the chat endpoint is not rate limited.
func NewApp(ctx context.Context, cfg *config.Config, gdb *gorm.DB, limiter *ratelimit.Limiter, log *zap.Logger) (*App, error) {
	log = logging.OrNop(log)
	sessions := auth.NewSessions(cfg.App.SessionSecret,
		auth.WithSecureCookies(cfg.App.IsProduction()),
		auth.WithVerifier(userExists(gdb)),
	)
	authGate := policy.NewAuthGate(gdb, 5*time.Minute)

	automation := ghl.NewAutomation(ghl.NewClient(cfg.GHL, log), cfg.GHL, log)
	partners := services.NewPartnerService(gdb, automation, authGate, log)

	llm, err := onboarding.NewLLM(ctx, cfg.LLM, log)
	if err != nil {
		return nil, err
	}
	toolbox := onboarding.NewToolbox(gdb, automation, partners, log)
	agent := onboarding.NewAgent(gdb, llm, toolbox, log)

	a := &App{
		router:   chi.NewRouter(),
		cfg:      cfg,
		log:      log,
		db:       gdb,
		sessions: sessions,
		gate:     authGate,
		limiter:  limiter,

		authH:      handlers.NewAuthHandler(gdb, sessions, log),
		health:     handlers.NewHealthHandler(gdb),
		templates:  handlers.NewTemplateHandler(documents.NewService(gdb, log), gdb, authGate, log),
		sign:       handlers.NewSignHandler(partners, cfg.App.IsProduction(), log),
		webhooks:   handlers.NewWebhookHandler(partners, cfg.GHL.WebhookSecret, cfg.App.IsDev(), log),
		onboarding: handlers.NewOnboardingHandler(agent, log),
		support:    handlers.NewSupportHandler(services.NewSupportService(gdb, log), gdb, log),
		profiles:   handlers.NewAdminProfileHandler(gdb, authGate.Resolver, log),
		users:      handlers.NewAdminUserProfileHandler(gdb, authGate.Resolver, log),
	}
	a.setupRoutes()
	return a, nil
}

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *App) setupRoutes() {
	r := a.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(logging.Requests(a.log))
	r.Use(metrics.Middleware)
	if origins := a.cfg.Server.CORSAllowedOrigins; len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", ghl.SignatureHeader},
			ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(a.sessions.Middleware)

	r.Get("/health", a.health.Check)
	r.Get("/healthz", a.health.Check)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", a.authH.Login)
			r.Post("/logout", a.authH.Logout)
			r.With(a.sessions.RequireAuth).Get("/me", a.authH.Me)
		})

		r.Route("/documents", func(r chi.Router) {
			r.Get("/templates", a.templates.List)
			r.With(a.gate.RequireAdmin()).Post("/templates", a.templates.Create)
			r.Group(func(r chi.Router) {
				r.Use(a.sessions.RequireAuth)
				r.Post("/sign", a.sign.Sign)
				r.Get("/sign", a.sign.Status)
			})
		})

		r.Post("/webhooks/ghl", a.webhooks.GHL)

		r.Route("/onboarding", func(r chi.Router) {
			chat := r.With()
			if a.limiter != nil {
				chat = r.With(a.limiter.Middleware)
			}
			chat.Post("/chat", a.onboarding.Chat)
			r.Get("/sessions/{id}", a.onboarding.Session)
		})
		r.Get("/knowledge/search", a.onboarding.SearchKnowledge)

		r.Route("/admin", func(r chi.Router) {
			r.Route("/support/conversations", func(r chi.Router) {
				r.With(a.gate.RequirePermission(db.ResourceSupportConversation, gate.ActionList)).Get("/", a.support.List)
				r.With(a.gate.RequirePermission(db.ResourceSupportConversation, gate.ActionView)).Get("/{id}", a.support.Get)
				r.With(a.gate.RequirePermission(db.ResourceSupportConversation, gate.ActionUpdate)).Patch("/{id}", a.support.Update)
			})

			r.Group(func(r chi.Router) {
				r.Use(a.gate.RequireAdmin())
				r.Get("/profiles", a.profiles.List)
				r.Post("/profiles", a.profiles.Create)
				r.Put("/profiles/{id}", a.profiles.Update)
				r.Delete("/profiles/{id}", a.profiles.Delete)
				r.Put("/profiles/{id}/permissions", a.profiles.SavePermissions)
				r.Get("/permissions", a.profiles.ListPermissions)
				r.Get("/users", a.users.List)
				r.Put("/users/{id}/profile", a.users.AssignProfile)
			})
		})
	})
}

// userExists keeps sessions of deleted users from authenticating. Without
// a database every signed session is accepted.
func userExists(gdb *gorm.DB) auth.UserVerifier {
	if gdb == nil {
		return nil
	}
	return func(ctx context.Context, uid uint) bool {
		var n int64
		if err := gdb.WithContext(ctx).Model(&models.User{}).Where("id = ?", uid).Count(&n).Error; err != nil {
			return false
		}
		return n > 0
	}
}

// newLimiter connects to Redis when a URL is configured. A failed
// connection disables rate limiting rather than the server.
func newLimiter(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (*ratelimit.Limiter, *redis.Client) {
	if cfg.URL == "" {
		log.Info("redis not configured, chat rate limiting disabled")
		return nil, nil
	}
	client, err := ratelimit.Connect(ctx, cfg.URL)
	if err != nil {
		log.Warn("redis unavailable, chat rate limiting disabled", zap.Error(err))
		return nil, nil
	}
	return ratelimit.New(client, cfg.RatePerMinute, time.Minute, "chat", log), client
}
