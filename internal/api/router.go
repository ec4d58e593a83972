package api

import (
	"github.com/giroclub/giroclub-backend/internal/api/handler"
	"github.com/giroclub/giroclub-backend/internal/api/middleware"
	"github.com/giroclub/giroclub-backend/internal/api/spec"
	"github.com/giroclub/giroclub-backend/internal/idempotency"
	"github.com/giroclub/giroclub-backend/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Router wires the HTTP surface: middleware chain, public routes, the
// authenticated member API and the admin back office.
type Router struct {
	db        *pgxpool.Pool
	redis     redis.Cmdable
	logger    *zap.Logger
	idemStore *idempotency.Store

	profiles *service.ProfileService
	groups   *service.GroupService
	deposits *service.DepositService
	loans    *service.LoanService

	publicRPS int
	authRPS   int
}

func NewRouter(
	db *pgxpool.Pool,
	redisClient redis.Cmdable,
	logger *zap.Logger,
	idemStore *idempotency.Store,
	profiles *service.ProfileService,
	groups *service.GroupService,
	deposits *service.DepositService,
	loans *service.LoanService,
	publicRPS, authRPS int,
) *Router {
	return &Router{
		db:        db,
		redis:     redisClient,
		logger:    logger,
		idemStore: idemStore,
		profiles:  profiles,
		groups:    groups,
		deposits:  deposits,
		loans:     loans,
		publicRPS: publicRPS,
		authRPS:   authRPS,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	authHandler := handler.NewAuthHandler(api.profiles)
	profileHandler := handler.NewProfileHandler(api.profiles)
	groupHandler := handler.NewGroupHandler(api.groups)
	depositHandler := handler.NewDepositHandler(api.deposits)
	loanHandler := handler.NewLoanHandler(api.loans)
	adminHandler := handler.NewAdminHandler(api.loans, api.groups)
	healthHandler := handler.NewHealthHandler(api.db, api.redis)

	idem := middleware.IdempotencyMiddleware(api.idemStore, api.logger)

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.publicRPS))

		r.Post("/v1/auth/login", authHandler.Login)
		r.Post("/v1/profiles", profileHandler.CreateProfile)

		r.Get("/healthz", healthHandler.Live)
		r.Get("/readyz", healthHandler.Ready)
		r.Get("/openapi.yaml", spec.OpenAPIHandler())
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	})

	r.Handle("/metrics", promhttp.Handler())

	// Member routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.authRPS))

		r.Get("/v1/me", profileHandler.Me)

		r.Post("/v1/groups", groupHandler.CreateGroup)
		r.Get("/v1/groups", groupHandler.ListMyGroups)
		r.Get("/v1/groups/{id}", groupHandler.GetGroup)
		r.Post("/v1/groups/{id}/join", groupHandler.JoinGroup)
		r.Get("/v1/groups/{id}/balance", groupHandler.GetBalance)

		r.With(idem).Post("/v1/groups/{id}/deposit", depositHandler.StartDeposit)
		r.Get("/v1/groups/{id}/deposit", depositHandler.GetDeposit)
		r.Delete("/v1/groups/{id}/deposit", depositHandler.CancelDeposit)

		r.With(idem).Post("/v1/groups/{id}/loan-requests", loanHandler.RequestPayout)
	})

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.RequireRole(middleware.RoleAdmin))

		r.Get("/v1/admin/loan-requests", adminHandler.ListLoanRequests)
		r.Post("/v1/admin/loan-requests/{id}/resolve", adminHandler.ResolveLoanRequest)
		r.Get("/v1/admin/groups", adminHandler.ListGroups)
		r.Post("/v1/admin/groups/{id}/advance-cycle", adminHandler.AdvanceCycle)
	})

	return r
}
