package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicore/provider-scheduling/internal/schedule"
)

type RouterConfig struct {
	Service *schedule.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/providers/{id}", func(r chi.Router) {
		r.Put("/working-hours", setWorkingHoursHandler(cfg.Service))
		r.Post("/exceptions", createExceptionHandler(cfg.Service))
		r.Post("/slots/generate", generateSlotsHandler(cfg.Service))
		r.Get("/slots", listAvailableSlotsHandler(cfg.Service))
		r.Post("/slots", createManualSlotHandler(cfg.Service))
	})

	r.Post("/slots/{id}/block", blockSlotHandler(cfg.Service))
	r.Post("/slots/{id}/unblock", unblockSlotHandler(cfg.Service))

	r.Post("/booking-requests", createBookingRequestHandler(cfg.Service))
	r.Post("/booking-requests/{id}/confirm", confirmBookingRequestHandler(cfg.Service))
	r.Post("/booking-requests/{id}/reject", rejectBookingRequestHandler(cfg.Service))
	r.Post("/booking-requests/{id}/cancel", cancelBookingRequestHandler(cfg.Service))

	return r
}
