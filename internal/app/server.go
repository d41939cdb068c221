package app

import (
	"context"

	"github.com/go-chi/chi/v5"

	"inzikt/internal/api/handlers"
	"inzikt/internal/auth"
	"inzikt/internal/core"
)

// NewServer builds the HTTP API over the wired application and mounts its
// routes.
func (a *App) NewServer() (*core.Server, error) {
	srv, err := core.NewServer(a.Config, a.Logger)
	if err != nil {
		return nil, err
	}
	srv.Authenticator = auth.NewJWTAuthenticator(a.Config.Auth.JWTSecret.Unmask(), a.Config.Auth.Audience)
	srv.Metrics = a.Metrics
	srv.MetricsHandler = a.MetricsHandler
	srv.HealthProbes = a.healthProbes()

	cron := handlers.NewCronHandler(a.Runner, a.Config.Scheduler.CronSecret.Unmask(), a.Logger)
	scheduled := handlers.NewScheduledJobsHandler(a.Runner, a.Repos.ScheduledJobs, a.Repos.Executions, a.Logger)
	adhoc := handlers.NewAdhocJobsHandler(a.Manager, srv.Validator, a.Logger)
	prog := handlers.NewProgressHandler(a.Manager, a.Source, a.Streamer, a.Logger)

	srv.RouteRegistrars = append(srv.RouteRegistrars,
		cron.RegisterRoutes,
		scheduled.RegisterRoutes,
		func(r chi.Router) {
			r.With(srv.RequireAdmin).Group(scheduled.RegisterAdminRoutes)
		},
		adhoc.RegisterRoutes,
		prog.RegisterRoutes,
	)
	srv.OnShutdown = append(srv.OnShutdown, a.Shutdown)

	srv.MountRoutes()
	return srv, nil
}

func (a *App) healthProbes() []core.HealthProbe {
	probes := []core.HealthProbe{
		core.PingFunc{ProbeName: "database", Ping: a.Pool.Ping},
	}
	if a.Redis != nil {
		probes = append(probes, core.PingFunc{
			ProbeName: "redis",
			Ping: func(ctx context.Context) error {
				return a.Redis.Ping(ctx).Err()
			},
		})
	}
	return probes
}
