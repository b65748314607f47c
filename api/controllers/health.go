package controllers

import (
	"context"
	"net/http"

	"github.com/unlockit/unlockit-backend/api/responses"
	"github.com/unlockit/unlockit-backend/pkg/config"
	pkgerrors "github.com/unlockit/unlockit-backend/pkg/errors"
	"github.com/unlockit/unlockit-backend/pkg/logger"
)

type Pinger interface {
	Ping(context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-UnlockIt-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every hard dependency and reports per-dependency state.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-UnlockIt-Env", cfg.App.Env)

		checks := map[string]string{}
		healthy := true
		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(r.Context()); err != nil {
				checks[name] = "down"
				healthy = false
				continue
			}
			checks[name] = "up"
		}

		if !healthy {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(checks))
			return
		}

		checks["status"] = "ready"
		responses.WriteSuccess(w, checks)
	}
}

// ReadinessDeps assembles the dependency map for HealthReady, skipping nils.
func ReadinessDeps(db, redis, blobs Pinger) map[string]Pinger {
	deps := map[string]Pinger{}
	if db != nil {
		deps["database"] = db
	}
	if redis != nil {
		deps["redis"] = redis
	}
	if blobs != nil {
		deps["storage"] = blobs
	}
	return deps
}
