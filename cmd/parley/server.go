package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/memory/postgres"
)

var errNotConnected = errors.New("endpoint not connected")

// statusSource is the part of the controller the status server reads.
type statusSource interface {
	Status() conversation.Status
}

// readiness builds the /readyz checkers. The endpoint check is only added
// when server.require_connection is set; the transcript check whenever a
// store is open.
func readiness(cfg *config.Config, ctrl statusSource, store *postgres.Store) []health.Checker {
	var checks []health.Checker
	if cfg.Server.RequireConnection {
		checks = append(checks, health.Checker{
			Name: "endpoint",
			Check: func(context.Context) error {
				if ctrl.Status().Connection != conversation.Connected {
					return errNotConnected
				}
				return nil
			},
		})
	}
	if store != nil {
		checks = append(checks, health.Checker{Name: "transcripts", Check: store.Ping})
	}
	return checks
}

// newMux serves the probes, /statusz and /metrics behind the observe
// middleware.
func newMux(checks []health.Checker, ctrl statusSource, m *observe.Metrics) http.Handler {
	mux := http.NewServeMux()
	health.New(checks...).
		WithStatus(func() any { return ctrl.Status() }).
		Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(m)(mux)
}
