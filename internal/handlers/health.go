package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger is any dependency whose reachability is reported by /health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

func Health(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := make(map[string]string, len(deps))
		for name, dep := range deps {
			if err := dep.PingContext(ctx); err != nil {
				checks[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "up"
		}
		state := "healthy"
		if status != http.StatusOK {
			state = "degraded"
		}
		writeJSON(w, status, map[string]interface{}{
			"status":  state,
			"service": "chat",
			"checks":  checks,
		})
	}
}
