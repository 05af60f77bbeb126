package fleet

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/onkernel/iconograph/lib/middleware"
	"go.opentelemetry.io/otel/metric"
)

// NewStatusHandler serves the agent state on a local listener. log and
// meter may be nil.
func NewStatusHandler(a *Agent, log *slog.Logger, meter metric.Meter) (http.Handler, error) {
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.InjectLogger(log))
	r.Use(middleware.AccessLogger(log))
	if meter != nil {
		httpMetrics, err := middleware.NewHTTPMetrics(meter)
		if err != nil {
			return nil, fmt.Errorf("create http metrics: %w", err)
		}
		r.Use(httpMetrics.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		snap := a.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		if snap.State == StateDisconnected {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(snap)
	})

	return r, nil
}
