package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/tigerroll/shoreline/pkg/ingest/core/config"
	"github.com/tigerroll/shoreline/pkg/ingest/core/port"
	"github.com/tigerroll/shoreline/pkg/ingest/support/logger"
)

// NewRecorderProvider builds the configured recorder and, when metrics are
// enabled, serves the exposition endpoint for the process lifetime.
func NewRecorderProvider(lc fx.Lifecycle, cfg *config.Config) port.MetricRecorder {
	if !cfg.Shoreline.Metrics.Enabled {
		return NoopRecorder{}
	}

	rec := NewPrometheusRecorder()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rec.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.Shoreline.Metrics.Addr, Handler: mux}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				logger.Infof("Metrics endpoint listening on %s", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Errorf("Metrics endpoint failed: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
	return rec
}

// Module provides the metric recorder to Fx.
var Module = fx.Options(
	fx.Provide(NewRecorderProvider),
)
