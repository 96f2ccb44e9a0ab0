// Package observability wires the shared metrics singleton with the
// process-wide const labels.
package observability

import (
	"github.com/smallbiznis/taxbridge/internal/config"
	"github.com/smallbiznis/taxbridge/internal/observability/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(provideMetricsConfig),
	fx.Invoke(ensureSubmissionMetrics),
)

func provideMetricsConfig(cfg config.Config) metrics.Config {
	return metrics.Config{
		ServiceName: cfg.AppName,
		Environment: cfg.Environment,
	}
}

func ensureSubmissionMetrics(cfg metrics.Config) {
	metrics.SubmissionWithConfig(cfg)
}
