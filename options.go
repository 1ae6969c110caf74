package blkcache

import (
	"github.com/hupe1980/blkcache/resource"
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	resources        *resource.Controller
}

func defaultOptions() options {
	return options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
	}
}

// Option configures a Cache.
type Option func(*options)

// WithLogger routes the cache's diagnostics to l.
//
// If nil is passed, diagnostics are discarded.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetrics configures the collector receiving cache events.
//
// If nil is passed, NoopMetricsCollector is used.
func WithMetrics(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithResourceController reserves every freshly allocated buffer against
// rc's memory budget. When a reservation is denied AllocBlock repurposes an
// idle clean block instead, or returns nil if there is none.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}
