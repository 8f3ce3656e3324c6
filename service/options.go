package service

import (
	"time"

	"github.com/layer-3/passport/internal/metrics"
	"go.uber.org/zap"
)

// Key prefixes shared with every other reader of the store.
const (
	userKeyPrefix           = "user:"
	addressKeyPrefix        = "address:"
	emailKeyPrefix          = "email:"
	refreshSessionKeyPrefix = "refresh_token:"
	revokedTokenKeyPrefix   = "revoked_token:"
	emailProofKeyPrefix     = "email_proof:"
)

// Option configures the services in this package.
type Option func(*options)

type options struct {
	now     func() time.Time
	log     *zap.Logger
	metrics *metrics.Metrics
}

func newOptions(opts []Option) options {
	o := options{now: time.Now, log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMetrics enables metric collection.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}
