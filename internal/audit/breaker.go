package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/pharmaguard-pgx-server/internal/domain"
)

const (
	defaultWriteTimeout    = 2 * time.Second
	defaultBreakerTimeout  = 30 * time.Second
	defaultBreakerFailures = 5
)

// BreakerRecorder guards a sink with a circuit breaker and a per-write deadline so a slow or
// unavailable database cannot hold up analysis responses.
type BreakerRecorder struct {
	next         domain.AuditRecorder
	breaker      *gobreaker.CircuitBreaker
	writeTimeout time.Duration
}

// NewBreakerRecorder wraps next using the breaker settings from config.
func NewBreakerRecorder(next domain.AuditRecorder, config domain.AuditConfig, logger *logrus.Logger) *BreakerRecorder {
	writeTimeout := config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	timeout := config.BreakerTimeout
	if timeout <= 0 {
		timeout = defaultBreakerTimeout
	}
	failures := config.BreakerFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}

	settings := gobreaker.Settings{
		Name:        "AuditSink",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from_state":      from.String(),
				"to_state":        to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &BreakerRecorder{
		next:         next,
		breaker:      gobreaker.NewCircuitBreaker(settings),
		writeTimeout: writeTimeout,
	}
}

// Record forwards rec unless the breaker is open, in which case gobreaker.ErrOpenState is returned.
func (b *BreakerRecorder) Record(ctx context.Context, rec *domain.AuditRecord) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		writeCtx, cancel := context.WithTimeout(ctx, b.writeTimeout)
		defer cancel()
		return nil, b.next.Record(writeCtx, rec)
	})
	return err
}

// State reports the breaker state for health output.
func (b *BreakerRecorder) State() string {
	return b.breaker.State().String()
}
