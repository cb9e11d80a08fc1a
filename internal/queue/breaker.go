package queue

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"socialgraph/internal/logging"
	"socialgraph/internal/metrics"
)

// BreakerConfig configures BreakerPublisher.
type BreakerConfig struct {
	Name string
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
}

// BreakerPublisher sends events through primary behind a circuit breaker. While the
// breaker is open, or when primary fails, events go to fallback so notifications are
// still delivered.
type BreakerPublisher struct {
	primary  Publisher
	fallback Publisher
	cb       *gobreaker.CircuitBreaker[string]
}

func NewBreakerPublisher(primary, fallback Publisher, cfg BreakerConfig) *BreakerPublisher {
	if cfg.Name == "" {
		cfg.Name = "event-publisher"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			logging.Warn().
				Str("component", "publisher").
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}

	return &BreakerPublisher{
		primary:  primary,
		fallback: fallback,
		cb:       gobreaker.NewCircuitBreaker[string](settings),
	}
}

func (p *BreakerPublisher) Publish(ctx context.Context, event Event) (string, error) {
	id, err := p.cb.Execute(func() (string, error) {
		return p.primary.Publish(ctx, event)
	})
	if err == nil {
		return id, nil
	}

	metrics.EventPublishFallbacks.Inc()
	logging.Warn().
		Err(err).
		Str("component", "publisher").
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Msg("primary publish failed, dispatching in process")
	return p.fallback.Publish(ctx, event)
}

// State returns the breaker state name.
func (p *BreakerPublisher) State() string {
	return p.cb.State().String()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
