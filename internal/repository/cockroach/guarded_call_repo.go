package cockroach

import (
	"context"

	"voicelink-backend/internal/domain"
	"voicelink-backend/pkg/resilience"
)

// GuardedCallRepository wraps call record writes in a circuit breaker so a
// struggling database cannot back up the relay's signaling loop.
type GuardedCallRepository struct {
	inner   *CallRepository
	breaker *resilience.Breaker
}

// NewGuardedCallRepository creates a breaker-guarded call repository
func NewGuardedCallRepository(inner *CallRepository) *GuardedCallRepository {
	return &GuardedCallRepository{
		inner:   inner,
		breaker: resilience.NewBreaker("call_history"),
	}
}

// Record writes one finished call to history through the circuit breaker
func (r *GuardedCallRepository) Record(ctx context.Context, rec *domain.CallRecord) error {
	return r.breaker.Execute(ctx, "record_call", func() error {
		return r.inner.Record(ctx, rec)
	})
}
