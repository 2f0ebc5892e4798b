package gate

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// budget caps autonomous executions per hour with a token bucket. The cap
// follows the policy in force, so a reload takes effect on the next call.
type budget struct {
	mu      sync.Mutex
	perHour int
	limiter *rate.Limiter
}

func newBudget() *budget { return &budget{} }

// allow consumes one token; perHour <= 0 means uncapped
func (b *budget) allow(perHour int) bool {
	if perHour <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limiter == nil {
		b.limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(perHour)), perHour)
		b.perHour = perHour
	} else if b.perHour != perHour {
		b.limiter.SetLimit(rate.Every(time.Hour / time.Duration(perHour)))
		b.limiter.SetBurst(perHour)
		b.perHour = perHour
	}
	return b.limiter.Allow()
}
