package llm

import (
	"context"
	"sync"
	"time"
)

// RateLimitConfig configures client-side rate limiting for LLM providers.
// Embedding a large corpus in batches can exhaust free-tier quotas quickly;
// limiting here avoids burning the retry budget on 429 responses.
type RateLimitConfig struct {
	// RequestsPerMinute limits API calls per minute (0 = unlimited).
	RequestsPerMinute int
	// TokensPerMinute limits total tokens per minute (0 = unlimited).
	TokensPerMinute int
	// BurstSize allows a temporary burst above the request rate.
	BurstSize int
}

// RateLimitProvider wraps a provider with rate limiting.
type RateLimitProvider struct {
	inner  Provider
	config *RateLimitConfig

	mu          sync.Mutex
	requests    int       // available request slots
	tokenBudget int       // remaining token budget in this window
	lastRefill  time.Time
	windowStart time.Time
}

var _ Provider = (*RateLimitProvider)(nil)

// NewRateLimitProvider creates a rate-limited provider wrapper.
func NewRateLimitProvider(inner Provider, config *RateLimitConfig) *RateLimitProvider {
	if config == nil {
		config = &RateLimitConfig{}
	}
	burst := config.BurstSize
	if burst <= 0 {
		burst = 1
	}
	now := time.Now()
	return &RateLimitProvider{
		inner:       inner,
		config:      config,
		requests:    burst,
		tokenBudget: config.TokensPerMinute,
		lastRefill:  now,
		windowStart: now,
	}
}

// Name returns the underlying provider name.
func (r *RateLimitProvider) Name() string {
	return r.inner.Name()
}

// Complete waits for capacity, delegates, and records token usage.
func (r *RateLimitProvider) Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error) {
	if err := r.waitForCapacity(ctx); err != nil {
		return nil, err
	}
	resp, err := r.inner.Complete(ctx, prompt, opts)
	if err == nil && resp != nil {
		r.trackTokens(resp.InputTokens + resp.OutputTokens)
	}
	return resp, err
}

// Embed waits for capacity and delegates.
func (r *RateLimitProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.waitForCapacity(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, texts)
}

func (r *RateLimitProvider) waitForCapacity(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()

		requestsOK := r.config.RequestsPerMinute == 0 || r.requests > 0
		tokensOK := r.config.TokensPerMinute == 0 || r.tokenBudget > 0

		if requestsOK && tokensOK {
			if r.config.RequestsPerMinute > 0 {
				r.requests--
			}
			r.mu.Unlock()
			return nil
		}

		wait := r.waitTime()
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// refill restores request slots proportionally to elapsed time and resets the
// token window once a minute has passed. Caller holds the lock.
func (r *RateLimitProvider) refill() {
	now := time.Now()

	if r.config.RequestsPerMinute > 0 {
		added := int(now.Sub(r.lastRefill).Minutes() * float64(r.config.RequestsPerMinute))
		if added > 0 {
			r.requests += added
			max := r.config.BurstSize
			if max <= 0 {
				max = 1
			}
			if r.requests > max {
				r.requests = max
			}
			r.lastRefill = now
		}
	} else {
		r.lastRefill = now
	}

	if now.Sub(r.windowStart) >= time.Minute {
		r.windowStart = now
		r.tokenBudget = r.config.TokensPerMinute
	}
}

func (r *RateLimitProvider) waitTime() time.Duration {
	if r.config.RequestsPerMinute > 0 && r.requests <= 0 {
		return time.Minute / time.Duration(r.config.RequestsPerMinute)
	}
	if r.config.TokensPerMinute > 0 && r.tokenBudget <= 0 {
		if remaining := time.Minute - time.Since(r.windowStart); remaining > 0 {
			return remaining
		}
	}
	return 100 * time.Millisecond
}

func (r *RateLimitProvider) trackTokens(tokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokenBudget -= tokens
	if r.tokenBudget < 0 {
		r.tokenBudget = 0
	}
}

// WithRateLimit wraps a provider with rate limiting.
func WithRateLimit(p Provider, config *RateLimitConfig) Provider {
	if p == nil {
		return nil
	}
	return NewRateLimitProvider(p, config)
}
