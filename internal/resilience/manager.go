package resilience

import (
	"log/slog"
	"sync"
)

// Manager holds the per-provider resilience state shared by all
// concurrent requests: one circuit breaker, one bulkhead, and one rate
// limiter per provider id, created lazily on first use.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	bulks    map[string]*Bulkhead
	limiters map[string]*RateLimiter

	cbConfig   CircuitBreakerConfig
	bulkConfig BulkheadConfig
	rateLimit  float64
	burst      int

	log *slog.Logger
}

// ManagerConfig configures the shared defaults new per-provider
// instances are created with.
type ManagerConfig struct {
	CircuitBreaker CircuitBreakerConfig
	Bulkhead       BulkheadConfig
	RatePerSec     float64 // 0 disables rate limiting
	Burst          int
}

// DefaultManagerConfig returns the library defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		Bulkhead:       BulkheadConfig{MaxConcurrent: 64, MaxQueued: 128},
		RatePerSec:     0,
	}
}

// NewManager creates a manager with the given defaults.
func NewManager(cfg ManagerConfig, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		breakers:   make(map[string]*CircuitBreaker),
		bulks:      make(map[string]*Bulkhead),
		limiters:   make(map[string]*RateLimiter),
		cbConfig:   cfg.CircuitBreaker,
		bulkConfig: cfg.Bulkhead,
		rateLimit:  cfg.RatePerSec,
		burst:      cfg.Burst,
		log:        log,
	}
}

// Breaker returns the circuit breaker for key, creating it on first use
// with a state-transition log hook attached.
func (m *Manager) Breaker(key string) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[key]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok = m.breakers[key]; ok {
		return cb
	}
	cb = NewCircuitBreaker(key, m.cbConfig)
	cb.OnStateChange(func(name string, from, to CircuitState) {
		m.log.Warn("circuit breaker state change",
			"provider", name, "from", from.String(), "to", to.String())
	})
	m.breakers[key] = cb
	return cb
}

// Bulkhead returns the bulkhead for key, creating it on first use.
func (m *Manager) Bulkhead(key string) *Bulkhead {
	m.mu.RLock()
	b, ok := m.bulks[key]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.bulks[key]; ok {
		return b
	}
	b = NewBulkhead(m.bulkConfig)
	m.bulks[key] = b
	return b
}

// Limiter returns the rate limiter for key, or nil when rate limiting is
// disabled.
func (m *Manager) Limiter(key string) *RateLimiter {
	if m.rateLimit <= 0 {
		return nil
	}
	m.mu.RLock()
	rl, ok := m.limiters[key]
	m.mu.RUnlock()
	if ok {
		return rl
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if rl, ok = m.limiters[key]; ok {
		return rl
	}
	rl = NewRateLimiter(m.rateLimit, m.burst)
	m.limiters[key] = rl
	return rl
}
