// Package limiter provides rate limiting and budget enforcement for LLM
// API calls with a per-model token bucket.
package limiter

import (
	"fmt"
	"sync"
	"time"
)

var (
	// ErrRateLimit is returned when token rate limits are exceeded.
	ErrRateLimit = fmt.Errorf("rate limit exceeded")
	// ErrBudgetExceeded is returned when daily budget limits are exceeded.
	ErrBudgetExceeded = fmt.Errorf("daily budget exceeded")
)

// ModelLimit configures the limits of one model.
type ModelLimit struct {
	Name               string
	MaxTokensPerMinute int
	DailyBudgetUSD     float64
}

// Limiter enforces token and budget limits across the configured models.
// A model without a configured limit is unrestricted.
type Limiter struct {
	mu         sync.RWMutex
	models     map[string]*modelLimiter
	resetTimer *time.Timer
}

type modelLimiter struct {
	mu                 sync.Mutex
	name               string
	maxTokensPerMinute int
	maxBudgetPerDayUSD float64
	currentTokens      int
	currentBudgetUSD   float64
	lastRefill         time.Time
}

// New creates a limiter with the provided model limits and schedules the
// daily budget reset at local midnight.
func New(limits []ModelLimit) *Limiter {
	l := &Limiter{models: make(map[string]*modelLimiter)}
	for _, limit := range limits {
		l.models[limit.Name] = &modelLimiter{
			name:               limit.Name,
			maxTokensPerMinute: limit.MaxTokensPerMinute,
			maxBudgetPerDayUSD: limit.DailyBudgetUSD,
			currentTokens:      limit.MaxTokensPerMinute,
			lastRefill:         time.Now(),
		}
	}
	l.scheduleDailyReset()
	return l
}

// Reserve attempts to reserve tokens for the given model.
func (l *Limiter) Reserve(model string, tokens int) error {
	ml := l.lookup(model)
	if ml == nil {
		return nil
	}
	return ml.reserve(tokens)
}

// RecordSpend charges cost against the model's daily budget. Returns
// ErrBudgetExceeded once the budget is used up.
func (l *Limiter) RecordSpend(model string, costUSD float64) error {
	ml := l.lookup(model)
	if ml == nil {
		return nil
	}
	return ml.recordSpend(costUSD)
}

// Status reports remaining tokens and spent budget for a model.
func (l *Limiter) Status(model string) (tokens int, spentUSD float64, err error) {
	ml := l.lookup(model)
	if ml == nil {
		return 0, 0, fmt.Errorf("model %s not configured", model)
	}
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.refillTokens()
	return ml.currentTokens, ml.currentBudgetUSD, nil
}

// ResetDaily resets daily budgets and refills all buckets.
func (l *Limiter) ResetDaily() {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, ml := range l.models {
		ml.resetDaily()
	}
}

// Close stops the reset timer.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.resetTimer != nil {
		l.resetTimer.Stop()
	}
}

func (l *Limiter) lookup(model string) *modelLimiter {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.models[model]
}

func (ml *modelLimiter) reserve(tokens int) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	ml.refillTokens()

	if ml.maxBudgetPerDayUSD > 0 && ml.currentBudgetUSD >= ml.maxBudgetPerDayUSD {
		return fmt.Errorf("model %s: %w", ml.name, ErrBudgetExceeded)
	}
	if ml.currentTokens < tokens {
		return fmt.Errorf("model %s: %w", ml.name, ErrRateLimit)
	}
	ml.currentTokens -= tokens
	return nil
}

func (ml *modelLimiter) recordSpend(costUSD float64) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	ml.currentBudgetUSD += costUSD
	if ml.maxBudgetPerDayUSD > 0 && ml.currentBudgetUSD > ml.maxBudgetPerDayUSD {
		return fmt.Errorf("model %s: %w", ml.name, ErrBudgetExceeded)
	}
	return nil
}

func (ml *modelLimiter) resetDaily() {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	ml.currentBudgetUSD = 0
	ml.currentTokens = ml.maxTokensPerMinute
	ml.lastRefill = time.Now()
}

func (ml *modelLimiter) refillTokens() {
	now := time.Now()
	elapsed := now.Sub(ml.lastRefill)

	if elapsed >= time.Minute {
		minutes := int(elapsed / time.Minute)
		ml.currentTokens += minutes * ml.maxTokensPerMinute
		if ml.currentTokens > ml.maxTokensPerMinute {
			ml.currentTokens = ml.maxTokensPerMinute
		}
		ml.lastRefill = ml.lastRefill.Add(time.Duration(minutes) * time.Minute)
	}
}

func (l *Limiter) scheduleDailyReset() {
	now := time.Now()
	nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())

	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetTimer = time.AfterFunc(time.Until(nextMidnight), func() {
		l.ResetDaily()
		l.scheduleDailyReset()
	})
}
