package core

import "sync"

// RoundLimiter enforces the round budget of a run and the corrective retry
// budget of its current round. The round budget is mandatory: values below
// one are raised to one.
type RoundLimiter struct {
	maxRounds  int
	maxRetries int
	rounds     int
	retries    int
	mu         sync.Mutex
}

// NewRoundLimiter creates a limiter allowing maxRounds rounds with up to
// maxRetries corrective retries each.
func NewRoundLimiter(maxRounds, maxRetries int) *RoundLimiter {
	if maxRounds < 1 {
		maxRounds = 1
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RoundLimiter{maxRounds: maxRounds, maxRetries: maxRetries}
}

// NextRound opens the next round and resets the retry counter. It returns a
// RoundBudgetExceededError once the budget is used up.
func (rl *RoundLimiter) NextRound() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.rounds >= rl.maxRounds {
		return &RoundBudgetExceededError{MaxRounds: rl.maxRounds}
	}
	rl.rounds++
	rl.retries = 0

	return nil
}

// Retry consumes one retry of the current round and reports whether it was
// still within budget.
func (rl *RoundLimiter) Retry() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.retries >= rl.maxRetries {
		return false
	}
	rl.retries++

	return true
}

// Rounds returns how many rounds were opened.
func (rl *RoundLimiter) Rounds() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.rounds
}

// Retries returns the retries used in the current round.
func (rl *RoundLimiter) Retries() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.retries
}

// Remaining returns how many rounds are left.
func (rl *RoundLimiter) Remaining() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.maxRounds - rl.rounds
}

// MaxRounds returns the configured round budget.
func (rl *RoundLimiter) MaxRounds() int { return rl.maxRounds }
