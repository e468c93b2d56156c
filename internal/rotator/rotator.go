// Package rotator implements the account selection policy: health tracking,
// failure cooldown, least-recently-used selection, and a round-robin
// fallback. It holds a private snapshot of the account list and only mutates
// its own bookkeeping maps.
package rotator

import (
	"errors"
	"log"
	"sync"
	"time"
)

const (
	// MaxFailures is the failure count at which an account enters cooldown.
	MaxFailures = 3

	// CooldownPeriod is how long a failed-out account stays unavailable.
	CooldownPeriod = 5 * time.Minute
)

// ErrNilAccounts is returned when SetAccounts is handed a nil list.
var ErrNilAccounts = errors.New("rotator: accounts list is nil")

// Account is the rotator's read-only view of one pool account.
type Account struct {
	ID    string
	Token string
}

// AccountStats describes one account's bookkeeping for health reporting.
type AccountStats struct {
	Failures  int       `json:"failures"`
	LastUsed  time.Time `json:"last_used,omitempty"`
	Available bool      `json:"available"`
}

// Stats summarizes rotation health across the pool.
type Stats struct {
	Total      int                     `json:"total"`
	Available  int                     `json:"available"`
	InCooldown int                     `json:"in_cooldown"`
	Accounts   map[string]AccountStats `json:"accounts"`
}

// Rotator selects which account serves the next request.
type Rotator struct {
	mu           sync.Mutex
	accounts     []Account
	currentIndex int
	lastUsed     map[string]time.Time
	failures     map[string]int

	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
}

// Option configures a Rotator.
type Option func(*Rotator)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Rotator) {
		if now != nil {
			r.now = now
		}
	}
}

// WithCooldown overrides the cooldown period.
func WithCooldown(d time.Duration) Option {
	return func(r *Rotator) {
		if d > 0 {
			r.cooldown = d
		}
	}
}

// New creates an empty Rotator.
func New(opts ...Option) *Rotator {
	r := &Rotator{
		lastUsed:    make(map[string]time.Time),
		failures:    make(map[string]int),
		maxFailures: MaxFailures,
		cooldown:    CooldownPeriod,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetAccounts replaces the account snapshot, resets the round-robin cursor,
// and prunes bookkeeping for ids no longer present.
func (r *Rotator) SetAccounts(accounts []Account) error {
	if accounts == nil {
		return ErrNilAccounts
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.accounts = make([]Account, len(accounts))
	copy(r.accounts, accounts)
	r.currentIndex = 0

	present := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		present[a.ID] = true
	}
	for id := range r.lastUsed {
		if !present[id] {
			delete(r.lastUsed, id)
		}
	}
	for id := range r.failures {
		if !present[id] {
			delete(r.failures, id)
		}
	}
	return nil
}

// isAvailable reports whether an account may serve a request right now.
// Once the cooldown window has elapsed the failure count is implicitly
// cleared and the account becomes available again. Caller must hold r.mu.
func (r *Rotator) isAvailable(a Account) bool {
	if a.Token == "" {
		return false
	}
	if r.failures[a.ID] < r.maxFailures {
		return true
	}
	if r.now().Sub(r.lastUsed[a.ID]) >= r.cooldown {
		delete(r.failures, a.ID)
		return true
	}
	return false
}

// SelectNext picks the least-recently-used available account, falling back
// to strict round-robin over the full list when every account is in
// cooldown. The fallback deliberately ignores cooldown: serving a
// possibly-failing token is preferred over refusing the request outright.
// Returns ("", false) only when no account anywhere has a usable token.
func (r *Rotator) SelectNext() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// LRU over the available subset. Ties (including never-used accounts)
	// resolve to list order.
	bestIdx := -1
	var bestUsed time.Time
	for i, a := range r.accounts {
		if !r.isAvailable(a) {
			continue
		}
		used := r.lastUsed[a.ID]
		if bestIdx == -1 || used.Before(bestUsed) {
			bestIdx = i
			bestUsed = used
		}
	}
	if bestIdx != -1 {
		a := r.accounts[bestIdx]
		r.lastUsed[a.ID] = r.now()
		return a.Token, true
	}

	// Round-robin fallback over the full list, skipping tokenless entries.
	for range r.accounts {
		a := r.accounts[r.currentIndex%len(r.accounts)]
		r.currentIndex++
		if a.Token == "" {
			continue
		}
		r.lastUsed[a.ID] = r.now()
		return a.Token, true
	}
	return "", false
}

// SelectByID returns the token of a specific account. Fails when the id is
// absent or the account is currently unavailable; cooldown is not bypassed.
func (r *Rotator) SelectByID(accountID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.accounts {
		if a.ID != accountID {
			continue
		}
		if !r.isAvailable(a) {
			return "", false
		}
		r.lastUsed[a.ID] = r.now()
		return a.Token, true
	}
	return "", false
}

// ReportFailure increments the failure count for an account and returns the
// new count. Crossing the threshold is logged, never escalated.
func (r *Rotator) ReportFailure(accountID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failures[accountID]++
	count := r.failures[accountID]
	if count == r.maxFailures {
		log.Printf("ROTATOR: account entering cooldown account=%s failures=%d cooldown=%s",
			accountID, count, r.cooldown)
	}
	return count
}

// ReportSuccess clears the failure count for an account.
func (r *Rotator) ReportSuccess(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, accountID)
}

// GetStats returns total/available/in-cooldown counts plus per-account
// bookkeeping. Read-only: it does not clear elapsed cooldowns.
func (r *Rotator) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{Accounts: make(map[string]AccountStats, len(r.accounts))}
	stats.Total = len(r.accounts)
	for _, a := range r.accounts {
		available := a.Token != ""
		if available && r.failures[a.ID] >= r.maxFailures {
			if r.now().Sub(r.lastUsed[a.ID]) < r.cooldown {
				available = false
				stats.InCooldown++
			}
		}
		if available {
			stats.Available++
		}
		stats.Accounts[a.ID] = AccountStats{
			Failures:  r.failures[a.ID],
			LastUsed:  r.lastUsed[a.ID],
			Available: available,
		}
	}
	return stats
}
