// Package pool orchestrates the account credential pool: loading and
// validating accounts, feeding the rotator, exposing token acquisition to
// the gateway layer, and managing the elevated-session lifecycle. Every
// failure inside the pool is recovered locally and surfaced as a none/false
// result plus a log line; nothing here terminates the process.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/credmux/credmux/internal/config"
	"github.com/credmux/credmux/internal/history"
	"github.com/credmux/credmux/internal/rotator"
	"github.com/credmux/credmux/internal/store"
	"github.com/credmux/credmux/internal/token"
)

// State is the pool lifecycle state. Load errors never produce a terminal
// failure state: the pool keeps whatever subset loaded, even if empty.
type State int

const (
	Uninitialized State = iota
	Loading
	Ready
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return "uninitialized"
	}
}

const (
	// cliRefreshPeriod is how often an elevated session's credential
	// triple is re-exchanged.
	cliRefreshPeriod = 2 * time.Hour

	// DailyRequestCeiling is the fixed per-day elevated-session request
	// quota. Enforcement is the gateway's job; the pool only exposes and
	// resets the counter.
	DailyRequestCeiling = 1000
)

var (
	// ErrDuplicateAccount is returned when adding an id already present.
	ErrDuplicateAccount = errors.New("pool: account id already exists")

	// ErrInvalidCredential is returned when a cookie yields no valid token.
	ErrInvalidCredential = errors.New("pool: cookie yields no valid token")

	// ErrAccountNotFound is returned when removing an absent id.
	ErrAccountNotFound = errors.New("pool: account not found")
)

// Account is one upstream credential identity managed by the pool. The
// cookie is the source of truth; the token is derived and may be empty when
// the cookie is invalid or expired — such accounts stay visible for
// diagnostics but never serve requests.
type Account struct {
	ID      string   `json:"id"`
	Cookie  string   `json:"-"`
	Token   string   `json:"-"`
	Expires int64    `json:"expires,omitempty"`
	CLI     *CliInfo `json:"cli,omitempty"`
}

// HasToken reports whether the account holds a usable token.
func (a *Account) HasToken() bool {
	return a.Token != ""
}

// EventSink receives pool lifecycle events. Implementations must not block.
type EventSink interface {
	Record(accountID, event, detail string)
}

// nopSink is used when no sink is configured.
type nopSink struct{}

func (nopSink) Record(string, string, string) {}

// Stats is the pool's health snapshot for external reporting.
type Stats struct {
	State    string         `json:"state"`
	Rotation rotator.Stats  `json:"rotation"`
	CLIUsage map[string]int `json:"cli_usage,omitempty"`
	Store    store.Status   `json:"store"`
}

// Manager owns the in-memory account list and is its only writer. The
// rotator holds a private snapshot set via SetAccounts and never mutates
// account contents.
type Manager struct {
	mu       sync.Mutex
	state    State
	accounts []*Account

	store     *store.Store
	rot       *rotator.Rotator
	exchanger Exchanger
	sink      EventSink
	timers    *timerRegistry
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithExchanger replaces the elevated-session exchanger.
func WithExchanger(e Exchanger) Option {
	return func(m *Manager) {
		if e != nil {
			m.exchanger = e
		}
	}
}

// WithEventSink sets the lifecycle event sink.
func WithEventSink(s EventSink) Option {
	return func(m *Manager) {
		if s != nil {
			m.sink = s
		}
	}
}

// WithRotator replaces the rotator (tests inject one with a fake clock).
func WithRotator(r *rotator.Rotator) Option {
	return func(m *Manager) {
		if r != nil {
			m.rot = r
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New creates a Manager over the given durable store. Call Initialize before
// acquiring tokens.
func New(st *store.Store, exchangeURL string, opts ...Option) *Manager {
	m := &Manager{
		store:     st,
		rot:       rotator.New(),
		exchanger: NewHTTPExchanger(exchangeURL),
		sink:      nopSink{},
		timers:    newTimerRegistry(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize loads accounts from the store (or the bulk credential variable
// on first run), validates every token, registers the list with the
// rotator, and starts the elevated-session and daily-reset timers.
func (m *Manager) Initialize() {
	m.load()
}

// Reload cancels every outstanding timer and re-runs the load sequence.
// Registered as the config watcher's callback.
func (m *Manager) Reload() error {
	log.Printf("POOL: reload requested")
	m.load()
	m.sink.Record("", history.EventReloaded, "")
	return nil
}

// load is the shared init/reload sequence.
func (m *Manager) load() {
	// Cancel refresh and reset timers up front so a reload never leaves
	// duplicates running.
	m.timers.cancelAll()

	m.mu.Lock()
	m.state = Loading

	accounts := m.loadFromStore()
	if len(accounts) == 0 {
		accounts = m.loadFromEnv()
	}

	valid := 0
	for _, a := range accounts {
		if m.validateAccount(a) {
			valid++
		}
	}
	m.accounts = accounts
	m.registerWithRotatorLocked()
	m.state = Ready

	// Exactly one elevated-session initialization per load cycle.
	var cliCandidate *Account
	for _, a := range accounts {
		if a.HasToken() && a.CLI == nil {
			cliCandidate = a
			break
		}
	}
	m.mu.Unlock()

	if cliCandidate != nil {
		m.initCliSession(cliCandidate.ID, cliCandidate.Token)
	}
	m.scheduleDailyReset()

	log.Printf("POOL: loaded accounts=%d valid=%d", len(accounts), valid)
}

// loadFromStore rebuilds the account list from durable records.
func (m *Manager) loadFromStore() []*Account {
	records := m.store.GetAll()
	accounts := make([]*Account, 0, len(records))
	for _, rec := range records {
		accounts = append(accounts, &Account{
			ID:      rec.AccountID,
			Cookie:  rec.Cookie,
			Token:   rec.Token,
			Expires: rec.Expires,
		})
	}
	return accounts
}

// loadFromEnv parses the bulk credential variable on first run, numbering
// ids sequentially, and persists the derived set back to the store.
// Accounts with unusable cookies are kept with an empty token rather than
// dropped, so they remain visible for diagnostics.
func (m *Manager) loadFromEnv() []*Account {
	cookies := config.SessionCookies()
	if len(cookies) == 0 {
		return nil
	}

	accounts := make([]*Account, 0, len(cookies))
	for i, cookie := range cookies {
		a := &Account{
			ID:     fmt.Sprintf("account-%d", i+1),
			Cookie: cookie,
		}
		if derived := token.DeriveAccountFromCookie(cookie); derived != nil {
			a.Token = derived.Token
			a.Expires = derived.Expires
		} else {
			log.Printf("POOL: config cookie yields no valid token account=%s", a.ID)
		}
		accounts = append(accounts, a)
		m.store.Upsert(a.ID, store.Record{
			Cookie:  a.Cookie,
			Token:   a.Token,
			Expires: a.Expires,
		})
	}
	log.Printf("POOL: imported accounts from environment count=%d", len(accounts))
	return accounts
}

// validateAccount re-derives the token from the cookie. Validation runs only
// on load and add; a stale token cache between loads is acceptable.
func (m *Manager) validateAccount(a *Account) bool {
	derived := token.DeriveAccountFromCookie(a.Cookie)
	if derived == nil {
		if a.Token != "" {
			log.Printf("POOL: account token no longer valid account=%s", a.ID)
		}
		a.Token = ""
		a.Expires = 0
		return false
	}
	if a.Token != derived.Token || a.Expires != derived.Expires {
		a.Token = derived.Token
		a.Expires = derived.Expires
		m.store.Upsert(a.ID, store.Record{
			Cookie:  a.Cookie,
			Token:   a.Token,
			Expires: a.Expires,
		})
	}
	return true
}

// registerWithRotatorLocked hands the current list to the rotator. Caller
// must hold m.mu.
func (m *Manager) registerWithRotatorLocked() {
	view := make([]rotator.Account, len(m.accounts))
	for i, a := range m.accounts {
		view[i] = rotator.Account{ID: a.ID, Token: a.Token}
	}
	if err := m.rot.SetAccounts(view); err != nil {
		log.Printf("POOL: rotator registration failed err=%v", err)
	}
}

// AcquireToken returns the next token per rotation policy, or false when
// the pool is not ready or no account has a usable token.
func (m *Manager) AcquireToken() (string, bool) {
	m.mu.Lock()
	state, count := m.state, len(m.accounts)
	m.mu.Unlock()

	if state != Ready {
		log.Printf("POOL: acquire before ready state=%s", state)
		return "", false
	}
	if count == 0 {
		log.Printf("POOL: acquire with empty account list")
		return "", false
	}
	token, ok := m.rot.SelectNext()
	if ok {
		m.sink.Record(m.accountIDForToken(token), history.EventRotated, "")
	}
	return token, ok
}

// AcquireTokenFor returns the token of a specific account, honoring
// cooldown.
func (m *Manager) AcquireTokenFor(accountID string) (string, bool) {
	token, ok := m.rot.SelectByID(accountID)
	if ok {
		m.sink.Record(accountID, history.EventRotated, "targeted")
	}
	return token, ok
}

// accountIDForToken maps a served token back to its owning account. Tokens
// are derived from distinct cookies, so at most one account matches.
func (m *Manager) accountIDForToken(token string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Token == token {
			return a.ID
		}
	}
	return ""
}

// ReportFailure records an upstream failure against an account.
func (m *Manager) ReportFailure(accountID string) {
	count := m.rot.ReportFailure(accountID)
	if count == rotator.MaxFailures {
		m.sink.Record(accountID, history.EventCooldown, fmt.Sprintf("failures=%d", count))
	}
}

// ReportSuccess clears an account's failure count.
func (m *Manager) ReportSuccess(accountID string) {
	m.rot.ReportSuccess(accountID)
}

// AddAccount validates the cookie and appends a new account. Unlike load,
// an unusable cookie is rejected outright here.
func (m *Manager) AddAccount(accountID, cookie string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.accounts {
		if a.ID == accountID {
			return ErrDuplicateAccount
		}
	}

	derived := token.DeriveAccountFromCookie(cookie)
	if derived == nil {
		return ErrInvalidCredential
	}

	a := &Account{
		ID:      accountID,
		Cookie:  cookie,
		Token:   derived.Token,
		Expires: derived.Expires,
	}
	m.accounts = append(m.accounts, a)
	m.store.Upsert(a.ID, store.Record{
		Cookie:  a.Cookie,
		Token:   a.Token,
		Expires: a.Expires,
	})
	m.registerWithRotatorLocked()
	m.sink.Record(accountID, history.EventAdded, "")
	log.Printf("POOL: account added account=%s", accountID)
	return nil
}

// RemoveAccount drops an account from memory, store, and rotator.
func (m *Manager) RemoveAccount(accountID string) error {
	m.mu.Lock()
	idx := -1
	for i, a := range m.accounts {
		if a.ID == accountID {
			idx = i
			break
		}
	}
	if idx == -1 {
		m.mu.Unlock()
		return ErrAccountNotFound
	}
	m.accounts = append(m.accounts[:idx], m.accounts[idx+1:]...)
	m.store.Delete(accountID)
	m.registerWithRotatorLocked()
	m.mu.Unlock()

	m.timers.cancel("cli-refresh:" + accountID)
	m.sink.Record(accountID, history.EventRemoved, "")
	log.Printf("POOL: account removed account=%s", accountID)
	return nil
}

// IsReady reports whether the pool has finished loading.
func (m *Manager) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Ready
}

// Accounts returns a snapshot of the account list for the admin API.
// Cookies and tokens are not included.
func (m *Manager) Accounts() []Account {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		snapshot := Account{ID: a.ID, Expires: a.Expires}
		if a.CLI != nil {
			cli := *a.CLI
			cli.AccessToken = ""
			cli.RefreshToken = ""
			snapshot.CLI = &cli
		}
		out = append(out, snapshot)
	}
	return out
}

// GetStats returns the pool's health snapshot.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	state := m.state
	usage := make(map[string]int)
	for _, a := range m.accounts {
		if a.CLI != nil {
			usage[a.ID] = a.CLI.RequestCount
		}
	}
	m.mu.Unlock()

	return Stats{
		State:    state.String(),
		Rotation: m.rot.GetStats(),
		CLIUsage: usage,
		Store:    m.store.Status(),
	}
}

// IncrementCLIUsage bumps an elevated session's daily counter and returns
// the new value. Returns false when the account has no elevated session.
func (m *Manager) IncrementCLIUsage(accountID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.accounts {
		if a.ID == accountID && a.CLI != nil {
			a.CLI.RequestCount++
			return a.CLI.RequestCount, true
		}
	}
	return 0, false
}

// Shutdown cancels all timers. The store is closed by the owner that opened
// it.
func (m *Manager) Shutdown() {
	m.timers.cancelAll()
	log.Printf("POOL: shut down")
}

// initCliSession bootstraps the elevated session for one account and starts
// its recurring refresh timer.
func (m *Manager) initCliSession(accountID, bearerToken string) {
	ctx := m.timers.register("cli-refresh:" + accountID)

	go func() {
		bootCtx, cancel := context.WithTimeout(ctx, time.Minute)
		info, err := m.exchanger.Bootstrap(bootCtx, bearerToken)
		cancel()
		if err != nil {
			log.Printf("POOL: elevated session init failed account=%s err=%v", accountID, err)
			m.sink.Record(accountID, history.EventRefreshFailed, err.Error())
			return
		}

		m.setCliInfo(accountID, info)
		log.Printf("POOL: elevated session initialized account=%s", accountID)

		ticker := time.NewTicker(cliRefreshPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.refreshCliSession(ctx, accountID)
			}
		}
	}()
}

// refreshCliSession exchanges the current triple for a fresh one. On any
// failure the previous triple stays in force and the next tick retries.
func (m *Manager) refreshCliSession(ctx context.Context, accountID string) {
	m.mu.Lock()
	var current *CliInfo
	for _, a := range m.accounts {
		if a.ID == accountID && a.CLI != nil {
			copied := *a.CLI
			current = &copied
			break
		}
	}
	m.mu.Unlock()

	if current == nil {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Minute)
	refreshed, err := m.exchanger.Refresh(callCtx, current)
	cancel()
	if err != nil {
		log.Printf("POOL: elevated session refresh failed account=%s err=%v", accountID, err)
		m.sink.Record(accountID, history.EventRefreshFailed, err.Error())
		return
	}

	m.setCliInfo(accountID, refreshed)
	log.Printf("POOL: elevated session refreshed account=%s", accountID)
}

// setCliInfo installs an elevated-session record, preserving the daily
// counter across refreshes.
func (m *Manager) setCliInfo(accountID string, info *CliInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.accounts {
		if a.ID == accountID {
			if a.CLI != nil {
				info.RequestCount = a.CLI.RequestCount
			}
			a.CLI = info
			return
		}
	}
}

// scheduleDailyReset arms a one-shot timer for the next local midnight that
// zeroes every elevated session's daily counter, then repeats every 24h.
func (m *Manager) scheduleDailyReset() {
	ctx := m.timers.register("daily-reset")

	go func() {
		timer := time.NewTimer(time.Until(nextMidnight(m.now())))
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				m.resetDailyCounters()
				timer.Reset(24 * time.Hour)
			}
		}
	}()
}

// resetDailyCounters zeroes every elevated session's request counter.
func (m *Manager) resetDailyCounters() {
	m.mu.Lock()
	reset := 0
	for _, a := range m.accounts {
		if a.CLI != nil {
			a.CLI.RequestCount = 0
			reset++
		}
	}
	m.mu.Unlock()

	log.Printf("POOL: daily counters reset sessions=%d", reset)
	m.sink.Record("", history.EventCountersReset, fmt.Sprintf("sessions=%d", reset))
}

// nextMidnight returns the next local midnight after now.
func nextMidnight(now time.Time) time.Time {
	y, mo, d := now.Date()
	return time.Date(y, mo, d+1, 0, 0, 0, 0, now.Location())
}
