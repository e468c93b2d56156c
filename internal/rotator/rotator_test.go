package rotator

import (
	"testing"
	"time"
)

// fakeClock is an adjustable clock for cooldown tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func testRotator(t *testing.T, accounts []Account) (*Rotator, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	r := New(WithClock(clock.Now))
	if err := r.SetAccounts(accounts); err != nil {
		t.Fatalf("SetAccounts() error: %v", err)
	}
	return r, clock
}

func threeAccounts() []Account {
	return []Account{
		{ID: "a1", Token: "tok1"},
		{ID: "a2", Token: "tok2"},
		{ID: "a3", Token: "tok3"},
	}
}

func TestSetAccountsNil(t *testing.T) {
	r := New()
	if err := r.SetAccounts(nil); err == nil {
		t.Error("SetAccounts(nil) expected error")
	}
}

func TestSetAccountsPrunesBookkeeping(t *testing.T) {
	r, _ := testRotator(t, threeAccounts())

	r.ReportFailure("a1")
	r.ReportFailure("a2")

	// a2 disappears from the new list.
	if err := r.SetAccounts([]Account{{ID: "a1", Token: "tok1"}}); err != nil {
		t.Fatalf("SetAccounts() error: %v", err)
	}

	stats := r.GetStats()
	if stats.Total != 1 {
		t.Fatalf("Total = %d, want 1", stats.Total)
	}
	if _, ok := stats.Accounts["a2"]; ok {
		t.Error("bookkeeping for removed account a2 was not pruned")
	}
	if stats.Accounts["a1"].Failures != 1 {
		t.Errorf("a1 failures = %d, want 1 (kept across SetAccounts)", stats.Accounts["a1"].Failures)
	}
}

// SetAccounts with an identical list leaves bookkeeping unchanged apart
// from resetting the cursor.
func TestSetAccountsIdempotent(t *testing.T) {
	r, _ := testRotator(t, threeAccounts())

	r.ReportFailure("a1")
	r.ReportFailure("a1")
	before := r.GetStats()

	if err := r.SetAccounts(threeAccounts()); err != nil {
		t.Fatalf("SetAccounts() error: %v", err)
	}
	after := r.GetStats()

	if before.Accounts["a1"].Failures != after.Accounts["a1"].Failures {
		t.Errorf("failures changed: before=%d after=%d",
			before.Accounts["a1"].Failures, after.Accounts["a1"].Failures)
	}
}

func TestSelectNextLeastRecentlyUsed(t *testing.T) {
	r, clock := testRotator(t, threeAccounts())

	// Equal (zero) timestamps: list order wins.
	tok, ok := r.SelectNext()
	if !ok || tok != "tok1" {
		t.Fatalf("first SelectNext() = (%q, %v), want (tok1, true)", tok, ok)
	}

	clock.Advance(time.Second)
	tok, _ = r.SelectNext()
	if tok != "tok2" {
		t.Fatalf("second SelectNext() = %q, want tok2", tok)
	}

	clock.Advance(time.Second)
	tok, _ = r.SelectNext()
	if tok != "tok3" {
		t.Fatalf("third SelectNext() = %q, want tok3", tok)
	}

	// a1 is now the least recently used again.
	clock.Advance(time.Second)
	tok, _ = r.SelectNext()
	if tok != "tok1" {
		t.Errorf("fourth SelectNext() = %q, want tok1 (oldest lastUsed)", tok)
	}
}

// With two or more unused accounts, SelectNext never returns the same
// account twice in a row.
func TestSelectNextNeverRepeatsWhenOthersUnused(t *testing.T) {
	r, clock := testRotator(t, threeAccounts())

	prev, _ := r.SelectNext()
	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		tok, ok := r.SelectNext()
		if !ok {
			t.Fatal("SelectNext() = false with healthy accounts")
		}
		if tok == prev {
			t.Fatalf("SelectNext() returned %q twice in a row", tok)
		}
		prev = tok
	}
}

func TestSelectNextSkipsTokenless(t *testing.T) {
	r, _ := testRotator(t, []Account{
		{ID: "a1", Token: ""},
		{ID: "a2", Token: "tok2"},
	})

	tok, ok := r.SelectNext()
	if !ok || tok != "tok2" {
		t.Errorf("SelectNext() = (%q, %v), want (tok2, true)", tok, ok)
	}
}

func TestSelectNextNoUsableTokens(t *testing.T) {
	r, _ := testRotator(t, []Account{
		{ID: "a1", Token: ""},
		{ID: "a2", Token: ""},
	})

	if tok, ok := r.SelectNext(); ok {
		t.Errorf("SelectNext() = (%q, true), want none", tok)
	}
}

func TestSelectNextEmptyList(t *testing.T) {
	r, _ := testRotator(t, []Account{})
	if tok, ok := r.SelectNext(); ok {
		t.Errorf("SelectNext() = (%q, true) on empty list, want none", tok)
	}
}

// When every account is in cooldown the rotator falls back to round-robin
// over the full list rather than refusing the request.
func TestSelectNextFallbackIgnoresCooldown(t *testing.T) {
	r, clock := testRotator(t, threeAccounts())

	for _, id := range []string{"a1", "a2", "a3"} {
		// Mark used so cooldown windows are anchored.
		r.SelectByID(id)
		for i := 0; i < MaxFailures; i++ {
			r.ReportFailure(id)
		}
	}
	clock.Advance(time.Second)

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		tok, ok := r.SelectNext()
		if !ok {
			t.Fatal("fallback SelectNext() = false, want a token")
		}
		seen[tok] = true
	}
	if len(seen) != 3 {
		t.Errorf("round-robin fallback cycled %d distinct tokens, want 3", len(seen))
	}
}

func TestCooldownLifecycle(t *testing.T) {
	r, clock := testRotator(t, threeAccounts())

	// a2 fails three times within the window.
	r.SelectByID("a2")
	for i := 0; i < MaxFailures; i++ {
		r.ReportFailure("a2")
	}

	stats := r.GetStats()
	if stats.Available != 2 || stats.InCooldown != 1 {
		t.Fatalf("stats = available:%d in_cooldown:%d, want 2/1", stats.Available, stats.InCooldown)
	}
	if stats.Accounts["a2"].Available {
		t.Error("a2 reported available while in cooldown")
	}

	// Past the cooldown window the account recovers and failures reset.
	clock.Advance(CooldownPeriod)
	stats = r.GetStats()
	if stats.Available != 3 || stats.InCooldown != 0 {
		t.Fatalf("post-cooldown stats = available:%d in_cooldown:%d, want 3/0", stats.Available, stats.InCooldown)
	}

	if tok, ok := r.SelectByID("a2"); !ok || tok != "tok2" {
		t.Errorf("SelectByID(a2) = (%q, %v) after cooldown, want (tok2, true)", tok, ok)
	}
	if got := r.GetStats().Accounts["a2"].Failures; got != 0 {
		t.Errorf("a2 failures = %d after cooldown elapsed, want 0", got)
	}
}

func TestSelectByID(t *testing.T) {
	r, _ := testRotator(t, threeAccounts())

	if tok, ok := r.SelectByID("a2"); !ok || tok != "tok2" {
		t.Errorf("SelectByID(a2) = (%q, %v), want (tok2, true)", tok, ok)
	}
	if _, ok := r.SelectByID("missing"); ok {
		t.Error("SelectByID(missing) = true, want false")
	}

	// Cooldown is not bypassed.
	for i := 0; i < MaxFailures; i++ {
		r.ReportFailure("a2")
	}
	if _, ok := r.SelectByID("a2"); ok {
		t.Error("SelectByID(a2) = true during cooldown, want false")
	}
}

func TestReportSuccessClearsFailures(t *testing.T) {
	r, _ := testRotator(t, threeAccounts())

	r.ReportFailure("a1")
	r.ReportFailure("a1")
	r.ReportSuccess("a1")

	if got := r.GetStats().Accounts["a1"].Failures; got != 0 {
		t.Errorf("failures = %d after ReportSuccess, want 0", got)
	}
}

func TestReportFailureCount(t *testing.T) {
	r, _ := testRotator(t, threeAccounts())

	for want := 1; want <= 4; want++ {
		if got := r.ReportFailure("a1"); got != want {
			t.Errorf("ReportFailure() = %d, want %d", got, want)
		}
	}
}
