package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// testStore opens a store in a temp directory with a fast flush cadence.
func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.json")
	s, err := Open(path, WithFlushInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(s.Close)
	return s, path
}

func TestUpsertAndGetAll(t *testing.T) {
	s, _ := testStore(t)

	if !s.Upsert("a1", Record{Cookie: "sessionKey=tok1", Token: "tok1", Expires: 1234}) {
		t.Fatal("Upsert() = false, want true")
	}

	records := s.GetAll()
	if len(records) != 1 {
		t.Fatalf("GetAll() returned %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.AccountID != "a1" || rec.Cookie != "sessionKey=tok1" || rec.Token != "tok1" || rec.Expires != 1234 {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set on upsert")
	}
}

func TestUpsertReplaces(t *testing.T) {
	s, _ := testStore(t)

	s.Upsert("a1", Record{Token: "old"})
	s.Upsert("a1", Record{Token: "new"})

	records := s.GetAll()
	if len(records) != 1 {
		t.Fatalf("GetAll() returned %d records, want 1", len(records))
	}
	if records[0].Token != "new" {
		t.Errorf("Token = %q, want %q", records[0].Token, "new")
	}
}

func TestDeleteAndExists(t *testing.T) {
	s, _ := testStore(t)

	s.Upsert("a1", Record{Token: "tok"})
	if !s.Exists("a1") {
		t.Fatal("Exists(a1) = false after upsert")
	}

	if !s.Delete("a1") {
		t.Fatal("Delete(a1) = false, want true")
	}
	if s.Exists("a1") {
		t.Error("Exists(a1) = true after delete")
	}
	if s.Delete("a1") {
		t.Error("Delete(a1) = true for absent record")
	}
}

func TestClearAll(t *testing.T) {
	s, _ := testStore(t)

	s.Upsert("a1", Record{})
	s.Upsert("a2", Record{})
	if !s.ClearAll() {
		t.Fatal("ClearAll() = false, want true")
	}
	if got := len(s.GetAll()); got != 0 {
		t.Errorf("GetAll() returned %d records after ClearAll, want 0", got)
	}
}

func TestOrderedOperations(t *testing.T) {
	s, _ := testStore(t)

	// Read-your-writes: a read submitted after a write must observe it.
	for i := 0; i < 100; i++ {
		s.Upsert("a1", Record{Expires: int64(i)})
		records := s.GetAll()
		if len(records) != 1 || records[0].Expires != int64(i) {
			t.Fatalf("iteration %d: read did not observe preceding write: %+v", i, records)
		}
	}
}

func TestCloseFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	s, err := Open(path, WithFlushInterval(time.Hour)) // never flush in background
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	s.Upsert("a1", Record{Token: "tok"})
	s.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading durable file: %v", err)
	}
	var records map[string]Record
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("durable file is not valid JSON: %v", err)
	}
	if records["a1"].Token != "tok" {
		t.Errorf("durable record = %+v, want token %q", records["a1"], "tok")
	}
}

func TestCloseTwice(t *testing.T) {
	s, _ := testStore(t)
	s.Close()
	s.Close() // must not panic or block
}

func TestOperationsAfterClose(t *testing.T) {
	s, _ := testStore(t)
	s.Close()

	if s.Upsert("a1", Record{}) {
		t.Error("Upsert() = true after Close")
	}
	if got := s.GetAll(); len(got) != 0 {
		t.Errorf("GetAll() = %v after Close, want empty", got)
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	s.Upsert("a1", Record{Cookie: "c", Token: "tok", Expires: 99})
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer s2.Close()

	records := s2.GetAll()
	if len(records) != 1 || records[0].Token != "tok" || records[0].Expires != 99 {
		t.Errorf("reopened records = %+v, want the persisted record", records)
	}
}

// A crash between the temp write and the rename must leave the previous
// durable image intact. Simulated by dropping an orphaned temp file next to
// a valid durable file.
func TestCrashBeforeRenameKeepsPreviousImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	s.Upsert("a1", Record{Token: "survivor"})
	s.Close()

	// Orphaned temp file from an aborted flush.
	if err := os.WriteFile(path+".tmp", []byte("{half-written"), 0o600); err != nil {
		t.Fatalf("writing orphan temp file: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer s2.Close()

	records := s2.GetAll()
	if len(records) != 1 || records[0].Token != "survivor" {
		t.Errorf("previous image lost: %+v", records)
	}
}

func TestCorruptFileBackedUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	if err := os.WriteFile(path, []byte("not json at all"), 0o600); err != nil {
		t.Fatalf("writing corrupt file: %v", err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() must not fail on corrupt file, got: %v", err)
	}
	defer s.Close()

	if got := len(s.GetAll()); got != 0 {
		t.Errorf("GetAll() returned %d records from corrupt file, want 0", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error: %v", err)
	}
	foundBackup := false
	for _, e := range entries {
		if strings.Contains(e.Name(), ".corrupt.") {
			foundBackup = true
		}
	}
	if !foundBackup {
		t.Error("corrupt file was not backed up with a timestamp suffix")
	}
}

func TestBackgroundFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	s, err := Open(path, WithFlushInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	s.Upsert("a1", Record{Token: "tok"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return // flushed
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("background flush never wrote the durable file")
}

func TestStatus(t *testing.T) {
	s, path := testStore(t)

	s.Upsert("a1", Record{})
	st := s.Status()
	if st.Path != path {
		t.Errorf("Status().Path = %q, want %q", st.Path, path)
	}
	if st.Count != 1 {
		t.Errorf("Status().Count = %d, want 1", st.Count)
	}
}
