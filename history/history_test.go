package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"birthday_bot/generation"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "history.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_AppliesMigrations(t *testing.T) {
	s := openTestStore(t)
	v, dirty, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if v != 1 || dirty {
		t.Errorf("SchemaVersion() = %d dirty=%v, want 1 clean", v, dirty)
	}

	// Reopening an existing database is a no-op migration.
	s2, err := Open(s.Path())
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	s2.Close()
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Error("Open(\"\") error = nil")
	}
}

func TestInsertAndListByUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := []Generation{
		{RequestID: "a", UserID: 1, OriginalText: "кот", UsedContent: "cat", Translated: true, DeviceID: "cuda:0", NumImages: 4, SavedImages: 4, Outcome: "success", CreatedAt: base},
		{RequestID: "b", UserID: 1, OriginalText: "dog", Outcome: "rejected", ErrorMessage: "busy", CreatedAt: base.Add(time.Minute)},
		{RequestID: "c", UserID: 2, OriginalText: "cake", Outcome: "success", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range rows {
		if _, err := s.Insert(ctx, r); err != nil {
			t.Fatalf("Insert(%s) error = %v", r.RequestID, err)
		}
	}

	got, err := s.ListByUser(ctx, 1, 10)
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(got) != 2 || got[0].RequestID != "b" || got[1].RequestID != "a" {
		t.Fatalf("ListByUser() = %+v, want b then a", got)
	}
	first := got[1]
	if !first.Translated || first.UsedContent != "cat" || first.DeviceID != "cuda:0" || !first.CreatedAt.Equal(base) {
		t.Errorf("round trip = %+v", first)
	}
	if got[0].ErrorMessage != "busy" || got[0].DeviceID != "" {
		t.Errorf("nullable columns = %+v", got[0])
	}

	counts, err := s.CountByOutcome(ctx)
	if err != nil {
		t.Fatalf("CountByOutcome() error = %v", err)
	}
	if counts["success"] != 2 || counts["rejected"] != 1 {
		t.Errorf("CountByOutcome() = %v", counts)
	}
}

func TestInsert_DuplicateRequestID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	g := Generation{RequestID: "dup", UserID: 1, OriginalText: "x", Outcome: "success"}
	if _, err := s.Insert(ctx, g); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if _, err := s.Insert(ctx, g); err == nil {
		t.Error("second Insert() with same request id succeeded")
	}
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	for i, age := range []time.Duration{48 * time.Hour, 12 * time.Hour, time.Hour} {
		g := Generation{RequestID: string(rune('a' + i)), UserID: 1, OriginalText: "x", Outcome: "success", CreatedAt: now.Add(-age)}
		if _, err := s.Insert(ctx, g); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() deleted %d, want 1", n)
	}
	left, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(left) != 2 {
		t.Fatalf("Recent() = %d rows, want 2", len(left))
	}
	if want := now.Add(-time.Hour); !left[0].CreatedAt.Equal(want) {
		t.Errorf("Recent()[0].CreatedAt = %v, want %v", left[0].CreatedAt, want)
	}
}

func TestQuery_BadTimestampIsAnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	db, err := s.conn()
	if err != nil {
		t.Fatalf("conn() error = %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO generations (request_id, user_id, original_text, outcome, created_at)
		VALUES ('bad', 1, 'x', 'success', 'yesterday')`); err != nil {
		t.Fatalf("raw insert error = %v", err)
	}
	if _, err := s.ListByUser(ctx, 1, 10); err == nil {
		t.Error("ListByUser() error = nil for an unparseable created_at")
	}
}

func TestClosedStore(t *testing.T) {
	s := openTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := s.Insert(context.Background(), Generation{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Insert() after Close = %v, want ErrClosed", err)
	}
}

func TestWriter_DrainsOnClose(t *testing.T) {
	s := openTestStore(t)
	w := NewWriter(s, 10, nil)

	w.Record(generation.Entry{RequestID: "r1", UserID: 9, OriginalText: "cake", Outcome: generation.OutcomeSuccess, SavedImages: 4, Duration: 1500 * time.Millisecond})
	w.Record(generation.Entry{RequestID: "r2", UserID: 9, OriginalText: "cake", Outcome: generation.OutcomeFailure, Err: errors.New("boom")})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got, err := s.ListByUser(context.Background(), 9, 10)
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListByUser() = %d rows, want 2", len(got))
	}
	byID := map[string]Generation{}
	for _, g := range got {
		byID[g.RequestID] = g
	}
	if byID["r1"].DurationMS != 1500 || byID["r1"].SavedImages != 4 {
		t.Errorf("r1 = %+v", byID["r1"])
	}
	if byID["r2"].ErrorMessage != "boom" {
		t.Errorf("r2 error message = %q", byID["r2"].ErrorMessage)
	}
	if st := w.Stats(); st.Written != 2 || st.Dropped != 0 {
		t.Errorf("Stats() = %+v", st)
	}

	w.Record(generation.Entry{RequestID: "late"})
	if st := w.Stats(); st.Dropped != 1 {
		t.Errorf("Record after Close not dropped: %+v", st)
	}
}

func TestWriter_ImplementsHistoryRecorder(t *testing.T) {
	var _ generation.HistoryRecorder = (*Writer)(nil)
}
