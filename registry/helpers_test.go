package registry

import (
	"context"
	"testing"

	"birthday_bot/history"
)

func assertHistoryRows(t *testing.T, path string, userID int64, want int) {
	t.Helper()
	s, err := history.Open(path)
	if err != nil {
		t.Fatalf("history.Open() error = %v", err)
	}
	defer s.Close()
	rows, err := s.ListByUser(context.Background(), userID, 10)
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(rows) != want {
		t.Fatalf("history rows = %d, want %d", len(rows), want)
	}
	if rows[0].Outcome != "success" || rows[0].SavedImages != 2 {
		t.Errorf("history row = %+v", rows[0])
	}
}
