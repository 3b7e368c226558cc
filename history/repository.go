package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// timeLayout sorts lexically, so created_at comparisons work on the text.
// The column is declared TEXT so the driver hands it back unconverted.
const timeLayout = "2006-01-02 15:04:05.000"

// Generation is one row of the generations table.
type Generation struct {
	ID           int64     `json:"id"`
	RequestID    string    `json:"request_id"`
	UserID       int64     `json:"user_id"`
	OriginalText string    `json:"original_text"`
	UsedContent  string    `json:"used_content,omitempty"`
	Translated   bool      `json:"translated"`
	DeviceID     string    `json:"device_id,omitempty"`
	NumImages    int       `json:"num_images"`
	SavedImages  int       `json:"saved_images"`
	Outcome      string    `json:"outcome"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// Insert stores g and returns its row id.
func (s *Store) Insert(ctx context.Context, g Generation) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO generations (
			request_id, user_id, original_text, used_content, translated,
			device_id, num_images, saved_images, outcome, error_message,
			duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.RequestID, g.UserID, g.OriginalText, nullString(g.UsedContent), g.Translated,
		nullString(g.DeviceID), g.NumImages, g.SavedImages, g.Outcome, nullString(g.ErrorMessage),
		g.DurationMS, g.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("insert generation: %w", err)
	}
	return res.LastInsertId()
}

// ListByUser returns the user's most recent generations, newest first.
func (s *Store) ListByUser(ctx context.Context, userID int64, limit int) ([]Generation, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.query(ctx, `
		SELECT id, request_id, user_id, original_text, used_content, translated,
			device_id, num_images, saved_images, outcome, error_message,
			duration_ms, created_at
		FROM generations
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
}

// Recent returns the latest generations across all users.
func (s *Store) Recent(ctx context.Context, limit int) ([]Generation, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.query(ctx, `
		SELECT id, request_id, user_id, original_text, used_content, translated,
			device_id, num_images, saved_images, outcome, error_message,
			duration_ms, created_at
		FROM generations
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Generation, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query generations: %w", err)
	}
	defer rows.Close()

	var out []Generation
	for rows.Next() {
		var (
			g                    Generation
			used, device, errMsg sql.NullString
			created              string
		)
		if err := rows.Scan(&g.ID, &g.RequestID, &g.UserID, &g.OriginalText, &used, &g.Translated,
			&device, &g.NumImages, &g.SavedImages, &g.Outcome, &errMsg,
			&g.DurationMS, &created); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		g.UsedContent, g.DeviceID, g.ErrorMessage = used.String, device.String, errMsg.String
		if g.CreatedAt, err = time.ParseInLocation(timeLayout, created, time.UTC); err != nil {
			return nil, fmt.Errorf("generation %d: parse created_at %q: %w", g.ID, created, err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// CountByOutcome returns the number of rows per outcome.
func (s *Store) CountByOutcome(ctx context.Context) (map[string]int64, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM generations GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("count generations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			outcome string
			n       int64
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		out[outcome] = n
	}
	return out, rows.Err()
}

// Prune deletes rows created before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM generations WHERE created_at < ?`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune generations: %w", err)
	}
	return res.RowsAffected()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
