package sqlite

import (
	"time"

	"github.com/vertextoedge/http-ytproxy/internal/domain"
)

// RecordRewrite stores a transformed request
func (s *Store) RecordRewrite(rec *domain.RewriteRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO rewrites (request_id, url, original, rewritten, category, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(query,
		rec.RequestID, rec.URL, rec.Original, rec.Rewritten, rec.Category, rec.CreatedAt.UnixMilli())
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

// RecordFetch stores a finished fetch
func (s *Store) RecordFetch(rec *domain.FetchRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO fetches (request_id, url, "start", "end", kind, status, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(query,
		rec.RequestID, rec.Resource, int64(rec.Start), int64(rec.End),
		rec.Kind.String(), rec.Status, rec.Error,
		rec.Duration.Milliseconds(), rec.CreatedAt.UnixMilli())
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

// RecentFetches returns up to limit fetches, newest first
func (s *Store) RecentFetches(limit int) ([]*domain.FetchRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, request_id, url, "start", "end", kind, status, error, duration_ms, created_at
		FROM fetches
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.FetchRecord
	for rows.Next() {
		var (
			rec                   domain.FetchRecord
			start, end            int64
			kind                  string
			durationMs, createdMs int64
		)
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.Resource, &start, &end,
			&kind, &rec.Status, &rec.Error, &durationMs, &createdMs); err != nil {
			return nil, err
		}
		rec.Start = uint64(start)
		rec.End = uint64(end)
		rec.Kind = domain.ParseFetchKind(kind)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.CreatedAt = time.UnixMilli(createdMs)
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// FetchSummary counts fetches by status and rewrites in total
func (s *Store) FetchSummary() (*domain.FetchSummary, error) {
	summary := &domain.FetchSummary{}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM fetches GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		summary.Total += count
		switch status {
		case domain.FetchStatusCompleted:
			summary.Completed = count
		case domain.FetchStatusFailed:
			summary.Failed = count
		case domain.FetchStatusTimeout:
			summary.TimedOut = count
		case domain.FetchStatusCancelled:
			summary.Cancelled = count
		case domain.FetchStatusPreempted:
			summary.Preempted = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM rewrites`).Scan(&summary.Rewrites); err != nil {
		return nil, err
	}

	return summary, nil
}

// PruneOlderThan deletes journal entries older than d
func (s *Store) PruneOlderThan(d time.Duration) (int64, error) {
	cutoff := time.Now().Add(-d).UnixMilli()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var removed int64
	for _, query := range []string{
		`DELETE FROM fetches WHERE created_at < ?`,
		`DELETE FROM rewrites WHERE created_at < ?`,
	} {
		result, err := tx.Exec(query, cutoff)
		if err != nil {
			return 0, err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, err
		}
		removed += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return removed, nil
}
