package repository

import (
	"time"

	"github.com/vertextoedge/http-ytproxy/internal/domain"
)

// JournalRepository records rewrite decisions and fetch outcomes
type JournalRepository interface {
	// RecordRewrite stores a transformed request and sets rec.ID
	RecordRewrite(rec *domain.RewriteRecord) error

	// RecordFetch stores a finished fetch and sets rec.ID
	RecordFetch(rec *domain.FetchRecord) error

	// RecentFetches returns up to limit fetches, newest first
	RecentFetches(limit int) ([]*domain.FetchRecord, error)

	// FetchSummary counts fetches by status and rewrites in total
	FetchSummary() (*domain.FetchSummary, error)

	// PruneOlderThan deletes entries older than d and returns how many were removed
	PruneOlderThan(d time.Duration) (int64, error)
}
