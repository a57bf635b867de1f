// Package history persists per-user search history.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medscope/study-search-service/internal/domain"
)

// Entry is one recorded search.
type Entry struct {
	ID        uuid.UUID            `json:"id"`
	UserID    string               `json:"user_id"`
	Query     string               `json:"query"`
	Filters   domain.SearchFilters `json:"filters"`
	CreatedAt time.Time            `json:"created_at"`
}

// Repository manages search history keyed by user ID. Entries are recorded
// only for authenticated users and kept newest first, bounded per user.
type Repository interface {
	// Add records one search for the user and prunes entries beyond the
	// per-user bound.
	Add(ctx context.Context, userID, query string, filters domain.SearchFilters) error

	// List returns the user's history, newest first, at most limit entries.
	// A limit of 0 uses the repository's bound.
	List(ctx context.Context, userID string, limit int) ([]*Entry, error)

	// Clear removes all history for the user.
	Clear(ctx context.Context, userID string) error
}
