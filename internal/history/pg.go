package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/medscope/study-search-service/internal/database"
	"github.com/medscope/study-search-service/internal/domain"
)

// DefaultMaxEntries bounds per-user history when no bound is configured.
const DefaultMaxEntries = 50

// Compile-time interface verification.
var _ Repository = (*PgRepository)(nil)

// PgRepository is a PostgreSQL implementation of Repository.
type PgRepository struct {
	db         database.DBTX
	maxEntries int
}

// NewPgRepository creates a PostgreSQL history repository with the given
// per-user entry bound.
func NewPgRepository(db database.DBTX, maxEntries int) *PgRepository {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &PgRepository{db: db, maxEntries: maxEntries}
}

// Add records one search and prunes the user's oldest entries beyond the
// bound.
func (r *PgRepository) Add(ctx context.Context, userID, query string, filters domain.SearchFilters) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.NewValidationError("user_id", "user ID is required")
	}

	filtersJSON, err := json.Marshal(filters)
	if err != nil {
		return fmt.Errorf("marshal history filters: %w", err)
	}

	insert := `
		INSERT INTO search_history (id, user_id, query, filters, created_at)
		VALUES ($1, $2, $3, $4, NOW())`
	if _, err := r.db.Exec(ctx, insert, uuid.New(), userID, query, filtersJSON); err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}

	prune := `
		DELETE FROM search_history
		WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM search_history
			WHERE user_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		)`
	if _, err := r.db.Exec(ctx, prune, userID, r.maxEntries); err != nil {
		return fmt.Errorf("failed to prune history entries: %w", err)
	}
	return nil
}

// List returns the user's history, newest first.
func (r *PgRepository) List(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.NewValidationError("user_id", "user ID is required")
	}
	if limit <= 0 || limit > r.maxEntries {
		limit = r.maxEntries
	}

	query := `
		SELECT id, user_id, query, filters, created_at
		FROM search_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e           Entry
			filtersJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Query, &filtersJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if len(filtersJSON) > 0 {
			if err := json.Unmarshal(filtersJSON, &e.Filters); err != nil {
				return nil, fmt.Errorf("failed to decode history filters: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	return entries, nil
}

// Clear removes all history for the user.
func (r *PgRepository) Clear(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.NewValidationError("user_id", "user ID is required")
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM search_history WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}
