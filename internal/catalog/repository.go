// Package catalog is the read side of the course catalog used at checkout.
package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursehub/backend/internal/models"
)

// ErrNotFound is returned when a course or combo does not exist.
var ErrNotFound = errors.New("catalog item not found")

// Repository looks up courses and combos.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a catalog repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetCourse returns a course by ID.
func (r *Repository) GetCourse(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	const q = `SELECT id, title, price, status, purchase_count FROM courses WHERE id = $1`
	var c models.Course
	err := r.pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.Title, &c.Price, &c.Status, &c.PurchaseCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCombo returns a combo by ID with its member course IDs in display order.
func (r *Repository) GetCombo(ctx context.Context, id uuid.UUID) (*models.CourseCombo, error) {
	const q = `SELECT c.id, c.title, c.price, c.is_active, c.expires_at,
			COALESCE(ARRAY(SELECT i.course_id FROM course_combo_items i WHERE i.combo_id = c.id ORDER BY i.position, i.course_id), '{}')
		FROM course_combos c WHERE c.id = $1`
	var cb models.CourseCombo
	err := r.pool.QueryRow(ctx, q, id).Scan(&cb.ID, &cb.Title, &cb.Price, &cb.IsActive, &cb.ExpiresAt, &cb.CourseIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cb, nil
}
