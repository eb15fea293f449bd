package enrollments

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursehub/backend/internal/models"
)

// Repository handles enrollment persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an enrollments repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateBatch inserts all items in one transaction.
func (r *Repository) CreateBatch(ctx context.Context, items []models.Enrollment) ([]models.Enrollment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const insert = `INSERT INTO enrollments (id, student_id, course_id, combo_id, payment_id, voucher_code, price_paid)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)
		ON CONFLICT (student_id, course_id) DO NOTHING
		RETURNING id, enrolled_at`
	const bump = `UPDATE courses SET purchase_count = purchase_count + 1, updated_at = NOW() WHERE id = $1`

	var created []models.Enrollment
	for _, e := range items {
		err := tx.QueryRow(ctx, insert, e.StudentID, e.CourseID, e.ComboID, e.PaymentID, e.VoucherCode, e.PricePaid).
			Scan(&e.ID, &e.EnrolledAt)
		if err == pgx.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert enrollment for course %s: %w", e.CourseID, err)
		}
		if _, err := tx.Exec(ctx, bump, e.CourseID); err != nil {
			return nil, fmt.Errorf("bump purchase count: %w", err)
		}
		created = append(created, e)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}
