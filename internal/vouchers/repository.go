package vouchers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursehub/backend/internal/models"
)

const voucherColumns = `id, code, description, discount_type, discount_value, minimum_purchase_amount, maximum_discount_amount,
	valid_from, valid_until, total_usage_limit, per_user_limit, usage_count, applicable_courses, applicable_combos,
	is_active, created_by, created_at, updated_at`

// Repository handles voucher and voucher usage persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a voucher repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanVoucher(row pgx.Row) (*models.Voucher, error) {
	var v models.Voucher
	err := row.Scan(&v.ID, &v.Code, &v.Description, &v.DiscountType, &v.DiscountValue, &v.MinimumPurchaseAmount, &v.MaximumDiscountAmount,
		&v.ValidFrom, &v.ValidUntil, &v.TotalUsageLimit, &v.PerUserLimit, &v.UsageCount, &v.ApplicableCourses, &v.ApplicableCombos,
		&v.IsActive, &v.CreatedBy, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

// FindActiveByCode returns the active voucher for code whose validity window contains at.
func (r *Repository) FindActiveByCode(ctx context.Context, code string, at time.Time) (*models.Voucher, error) {
	q := `SELECT ` + voucherColumns + ` FROM vouchers
		WHERE code = $1 AND is_active AND valid_from <= $2 AND valid_until >= $2`
	return scanVoucher(r.pool.QueryRow(ctx, q, code, at))
}

// CountUsageByStudent counts redemptions of a voucher by one student.
func (r *Repository) CountUsageByStudent(ctx context.Context, voucherID, studentID uuid.UUID) (int, error) {
	const q = `SELECT COUNT(*) FROM voucher_usages WHERE voucher_id = $1 AND student_id = $2`
	var n int
	err := r.pool.QueryRow(ctx, q, voucherID, studentID).Scan(&n)
	return n, err
}

// Create inserts a voucher.
func (r *Repository) Create(ctx context.Context, v *models.Voucher) error {
	const q = `INSERT INTO vouchers (id, code, description, discount_type, discount_value, minimum_purchase_amount, maximum_discount_amount,
			valid_from, valid_until, total_usage_limit, per_user_limit, applicable_courses, applicable_combos, created_by)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, '{}'::uuid[]), COALESCE($12, '{}'::uuid[]), $13)
		RETURNING id, usage_count, is_active, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, v.Code, v.Description, v.DiscountType, v.DiscountValue, v.MinimumPurchaseAmount, v.MaximumDiscountAmount,
		v.ValidFrom, v.ValidUntil, v.TotalUsageLimit, v.PerUserLimit, v.ApplicableCourses, v.ApplicableCombos, v.CreatedBy).
		Scan(&v.ID, &v.UsageCount, &v.IsActive, &v.CreatedAt, &v.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrCodeConflict
	}
	return err
}

// Update writes the editable fields of a voucher.
func (r *Repository) Update(ctx context.Context, v *models.Voucher) error {
	const q = `UPDATE vouchers SET code = $1, description = $2, discount_type = $3, discount_value = $4,
			minimum_purchase_amount = $5, maximum_discount_amount = $6, valid_from = $7, valid_until = $8,
			total_usage_limit = $9, per_user_limit = $10, applicable_courses = COALESCE($11, '{}'::uuid[]),
			applicable_combos = COALESCE($12, '{}'::uuid[]), updated_at = NOW()
		WHERE id = $13
		RETURNING updated_at`
	err := r.pool.QueryRow(ctx, q, v.Code, v.Description, v.DiscountType, v.DiscountValue, v.MinimumPurchaseAmount, v.MaximumDiscountAmount,
		v.ValidFrom, v.ValidUntil, v.TotalUsageLimit, v.PerUserLimit, v.ApplicableCourses, v.ApplicableCombos, v.ID).
		Scan(&v.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case isUniqueViolation(err):
		return ErrCodeConflict
	}
	return err
}

// GetByID returns a voucher by ID, active or not.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Voucher, error) {
	return scanVoucher(r.pool.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id = $1`, id))
}

// GetByCode returns the active voucher for code regardless of its validity window.
func (r *Repository) GetByCode(ctx context.Context, code string) (*models.Voucher, error) {
	return scanVoucher(r.pool.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE code = $1 AND is_active`, code))
}

// List returns vouchers newest first, with the total count for pagination.
func (r *Repository) List(ctx context.Context, activeOnly bool, limit, offset int) ([]models.Voucher, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM vouchers WHERE is_active OR NOT $1`, activeOnly).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count vouchers: %w", err)
	}
	q := `SELECT ` + voucherColumns + ` FROM vouchers WHERE is_active OR NOT $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, activeOnly, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	list := make([]models.Voucher, 0, limit)
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, *v)
	}
	return list, total, rows.Err()
}

// Deactivate soft-deletes a voucher.
func (r *Repository) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE vouchers SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
