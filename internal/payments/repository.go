package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursehub/backend/internal/models"
)

const paymentColumns = `id, transaction_id, order_info, amount, original_amount, discount_amount, voucher_id, voucher_code,
	status, method, student_id, course_id, combo_id, success_redirect_url, cancel_redirect_url, client_ip,
	payment_response, created_at, updated_at, paid_at`

// Repository handles payment persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a payment repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(&p.ID, &p.TransactionID, &p.OrderInfo, &p.Amount, &p.OriginalAmount, &p.DiscountAmount, &p.VoucherID, &p.VoucherCode,
		&p.Status, &p.Method, &p.StudentID, &p.CourseID, &p.ComboID, &p.SuccessRedirectURL, &p.CancelRedirectURL, &p.ClientIP,
		&p.PaymentResponse, &p.CreatedAt, &p.UpdatedAt, &p.PaidAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Create inserts a pending payment. A taken transaction id yields ErrDuplicateTxnRef.
func (r *Repository) Create(ctx context.Context, p *models.Payment) error {
	const q = `INSERT INTO payments (id, transaction_id, order_info, amount, original_amount, discount_amount, voucher_id, voucher_code,
			status, method, student_id, course_id, combo_id, success_redirect_url, cancel_redirect_url, client_ip, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
		RETURNING id, updated_at`
	err := r.pool.QueryRow(ctx, q, p.TransactionID, p.OrderInfo, p.Amount, p.OriginalAmount, p.DiscountAmount, p.VoucherID, p.VoucherCode,
		p.Status, p.Method, p.StudentID, p.CourseID, p.ComboID, p.SuccessRedirectURL, p.CancelRedirectURL, p.ClientIP, p.CreatedAt).
		Scan(&p.ID, &p.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "payments_transaction_id_key" {
		return ErrDuplicateTxnRef
	}
	return err
}

// GetByID returns a payment by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.pool.QueryRow(ctx, q, id))
}

// GetByTransactionID returns a payment by transaction id.
func (r *Repository) GetByTransactionID(ctx context.Context, txnID string) (*models.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE transaction_id = $1`
	return scanPayment(r.pool.QueryRow(ctx, q, txnID))
}

// ListByStudent returns a page of a student's payments, newest first, and the total count.
func (r *Repository) ListByStudent(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]models.Payment, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE student_id = $1`, studentID).Scan(&total); err != nil {
		return nil, 0, err
	}
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE student_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	list, err := r.list(ctx, q, studentID, limit, offset)
	return list, total, err
}

// ListPending returns a page of pending payments, oldest first, and the total count.
func (r *Repository) ListPending(ctx context.Context, limit, offset int) ([]models.Payment, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE status = 'pending'`).Scan(&total); err != nil {
		return nil, 0, err
	}
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE status = 'pending'
		ORDER BY created_at ASC LIMIT $1 OFFSET $2`
	list, err := r.list(ctx, q, limit, offset)
	return list, total, err
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]models.Payment, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

// Settle locks the payment row, checks it is still pending and writes the terminal
// state. A completed payment that used a voucher is counted against the voucher in
// the same transaction.
func (r *Repository) Settle(ctx context.Context, txnID string, s Settlement) (*models.Payment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `SELECT ` + paymentColumns + ` FROM payments WHERE transaction_id = $1 FOR UPDATE`
	p, err := scanPayment(tx.QueryRow(ctx, q, txnID))
	if err != nil {
		return nil, err
	}
	if p.Status != models.PaymentStatusPending {
		return p, ErrAlreadyProcessed
	}

	const upd = `UPDATE payments SET status = $1, paid_at = $2, payment_response = $3, updated_at = NOW()
		WHERE id = $4 RETURNING updated_at`
	if err := tx.QueryRow(ctx, upd, s.Status, s.PaidAt, s.Response, p.ID).Scan(&p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update payment: %w", err)
	}
	p.Status = s.Status
	p.PaidAt = s.PaidAt
	resp := s.Response
	p.PaymentResponse = &resp

	if s.Status == models.PaymentStatusCompleted && p.VoucherID != nil {
		const use = `INSERT INTO voucher_usages (voucher_id, student_id, payment_id)
			VALUES ($1, $2, $3) ON CONFLICT (payment_id) DO NOTHING`
		tag, err := tx.Exec(ctx, use, *p.VoucherID, p.StudentID, p.ID)
		if err != nil {
			return nil, fmt.Errorf("record voucher usage: %w", err)
		}
		if tag.RowsAffected() > 0 {
			if _, err := tx.Exec(ctx, `UPDATE vouchers SET usage_count = usage_count + 1, updated_at = NOW() WHERE id = $1`, *p.VoucherID); err != nil {
				return nil, fmt.Errorf("increment voucher usage: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return p, nil
}
