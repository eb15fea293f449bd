package payments

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursehub/backend/internal/models"
	"github.com/coursehub/backend/pkg/database"
)

// newTestPool connects to TEST_DATABASE_URL and applies migrations.
// Tests using it are skipped when the variable is unset.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, dsn, database.PoolConfig{MaxConns: 16}, nil)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.Migrate(ctx, pool, nil))
	return pool
}

type dbFixture struct {
	repo      *Repository
	pool      *pgxpool.Pool
	courseID  uuid.UUID
	voucherID uuid.UUID
}

func newDBFixture(t *testing.T) *dbFixture {
	pool := newTestPool(t)
	ctx := context.Background()
	f := &dbFixture{repo: NewRepository(pool), pool: pool}
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO courses (title, price, status) VALUES ('Go Basics', 1200000, 'approved') RETURNING id`).Scan(&f.courseID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO vouchers (code, discount_type, discount_value, valid_from, valid_until)
		VALUES ($1, 'percentage', 10, NOW() - INTERVAL '1 day', NOW() + INTERVAL '1 day') RETURNING id`,
		"T"+uuid.NewString()[:8]).Scan(&f.voucherID))
	return f
}

func (f *dbFixture) pending(t *testing.T, withVoucher bool) *models.Payment {
	t.Helper()
	p := &models.Payment{
		TransactionID:  "T" + uuid.NewString()[:20],
		OrderInfo:      "Payment for Go Basics",
		Amount:         dec("1080000"),
		OriginalAmount: dec("1200000"),
		DiscountAmount: dec("120000"),
		Status:         models.PaymentStatusPending,
		Method:         models.PaymentMethodVNPay,
		StudentID:      uuid.New(),
		CourseID:       &f.courseID,
		CreatedAt:      time.Now(),
	}
	if withVoucher {
		p.VoucherID = &f.voucherID
	}
	require.NoError(t, f.repo.Create(context.Background(), p))
	return p
}

func (f *dbFixture) voucherUsage(t *testing.T) (count, rows int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.pool.QueryRow(ctx, `SELECT usage_count FROM vouchers WHERE id = $1`, f.voucherID).Scan(&count))
	require.NoError(t, f.pool.QueryRow(ctx, `SELECT COUNT(*) FROM voucher_usages WHERE voucher_id = $1`, f.voucherID).Scan(&rows))
	return count, rows
}

func TestRepositorySettle_ConcurrentCallbacksSettleOnce(t *testing.T) {
	f := newDBFixture(t)
	p := f.pending(t, true)
	paidAt := time.Now().UTC().Truncate(time.Second)

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		settled   int
		processed int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.repo.Settle(context.Background(), p.TransactionID, Settlement{
				Status: models.PaymentStatusCompleted, PaidAt: &paidAt, Response: "vnp_ResponseCode=00",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				settled++
			case errors.Is(err, ErrAlreadyProcessed):
				processed++
			default:
				t.Errorf("unexpected settle error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, settled)
	assert.Equal(t, callers-1, processed)
	count, rows := f.voucherUsage(t)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, rows)

	got, err := f.repo.GetByTransactionID(context.Background(), p.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, got.Status)
	require.NotNil(t, got.PaidAt)
}

func TestRepositorySettle_TerminalStateIsFinal(t *testing.T) {
	f := newDBFixture(t)
	p := f.pending(t, true)
	ctx := context.Background()

	_, err := f.repo.Settle(ctx, p.TransactionID, Settlement{Status: models.PaymentStatusFailed, Response: "vnp_ResponseCode=24"})
	require.NoError(t, err)

	paidAt := time.Now()
	cur, err := f.repo.Settle(ctx, p.TransactionID, Settlement{Status: models.PaymentStatusCompleted, PaidAt: &paidAt, Response: "vnp_ResponseCode=00"})
	require.ErrorIs(t, err, ErrAlreadyProcessed)
	assert.Equal(t, models.PaymentStatusFailed, cur.Status)
	assert.Nil(t, cur.PaidAt)

	count, rows := f.voucherUsage(t)
	assert.Zero(t, count, "failed payments do not redeem vouchers")
	assert.Zero(t, rows)
}

func TestRepositorySettle_UnknownTransaction(t *testing.T) {
	f := newDBFixture(t)
	_, err := f.repo.Settle(context.Background(), "MISSING"+uuid.NewString()[:8], Settlement{Status: models.PaymentStatusFailed})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryCreate_DuplicateTransactionID(t *testing.T) {
	f := newDBFixture(t)
	p := f.pending(t, false)
	dup := *p
	assert.ErrorIs(t, f.repo.Create(context.Background(), &dup), ErrDuplicateTxnRef)
}
