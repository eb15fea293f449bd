package enrollments_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursehub/backend/internal/catalog"
	"github.com/coursehub/backend/internal/enrollments"
	"github.com/coursehub/backend/internal/models"
)

type fakeCatalog struct {
	combos map[uuid.UUID]*models.CourseCombo
}

func (c *fakeCatalog) GetCombo(_ context.Context, id uuid.UUID) (*models.CourseCombo, error) {
	if v, ok := c.combos[id]; ok {
		return v, nil
	}
	return nil, catalog.ErrNotFound
}

// fakeStore mirrors the unique (student_id, course_id) constraint.
type fakeStore struct {
	rows map[[2]uuid.UUID]models.Enrollment
}

func (s *fakeStore) CreateBatch(_ context.Context, items []models.Enrollment) ([]models.Enrollment, error) {
	var created []models.Enrollment
	for _, e := range items {
		key := [2]uuid.UUID{e.StudentID, e.CourseID}
		if _, ok := s.rows[key]; ok {
			continue
		}
		e.ID = uuid.New()
		s.rows[key] = e
		created = append(created, e)
	}
	return created, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSplitPrice(t *testing.T) {
	parts := enrollments.SplitPrice(dec("1000000"), 3)
	require.Len(t, parts, 3)
	assert.True(t, dec("333333.33").Equal(parts[0]))
	assert.True(t, dec("333333.33").Equal(parts[1]))
	assert.True(t, dec("333333.34").Equal(parts[2]))
	assert.True(t, dec("1000000").Equal(parts[0].Add(parts[1]).Add(parts[2])))

	assert.Nil(t, enrollments.SplitPrice(dec("10"), 0))
	assert.True(t, dec("10").Equal(enrollments.SplitPrice(dec("10"), 1)[0]))
}

func TestEnroll_Course(t *testing.T) {
	store := &fakeStore{rows: make(map[[2]uuid.UUID]models.Enrollment)}
	svc := enrollments.NewService(&fakeCatalog{}, store, nil)
	student, course := uuid.New(), uuid.New()
	code := "SAVE10"
	pay := &models.Payment{ID: uuid.New(), Amount: dec("1080000"), VoucherCode: &code}

	created, err := svc.Enroll(context.Background(), enrollments.EnrollRequest{StudentID: student, CourseID: &course, Payment: pay})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, course, created[0].CourseID)
	assert.Equal(t, pay.ID, *created[0].PaymentID)
	assert.True(t, dec("1080000").Equal(created[0].PricePaid))

	again, err := svc.Enroll(context.Background(), enrollments.EnrollRequest{StudentID: student, CourseID: &course, Payment: pay})
	require.NoError(t, err)
	assert.Empty(t, again, "repeat enrollment must create nothing")
	assert.Len(t, store.rows, 1)
}

func TestEnroll_ComboSplitsPrice(t *testing.T) {
	combo := &models.CourseCombo{ID: uuid.New(), CourseIDs: []uuid.UUID{uuid.New(), uuid.New()}}
	store := &fakeStore{rows: make(map[[2]uuid.UUID]models.Enrollment)}
	svc := enrollments.NewService(&fakeCatalog{combos: map[uuid.UUID]*models.CourseCombo{combo.ID: combo}}, store, nil)

	created, err := svc.Enroll(context.Background(), enrollments.EnrollRequest{
		StudentID: uuid.New(),
		ComboID:   &combo.ID,
		Payment:   &models.Payment{ID: uuid.New(), Amount: dec("999999")},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.True(t, dec("499999.5").Equal(created[0].PricePaid))
	assert.True(t, dec("499999.5").Equal(created[1].PricePaid))
	assert.Equal(t, combo.ID, *created[0].ComboID)
}

func TestEnroll_Errors(t *testing.T) {
	svc := enrollments.NewService(&fakeCatalog{}, &fakeStore{rows: make(map[[2]uuid.UUID]models.Enrollment)}, nil)

	_, err := svc.Enroll(context.Background(), enrollments.EnrollRequest{StudentID: uuid.New()})
	assert.ErrorIs(t, err, enrollments.ErrNothingToEnroll)

	missing := uuid.New()
	_, err = svc.Enroll(context.Background(), enrollments.EnrollRequest{StudentID: uuid.New(), ComboID: &missing})
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}
