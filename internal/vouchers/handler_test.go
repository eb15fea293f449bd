package vouchers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursehub/backend/internal/middleware"
	"github.com/coursehub/backend/internal/models"
	"github.com/coursehub/backend/internal/vouchers"
)

func newVoucherRouter(store *fakeStore, user uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := vouchers.NewHandler(vouchers.NewService(store, nil), nil)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, user)
		c.Set(middleware.ContextUserRole, string(models.RoleAdmin))
	})
	r.POST("/vouchers/calculate", h.Calculate)
	r.POST("/vouchers", h.Create)
	r.GET("/vouchers", h.List)
	r.GET("/vouchers/:id", h.Get)
	r.DELETE("/vouchers/:id", h.Delete)
	return r
}

func doJSON(r http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandlerCalculate(t *testing.T) {
	r := newVoucherRouter(newFakeStore(percentVoucher("SAVE10", "10")), uuid.New())

	w := doJSON(r, http.MethodPost, "/vouchers/calculate", gin.H{"code": "SAVE10", "amount": "1200000"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Data vouchers.Discount `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, dec("120000").Equal(body.Data.Amount))
	assert.True(t, dec("1080000").Equal(body.Data.FinalAmount))

	w = doJSON(r, http.MethodPost, "/vouchers/calculate", gin.H{"code": "NOPE", "amount": "1200000"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doJSON(r, http.MethodPost, "/vouchers/calculate", gin.H{"code": "SAVE10", "amount": "0"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerCreateAndDelete(t *testing.T) {
	admin := uuid.New()
	store := newFakeStore()
	r := newVoucherRouter(store, admin)

	req := gin.H{
		"code":           "spring",
		"discount_type":  "percentage",
		"discount_value": "15",
		"valid_from":     time.Now().Add(-time.Hour).Format(time.RFC3339),
		"valid_until":    time.Now().Add(time.Hour).Format(time.RFC3339),
	}
	w := doJSON(r, http.MethodPost, "/vouchers", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	v := store.vouchers["SPRING"]
	require.NotNil(t, v)
	assert.Equal(t, admin, *v.CreatedBy)

	w = doJSON(r, http.MethodPost, "/vouchers", req)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(r, http.MethodGet, "/vouchers?active=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)

	w = doJSON(r, http.MethodDelete, "/vouchers/"+v.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, v.IsActive)

	w = doJSON(r, http.MethodGet, "/vouchers/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
