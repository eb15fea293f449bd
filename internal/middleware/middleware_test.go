package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursehub/backend/internal/auth"
	"github.com/coursehub/backend/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "secret"

func signToken(t *testing.T, secret string, id uuid.UUID, role models.Role) string {
	t.Helper()
	claims := auth.Claims{
		UserID: id,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func newTestRouter(verifier *auth.Verifier) *gin.Engine {
	r := gin.New()
	r.Use(JWT(verifier))
	r.GET("/me", func(c *gin.Context) {
		id, ok := UserID(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id.String())
	})
	r.GET("/admin", RequireRole(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWT(t *testing.T) {
	r := newTestRouter(auth.NewVerifier(testSecret, ""))
	id := uuid.New()
	token := signToken(t, testSecret, id, models.RoleStudent)

	w := get(r, "/me", token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id.String(), w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", "garbage").Code)

	forged := signToken(t, "other", id, models.RoleAdmin)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", forged).Code)
}

func TestRequireRole(t *testing.T) {
	r := newTestRouter(auth.NewVerifier(testSecret, ""))

	student := signToken(t, testSecret, uuid.New(), models.RoleStudent)
	admin := signToken(t, testSecret, uuid.New(), models.RoleAdmin)

	assert.Equal(t, http.StatusForbidden, get(r, "/admin", student).Code)
	assert.Equal(t, http.StatusOK, get(r, "/admin", admin).Code)
}

func TestLoggerSetsRequestID(t *testing.T) {
	r := gin.New()
	r.Use(Logger(nil))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := get(r, "/", "")
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(HeaderRequestID))
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS("https://shop.example.com"))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://shop.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
