package middlewares

import (
	"RetinaTrack/config"
	"RetinaTrack/models"
	"RetinaTrack/utils"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: name", models.ErrInvalidInput), http.StatusBadRequest},
		{models.Fail(models.StepValidation, models.ErrMissingLinkage), http.StatusBadRequest},
		{models.ErrInsufficientEvidence, http.StatusBadRequest},
		{models.ErrInvalidDetection, http.StatusBadRequest},
		{utils.ErrInvalidResetCode, http.StatusBadRequest},
		{models.ErrInvalidCredentials, http.StatusUnauthorized},
		{utils.ErrTokenExpired, http.StatusUnauthorized},
		{models.ErrForbidden, http.StatusForbidden},
		{models.ErrInactiveUser, http.StatusForbidden},
		{fmt.Errorf("patient x: %w", models.ErrNotFound), http.StatusNotFound},
		{models.ErrDuplicate, http.StatusConflict},
		{models.ErrArchived, http.StatusConflict},
		{models.Fail(models.StepSegmentation, models.ErrProcessing), http.StatusBadGateway},
		{fmt.Errorf("segment: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func TestHttpError_IncludesStepAndHidesInternals(t *testing.T) {
	router := gin.New()
	router.GET("/linkage", func(c *gin.Context) {
		HttpError(c, quietLogger(), models.Fail(models.StepValidation, models.ErrMissingLinkage))
	})
	router.GET("/boom", func(c *gin.Context) {
		HttpError(c, quietLogger(), models.Fail(models.StepPersistence, errors.New("pq: relation does not exist")))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/linkage", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "validation", body["step"])
	assert.Contains(t, body["error"], "missing linkage")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "internal server error", body["error"])
	assert.Equal(t, "persistence", body["step"])
}

func TestValidateBearerToken(t *testing.T) {
	router := gin.New()
	router.GET("/internal", ValidateBearerToken("s3cret"), func(c *gin.Context) { c.Status(http.StatusOK) })
	unconfigured := gin.New()
	unconfigured.GET("/internal", ValidateBearerToken(""), func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		header string
		want   int
	}{
		{"", http.StatusUnauthorized},
		{"Token s3cret", http.StatusUnauthorized},
		{"Bearer wrong", http.StatusUnauthorized},
		{"Bearer s3cret", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/internal", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, tc.want, w.Code, tc.header)
	}

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()
	unconfigured.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

type stubUsers map[string]*models.User

func (s stubUsers) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	return s[userID], nil
}

func testTokens(t *testing.T) *utils.TokenService {
	t.Helper()
	tokens, err := utils.NewTokenService(config.AuthConfig{
		SymmetricKey:    "0123456789abcdef0123456789abcdef",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	require.NoError(t, err)
	return tokens
}

func TestTokenAndRoleAuth(t *testing.T) {
	tokens := testTokens(t)
	users := stubUsers{
		"u-admin":  {ID: "u-admin", RoleName: models.RoleAdmin, Active: true, DisplayName: "Admin"},
		"u-medico": {ID: "u-medico", RoleName: models.RoleMedico, Active: true, DisplayName: "Dra. Ana"},
		"u-off":    {ID: "u-off", RoleName: models.RoleMedico, Active: false},
	}
	// promoted after the token was issued
	users["u-promoted"] = &models.User{ID: "u-promoted", RoleName: models.RoleAdmin, Active: true}

	router := gin.New()
	router.GET("/me", TokenAuthMiddleware(tokens, users), func(c *gin.Context) {
		auth, ok := AuthFromContext(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"uid": auth.UID, "role": auth.Role})
	})
	router.GET("/admin", TokenAuthMiddleware(tokens, users), RoleAuthMiddleware(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	call := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}
	access := func(uid, role string) string {
		token, err := tokens.GenerateAccessToken(uid, role)
		require.NoError(t, err)
		return token
	}

	assert.Equal(t, http.StatusUnauthorized, call("/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, call("/me", "garbage").Code)

	_, refresh, err := tokens.GenerateTokens("u-medico", models.RoleMedico)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, call("/me", refresh).Code)

	w := call("/me", access("u-medico", models.RoleMedico))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"uid":"u-medico","role":"medico"}`, w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, call("/me", access("u-gone", models.RoleMedico)).Code)
	assert.Equal(t, http.StatusForbidden, call("/me", access("u-off", models.RoleMedico)).Code)

	assert.Equal(t, http.StatusForbidden, call("/admin", access("u-medico", models.RoleMedico)).Code)
	assert.Equal(t, http.StatusOK, call("/admin", access("u-admin", models.RoleAdmin)).Code)
	assert.Equal(t, http.StatusOK, call("/admin", access("u-promoted", models.RoleMedico)).Code)
}

func TestExtractToken_FallsBackToCookieAndQuery(t *testing.T) {
	router := gin.New()
	router.GET("/t", func(c *gin.Context) { c.String(http.StatusOK, ExtractToken(c)) })

	req := httptest.NewRequest(http.MethodGet, "/t?accessToken=from-query", nil)
	req.AddCookie(&http.Cookie{Name: utils.AccessTokenCookie, Value: "from-cookie"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "from-cookie", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/t?accessToken=from-query", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "from-query", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/t?accessToken=from-query", nil)
	req.Header.Set("Authorization", "Bearer from-header")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "from-header", w.Body.String())
}

func TestRateLimiter(t *testing.T) {
	router := gin.New()
	router.Use(NewRateLimiterMiddleware(RateLimiterConfig{RequestsPerSecond: 0.001, Burst: 2}))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	hit := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, hit("10.0.0.1"))
	assert.Equal(t, http.StatusOK, hit("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, hit("10.0.0.1"))
	assert.Equal(t, http.StatusOK, hit("10.0.0.2"))

	open := gin.New()
	open.Use(NewRateLimiterMiddleware(RateLimiterConfig{}))
	open.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		open.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestCorsMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(CorsMiddleware(DefaultCorsConfig([]string{"https://app.clinica.test"})))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.clinica.test")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.clinica.test", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Content-Disposition", w.Header().Get("Access-Control-Expose-Headers"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.test")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
