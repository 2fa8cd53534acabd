package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testGatewayToken = "gw-token"
	testSecret       = "jwt-secret"
)

func signed(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func newAuthApp(auth *Authenticator) *fiber.App {
	app := fiber.New()
	app.Use(RequestLogger(zap.NewNop()))
	echo := func(c *fiber.Ctx) error { return c.SendString(UserID(c)) }
	app.Get("/me", auth.RequireUser(), echo)
	app.Get("/stream", auth.RequireStreamUser(), echo)
	return app
}

func call(t *testing.T, app *fiber.App, req *http.Request) (int, string) {
	t.Helper()
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestRequireUser(t *testing.T) {
	app := newAuthApp(NewAuthenticator(testGatewayToken, testSecret, nil))

	valid := signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	expired := signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	wrongKey := signed(t, jwt.SigningMethodHS256, []byte("other"), jwt.RegisteredClaims{Subject: "alice"})
	noSubject := signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{})

	tests := []struct {
		name       string
		auth       string
		userHeader string
		wantStatus int
		wantBody   string
	}{
		{"jwt", "Bearer " + valid, "", fiber.StatusOK, "alice"},
		{"jwt ignores forwarded header", "Bearer " + valid, "mallory", fiber.StatusOK, "alice"},
		{"gateway token", "Bearer " + testGatewayToken, "bob", fiber.StatusOK, "bob"},
		{"raw gateway token", testGatewayToken, "bob", fiber.StatusOK, "bob"},
		{"gateway token without user", "Bearer " + testGatewayToken, "", fiber.StatusUnauthorized, ""},
		{"missing", "", "", fiber.StatusUnauthorized, ""},
		{"expired", "Bearer " + expired, "", fiber.StatusUnauthorized, ""},
		{"wrong key", "Bearer " + wrongKey, "", fiber.StatusUnauthorized, ""},
		{"no subject", "Bearer " + noSubject, "", fiber.StatusUnauthorized, ""},
		{"garbage", "Bearer nope", "", fiber.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			if tt.userHeader != "" {
				req.Header.Set("X-User-ID", tt.userHeader)
			}
			status, body := call(t, app, req)
			assert.Equal(t, tt.wantStatus, status)
			if tt.wantStatus == fiber.StatusOK {
				assert.Equal(t, tt.wantBody, body)
			}
		})
	}
}

func TestRequireUserRejectsOtherAlgorithms(t *testing.T) {
	app := newAuthApp(NewAuthenticator("", testSecret, nil))
	hs512 := signed(t, jwt.SigningMethodHS512, []byte(testSecret), jwt.RegisteredClaims{Subject: "alice"})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+hs512)
	status, _ := call(t, app, req)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestRequireUserWithoutJWTSecret(t *testing.T) {
	app := newAuthApp(NewAuthenticator(testGatewayToken, "", nil))
	token := signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{Subject: "alice"})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	status, _ := call(t, app, req)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestRequireStreamUserReadsQueryToken(t *testing.T) {
	app := newAuthApp(NewAuthenticator(testGatewayToken, testSecret, nil))
	token := signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{Subject: "carol"})

	status, body := call(t, app, httptest.NewRequest(http.MethodGet, "/stream?token="+token, nil))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "carol", body)

	// the plain route does not look at the query
	status, _ = call(t, app, httptest.NewRequest(http.MethodGet, "/me?token="+token, nil))
	assert.Equal(t, fiber.StatusUnauthorized, status)
}
