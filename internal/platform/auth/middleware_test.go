package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func runJWT(t *testing.T, cfg JWTConfig, header string) (context.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	var got context.Context
	err := JWTMiddleware(cfg)(func(c echo.Context) error {
		got = c.Request().Context()
		return c.NoContent(http.StatusOK)
	})(c)
	return got, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	for _, header := range []string{"Token abc123", "Bearer", "Bearer ", "Basic dXNlcjpwYXNz"} {
		t.Run(header, func(t *testing.T) {
			_, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, header)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ClaimsExtraction(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "nurse-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Roles:       []string{RoleTriageNurse},
		FacilityIDs: []string{"f1"},
	}
	ctx, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "Bearer "+createTestToken(t, claims, testSigningKey))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if UserIDFromContext(ctx) != "nurse-7" {
		t.Errorf("expected user nurse-7, got %q", UserIDFromContext(ctx))
	}
	if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != RoleTriageNurse {
		t.Errorf("unexpected roles %v", roles)
	}
	if !CanAccessFacility(ctx, "f1") || CanAccessFacility(ctx, "f2") {
		t.Error("facility restriction not applied")
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}}
	_, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "Bearer "+createTestToken(t, claims, testSigningKey))
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKeyAndIssuer(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user",
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	_, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "Bearer "+createTestToken(t, claims, []byte("other-key")))
	expectStatus(t, err, http.StatusUnauthorized)

	_, err = runJWT(t, JWTConfig{SigningKey: testSigningKey, Issuer: "triage-idp"}, "Bearer "+createTestToken(t, claims, testSigningKey))
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestDevAuthMiddleware(t *testing.T) {
	e := echo.New()

	run := func(req *http.Request) context.Context {
		var got context.Context
		c := e.NewContext(req, httptest.NewRecorder())
		_ = DevAuthMiddleware()(func(c echo.Context) error {
			got = c.Request().Context()
			return nil
		})(c)
		return got
	}

	ctx := run(httptest.NewRequest(http.MethodGet, "/", nil))
	if UserIDFromContext(ctx) != "dev-user" {
		t.Errorf("expected dev-user, got %q", UserIDFromContext(ctx))
	}
	if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != RoleAdmin {
		t.Errorf("expected admin role, got %v", roles)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DevUserHeader, "nurse-1")
	req.Header.Set(DevRolesHeader, "triage_nurse, physician")
	ctx = run(req)
	if UserIDFromContext(ctx) != "nurse-1" {
		t.Errorf("expected nurse-1, got %q", UserIDFromContext(ctx))
	}
	if roles := RolesFromContext(ctx); len(roles) != 2 || roles[1] != RolePhysician {
		t.Errorf("unexpected roles %v", roles)
	}
}

func TestCanAccessFacility(t *testing.T) {
	nurse := WithUser(context.Background(), "nurse-1", RoleTriageNurse)
	if !CanAccessFacility(nurse, "f2") {
		t.Error("unscoped user must reach every facility")
	}

	scoped := WithFacilities(nurse, "f1")
	if !CanAccessFacility(scoped, "f1") {
		t.Error("expected access to f1")
	}
	if CanAccessFacility(scoped, "f2") {
		t.Error("expected f2 to be denied")
	}

	admin := WithFacilities(WithUser(context.Background(), "root", RoleAdmin), "f1")
	if !CanAccessFacility(admin, "f2") {
		t.Error("admin must reach every facility")
	}
}
