package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey      contextKey = "user_id"
	UserRolesKey   contextKey = "user_roles"
	FacilityIDsKey contextKey = "facility_ids"
)

// Roles.
const (
	RoleTriageNurse = "triage_nurse"
	RolePhysician   = "physician"
	RoleCoordinator = "coordinator"
	RoleAdmin       = "admin"
)

// Dev headers let local callers pick an identity without a token.
const (
	DevUserHeader  = "X-Dev-User"
	DevRolesHeader = "X-Dev-Roles"
)

type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
	// FacilityIDs restricts the user to these facilities; empty means all.
	FacilityIDs []string `json:"facility_ids"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey enables HS256 tokens for development and tests.
	SigningKey []byte
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	var keyfunc jwt.Keyfunc
	methods := []string{"RS256"}
	if len(cfg.SigningKey) > 0 {
		keyfunc = func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
		methods = []string{"HS256"}
	} else {
		keyfunc = NewJWKSCache(cfg.JWKSURL, defaultJWKSCacheTTL).Keyfunc
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(methods)}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			scheme, tokenStr, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyfunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx := WithUser(c.Request().Context(), claims.Subject, claims.Roles...)
			ctx = WithFacilities(ctx, claims.FacilityIDs...)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// DevAuthMiddleware authenticates every request as an admin "dev-user",
// unless the dev headers name another identity.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			user := req.Header.Get(DevUserHeader)
			if user == "" {
				user = "dev-user"
			}
			roles := []string{RoleAdmin}
			if h := req.Header.Get(DevRolesHeader); h != "" {
				roles = roles[:0]
				for _, r := range strings.Split(h, ",") {
					if r = strings.TrimSpace(r); r != "" {
						roles = append(roles, r)
					}
				}
			}
			c.SetRequest(req.WithContext(WithUser(req.Context(), user, roles...)))
			return next(c)
		}
	}
}

// WithUser returns ctx carrying an authenticated identity.
func WithUser(ctx context.Context, userID string, roles ...string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, UserRolesKey, roles)
}

// WithFacilities restricts the identity in ctx to the given facilities.
func WithFacilities(ctx context.Context, facilityIDs ...string) context.Context {
	return context.WithValue(ctx, FacilityIDsKey, facilityIDs)
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

func FacilityIDsFromContext(ctx context.Context) []string {
	ids, _ := ctx.Value(FacilityIDsKey).([]string)
	return ids
}

// CanAccessFacility reports whether the identity in ctx may act on the
// facility. Admins and users without a facility restriction may act on any.
func CanAccessFacility(ctx context.Context, facilityID string) bool {
	for _, r := range RolesFromContext(ctx) {
		if r == RoleAdmin {
			return true
		}
	}
	ids := FacilityIDsFromContext(ctx)
	if len(ids) == 0 {
		return true
	}
	for _, id := range ids {
		if id == facilityID {
			return true
		}
	}
	return false
}
