package echoapi

import (
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/capstone/core"
)

const (
	contextTokenKey    = "userToken"
	contextIdentityKey = "identity"
	tokenQueryParam    = "access_token"
)

// Claims represents the authorization claims transmitted via a JWT.
// Credentials are issued elsewhere; only the email and role are consumed.
type Claims struct {
	jwt.StandardClaims
	Email string    `json:"email"`
	Role  core.Role `json:"role"`
}

func (c Claims) Identity() core.Identity {
	return core.Identity{Email: core.CleanString(c.Email, true /* lower */), Role: c.Role}
}

func newJWTConfig(conf *core.Config) middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey:    []byte(conf.SecretKey),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    contextTokenKey,
		Claims:        new(Claims),
	}
}

func GetIdentityClaims(conf *core.Config, id core.Identity) *Claims {
	now := time.Now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.AppName,
			Subject:   id.Email,
			Audience:  "Capstone",
			ExpiresAt: now.Add(conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		Email: id.Email,
		Role:  id.Role,
	}
}

// GenerateToken generates a signed JWT token string representing the identity Claims.
func GenerateToken(conf *core.Config, claims *Claims) (string, error) {
	jwtConf := newJWTConfig(conf)
	token := jwt.NewWithClaims(jwt.GetSigningMethod(jwtConf.SigningMethod), claims)

	ss, err := token.SignedString(jwtConf.SigningKey)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

// getContextIdentity returns the authenticated Identity of the request.
func getContextIdentity(ctx echo.Context) (core.Identity, error) {
	if id, ok := ctx.Get(contextIdentityKey).(core.Identity); ok {
		return id, nil
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return core.Identity{}, err
	}
	id := claims.Identity()
	if id.Email == "" || !id.Role.IsValid() {
		return core.Identity{}, errUnauthorized
	}
	ctx.Set(contextIdentityKey, id)
	return id, nil
}

// queryTokenMiddleware accepts the token as a query param for clients that cannot set headers (EventSource).
func queryTokenMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		req := ctx.Request()
		if token := ctx.QueryParam(tokenQueryParam); token != "" && req.Header.Get(echo.HeaderAuthorization) == "" {
			req.Header.Set(echo.HeaderAuthorization, middleware.DefaultJWTConfig.AuthScheme+" "+token)
		}
		return next(ctx)
	}
}
