// Package auth проверка bearer JWT и текущий пользователь запроса.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/untibullet/request-desk/internal/config"
)

var ErrUnauthenticated = errors.New("authentication required")

// Actor пользователь, выполняющий операцию
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`

	privileged bool
}

// NewActor; privileged открывает внутренние заметки и настройки
func NewActor(id, name, role string, privileged bool) Actor {
	return Actor{ID: id, Name: name, Role: role, privileged: privileged}
}

func (a Actor) Privileged() bool { return a.privileged }

// Claims полезная нагрузка токена; sub содержит id пользователя
type Claims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext возвращает ErrUnauthenticated, если пользователя нет
func ActorFromContext(ctx context.Context) (Actor, error) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	if !ok || a.ID == "" {
		return Actor{}, ErrUnauthenticated
	}
	return a, nil
}

// Verifier HS256 токены с общим секретом
type Verifier struct {
	secret []byte
	issuer string
	cfg    config.AuthConfig
}

func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required")
	}
	return &Verifier{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer, cfg: cfg}, nil
}

// Issue выпускает токен; используется в тестах и для служебных клиентов
func (v *Verifier) Issue(userID, name, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: name,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func (v *Verifier) Parse(token string) (Actor, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Actor{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return Actor{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}

	return NewActor(claims.Subject, claims.Name, claims.Role, v.cfg.IsPrivileged(claims.Role)), nil
}

// Middleware кладет Actor в context запроса. Токен берется из заголовка
// Authorization, для websocket допускается query-параметр token.
func (v *Verifier) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if token == "" {
				token = c.QueryParam("token")
			}
			if token == "" {
				return unauthenticated(c, "authorization required")
			}

			actor, err := v.Parse(token)
			if err != nil {
				return unauthenticated(c, "invalid token")
			}

			c.SetRequest(c.Request().WithContext(WithActor(c.Request().Context(), actor)))
			return next(c)
		}
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func unauthenticated(c echo.Context, message string) error {
	return c.JSON(http.StatusUnauthorized, map[string]any{
		"error": map[string]string{
			"code":    "UNAUTHENTICATED",
			"message": message,
		},
	})
}
