package middleware

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"subscription-cycle-sync/internal/config"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// ContextKeyShop holds the shop name of a verified session token.
const ContextKeyShop = "shop"

var errInvalidDest = errors.New("session token dest does not match shop")

// SessionClaims are the claims of an embedded-app session token.
type SessionClaims struct {
	Dest string `json:"dest"`
	SID  string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// SessionAuth verifies the bearer session token on admin requests: HS256
// signed with the app secret, audience equal to the app key, issued by the
// configured shop's admin and with a dest pointing at that shop.
func SessionAuth(shop config.Shop) echo.MiddlewareFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(shop.APIKey),
		jwt.WithIssuer("https://"+shop.Domain()+"/admin"),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5*time.Second),
	)
	keyFunc := func(*jwt.Token) (interface{}, error) {
		return []byte(shop.APISecret), nil
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if shop.APISecret == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "session verification is not configured")
			}

			raw, ok := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
			if !ok || raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing session token")
			}

			claims := &SessionClaims{}
			if _, err := parser.ParseWithClaims(raw, claims, keyFunc); err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid session token").SetInternal(err)
			}
			if err := checkDest(claims.Dest, shop.Domain()); err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid session token").SetInternal(err)
			}

			c.Set(ContextKeyShop, shop.Name)
			return next(c)
		}
	}
}

func checkDest(dest, domain string) error {
	u, err := url.Parse(dest)
	if err != nil {
		return err
	}
	if u.Host != domain {
		return errInvalidDest
	}
	return nil
}
