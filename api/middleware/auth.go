package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/angelmondragon/adtrail-backend/api/responses"
	pkgAuth "github.com/angelmondragon/adtrail-backend/pkg/auth"
	"github.com/angelmondragon/adtrail-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/adtrail-backend/pkg/errors"
	"github.com/angelmondragon/adtrail-backend/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the caller's user id.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, pkgAuth.ErrTokenExpired) {
					msg = "token expired"
				}
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, msg))
				return
			}

			ctx := withCaller(r.Context(), caller{userID: claims.UserID.String(), email: claims.Email})
			if logg != nil {
				ctx = logg.WithUserID(ctx, claims.UserID.String())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return raw
}
