package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/SaifulET/ciger-storefront/internal/domain"
	"github.com/SaifulET/ciger-storefront/internal/logger"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const guestCookie = "guest_id"

type ctxKey int

const (
	identityKey ctxKey = iota
	guestKey
)

var (
	errInvalidToken = errors.New("invalid bearer token")
	errNoSecret     = errors.New("no signing secret configured")
)

// RequestIDMiddleware propagates the chi request id (or an incoming X-Request-ID) to the
// logger context and the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = middleware.GetReqID(r.Context())
		}
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := logger.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityMiddleware resolves the caller. A valid HS256 bearer token with a userID claim makes
// a user identity; without a token the guest_id cookie (issued when missing) makes a guest one.
// The guest id is kept in the context in both cases so a signed-in user can merge their guest cart.
// With an empty secret every bearer token is rejected.
func IdentityMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			guestID := ensureGuestCookie(w, r)
			id := domain.Guest(guestID)

			if raw, ok := bearerToken(r); ok {
				userID, err := parseUserID(raw, secret)
				if err != nil {
					respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
					return
				}
				id = domain.User(userID, raw)
			}

			ctx := context.WithValue(r.Context(), identityKey, id)
			ctx = context.WithValue(ctx, guestKey, guestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getIdentity(ctx context.Context) domain.Identity {
	if id, ok := ctx.Value(identityKey).(domain.Identity); ok {
		return id
	}
	return domain.Identity{}
}

func getGuestID(ctx context.Context) string {
	if id, ok := ctx.Value(guestKey).(string); ok {
		return id
	}
	return ""
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	token, ok := strings.CutPrefix(h, "Bearer ")
	return strings.TrimSpace(token), ok
}

func parseUserID(raw string, secret []byte) (string, error) {
	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		if len(secret) == 0 {
			return nil, errNoSecret
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", errInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errInvalidToken
	}
	userID, _ := claims["userID"].(string)
	if userID == "" {
		return "", errInvalidToken
	}
	return userID, nil
}

func ensureGuestCookie(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(guestCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}

	id := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     guestCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int((30 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}
