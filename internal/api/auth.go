package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
)

const actorKey contextKey = "actor"

// Claims identify the caller. The identity provider signs them with the
// shared HS256 key; Subject is the actor id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs a token for actor. It is used by the seeder, the simulator
// and tests; production tokens come from the identity provider.
func IssueToken(key []byte, actor appointment.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

func parseActor(key []byte, raw string) (appointment.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return appointment.Actor{}, err
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return appointment.Actor{}, errors.New("subject is not a uuid")
	}
	role := appointment.Role(claims.Role)
	switch role {
	case appointment.RolePatient, appointment.RoleDoctor, appointment.RoleStaff,
		appointment.RoleManager, appointment.RoleAdmin, appointment.RoleSystem:
	default:
		return appointment.Actor{}, errors.New("unknown role")
	}
	return appointment.Actor{ID: id, Role: role}, nil
}

// IdentityMiddleware resolves the bearer token into an actor. Requests without
// a token pass through unauthenticated; requireActor rejects them where needed.
func IdentityMiddleware(key []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "", "expected a bearer token")
				return
			}

			actor, err := parseActor(key, strings.TrimSpace(raw))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "", "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ActorFromContext(ctx context.Context) (appointment.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(appointment.Actor)
	return actor, ok
}

// requireActor rejects unauthenticated requests, and requests from roles
// outside allowed when any are given.
func requireActor(allowed ...appointment.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "", "caller identity is required")
				return
			}
			if len(allowed) > 0 && !hasRole(actor, allowed) {
				writeError(w, http.StatusForbidden, string(appointment.KindUnauthorized), "role_not_permitted",
					"role "+string(actor.Role)+" may not call this endpoint")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasRole(actor appointment.Actor, allowed []appointment.Role) bool {
	for _, role := range allowed {
		if actor.Role == role {
			return true
		}
	}
	return false
}
