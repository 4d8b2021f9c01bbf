package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang-jwt/jwt/v5/request"
)

// JwtClaims identifies one socket principal: a participant or a proctor.
// Tokens are minted by the contest backend; the relay only validates them.
type JwtClaims struct {
	UserID string `json:"uid,omitempty"`
	Role   string `json:"role,omitempty"` // "participant" or "proctor"
	jwt.RegisteredClaims
}

type claimsKeyType string

var ctxJwtClaimsKey claimsKeyType = "jwtClaims"

func GenerateJWT(userID string, role string, jwtKey []byte) (string, error) {
	claims := &JwtClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtKey)
}

func ValidateJWT(tokenStr string, jwtKey []byte) (*JwtClaims, error) {
	claims := &JwtClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return jwtKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrSignatureInvalid) {
			return nil, errors.New("invalid token signature")
		}
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// getJwtAuthMiddleware validates the bearer token (or, for websocket
// endpoints where headers are awkward for browsers, the token query param)
// and adds the claims to the request context.
func getJwtAuthMiddleware(jwtKey []byte) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			tokenStr, err := request.BearerExtractor{}.ExtractToken(r)
			if err != nil {
				if errors.Is(err, request.ErrNoTokenInRequest) {
					tokenStr = r.URL.Query().Get("token")
				} else {
					http.Error(w, err.Error(), http.StatusUnauthorized)
					return
				}
			}
			if tokenStr == "" {
				ctx := context.WithValue(r.Context(), ctxJwtClaimsKey, (*JwtClaims)(nil))
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			claims, err := ValidateJWT(tokenStr, jwtKey)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ctxJwtClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		}
		return http.HandlerFunc(hfn)
	}
}

func claimsFromContext(ctx context.Context) *JwtClaims {
	claims, _ := ctx.Value(ctxJwtClaimsKey).(*JwtClaims)
	return claims
}
