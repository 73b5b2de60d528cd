package ws

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/phyoewaiaung/devnexus-api/internal/service"
	"github.com/phyoewaiaung/devnexus-api/pkg/apperror"
)

// Credential sources, probed in order. The first present source wins;
// if it fails verification the rest are not consulted.
//
//	1. "token" query parameter (browser WebSocket API cannot set headers)
//	2. Authorization: Bearer header
//	3. cookies: token, accessToken, jwt
func extractToken(r *http.Request) (token, source string) {
	if t := r.URL.Query().Get("token"); t != "" {
		return t, "query"
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		if t, ok := strings.CutPrefix(auth, "Bearer "); ok && t != "" {
			return t, "header"
		}
	}
	for _, name := range []string{"token", "accessToken", "jwt"} {
		if cookie, err := r.Cookie(name); err == nil && cookie.Value != "" {
			return cookie.Value, "cookie:" + name
		}
	}
	return "", ""
}

// Authenticate resolves the connecting user before the upgrade. An
// expired token is logged apart from a malformed one; the client
// response is the same either way.
func Authenticate(r *http.Request, auth service.AuthService) (uuid.UUID, error) {
	token, source := extractToken(r)
	if token == "" {
		return uuid.Nil, apperror.Wrap(apperror.ErrUnauthorized, "no credentials presented")
	}

	userID, err := auth.VerifyToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			log.Printf("ws: expired token from %s source %s", r.RemoteAddr, source)
		} else {
			log.Printf("ws: invalid token from %s source %s: %v", r.RemoteAddr, source, err)
		}
		return uuid.Nil, apperror.Wrap(apperror.ErrUnauthorized, "invalid credentials")
	}
	return userID, nil
}
