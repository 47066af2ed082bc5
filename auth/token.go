package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
)

const (
	TokenCookie = "x-token"
	TokenQuery  = "token"
)

// TokenClient admits peers presenting the shared token, from cookie or query string.
// An empty token admits every peer; the server then relies on listening on a local address.
type TokenClient struct {
	Token string
}

func (c *TokenClient) Auth(r *http.Request) (string, error) {
	if c.Token == "" {
		return "local", nil
	}

	var token string
	if ck, err := r.Cookie(TokenCookie); err == nil {
		token = ck.Value
	}
	if token == "" {
		token = r.URL.Query().Get(TokenQuery)
	}
	if token == "" {
		return "", fmt.Errorf("empty %s from cookie or query", TokenCookie)
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(c.Token)) != 1 {
		return "", fmt.Errorf("token mismatch")
	}
	return "token", nil
}
