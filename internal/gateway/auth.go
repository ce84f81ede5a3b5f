package gateway

import (
	"net/http"
	"strings"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/roach88/graffiti/internal/errs"
)

// TokenType is the value of the "type" claim on session tokens.
const TokenType = "token"

// Authenticator maps bearer tokens to identities.
//
// Tokens are HS256 JWTs carrying {"type": "token", "email": identity}.
// With an empty secret every request is anonymous.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an Authenticator for secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Identify returns the identity of the request's token, or "" when the
// request carries none. A token that is present but invalid is an
// AUTHORIZATION error.
//
// The token is read from the Authorization header or the "token" query
// parameter; browsers cannot set headers on websocket requests.
func (a *Authenticator) Identify(r *http.Request) (string, error) {
	raw := bearerToken(r)
	if raw == "" {
		return "", nil
	}
	if len(a.secret) == 0 {
		return "", errs.Authorization("this server does not accept tokens")
	}
	return a.Verify(raw)
}

// Verify checks a token and returns its identity.
func (a *Authenticator) Verify(raw string) (string, error) {
	parser := gojwt.NewParser(gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}))
	token, err := parser.Parse(raw, func(*gojwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return "", errs.Authorization("malformed token")
	}

	claims, ok := token.Claims.(gojwt.MapClaims)
	if !ok {
		return "", errs.Authorization("malformed token")
	}
	if claims["type"] != TokenType {
		return "", errs.Authorization("wrong token type")
	}
	identity, _ := claims["email"].(string)
	if identity == "" {
		identity, _ = claims["sub"].(string)
	}
	if identity == "" {
		return "", errs.Authorization("token has no identity")
	}
	return identity, nil
}

// Sign issues a token for identity. Used by tests and local tooling.
func (a *Authenticator) Sign(identity string) (string, error) {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"type":  TokenType,
		"email": identity,
	})
	return token.SignedString(a.secret)
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
