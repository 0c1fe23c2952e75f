package client

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"
)

var ErrTokenExpired = errors.New("api token expired")

type expiringTokenSource struct {
	token *oauth2.Token
}

func (s *expiringTokenSource) Token() (*oauth2.Token, error) {
	if !s.token.Valid() {
		return nil, ErrTokenExpired
	}
	return s.token, nil
}

// BearerToken wraps a static api token. When the token is a JWT its exp claim
// becomes the expiry, so requests stop with ErrTokenExpired instead of
// getting 401 from the api. The signature is not verified here.
func BearerToken(raw string) oauth2.TokenSource {
	token := &oauth2.Token{AccessToken: raw, TokenType: "Bearer"}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err == nil {
		if exp, ok := expiry(claims["exp"]); ok {
			token.Expiry = exp
		}
	}
	return &expiringTokenSource{token: token}
}

func expiry(claim any) (time.Time, bool) {
	switch v := claim.(type) {
	case float64:
		return time.Unix(int64(v), 0), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(n, 0), true
	}
	return time.Time{}, false
}
