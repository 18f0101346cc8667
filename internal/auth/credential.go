package auth

import (
	"time"

	"golang.org/x/oauth2"
)

// ExpiryMargin is how long before the recorded expiry a credential is
// treated as stale. Refreshing early avoids handing out a token that dies
// mid-request.
const ExpiryMargin = 60 * time.Second

// Credential is the persisted form of an OAuth2 token pair.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	// ExpiresAt is a Unix timestamp in seconds. Zero means unknown, which
	// is treated as expired so the next use forces a refresh.
	ExpiresAt int64    `json:"expires_at,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
}

// Valid reports whether the access token is usable at time now, applying
// the expiry margin.
func (c *Credential) Valid(now time.Time) bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	if c.ExpiresAt == 0 {
		return false
	}
	return now.Add(ExpiryMargin).Unix() < c.ExpiresAt
}

// Token converts the credential to an oauth2.Token.
func (c *Credential) Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
	}
	if c.ExpiresAt > 0 {
		tok.Expiry = time.Unix(c.ExpiresAt, 0)
	}
	return tok
}

// FromToken builds a credential from an oauth2.Token. If the provider
// response omitted the refresh token, the previous one is carried over so
// a refresh never downgrades the stored credential.
func FromToken(tok *oauth2.Token, previous *Credential, scopes []string) *Credential {
	cred := &Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scopes:       scopes,
	}
	if !tok.Expiry.IsZero() {
		cred.ExpiresAt = tok.Expiry.Unix()
	}
	if cred.RefreshToken == "" && previous != nil {
		cred.RefreshToken = previous.RefreshToken
	}
	return cred
}
