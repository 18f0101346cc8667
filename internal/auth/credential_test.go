package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/oauth2"
)

func TestCredentialValid(t *testing.T) {
	now := time.Unix(1000000, 0)

	tests := []struct {
		name  string
		cred  *Credential
		valid bool
	}{
		{
			name:  "nil credential",
			cred:  nil,
			valid: false,
		},
		{
			name:  "empty access token",
			cred:  &Credential{ExpiresAt: now.Add(time.Hour).Unix()},
			valid: false,
		},
		{
			name:  "unknown expiry treated as expired",
			cred:  &Credential{AccessToken: "tok"},
			valid: false,
		},
		{
			name:  "well before expiry",
			cred:  &Credential{AccessToken: "tok", ExpiresAt: now.Add(time.Hour).Unix()},
			valid: true,
		},
		{
			name:  "inside the safety margin",
			cred:  &Credential{AccessToken: "tok", ExpiresAt: now.Add(30 * time.Second).Unix()},
			valid: false,
		},
		{
			name:  "already expired",
			cred:  &Credential{AccessToken: "tok", ExpiresAt: now.Add(-time.Minute).Unix()},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.cred.Valid(now))
		})
	}
}

func TestFromTokenKeepsPreviousRefreshToken(t *testing.T) {
	previous := &Credential{RefreshToken: "keep-me"}
	tok := &oauth2.Token{
		AccessToken: "new-access",
		Expiry:      time.Unix(1900000000, 0),
	}

	cred := FromToken(tok, previous, []string{"scope-a"})
	assert.Equal(t, "new-access", cred.AccessToken)
	assert.Equal(t, "keep-me", cred.RefreshToken)
	assert.Equal(t, int64(1900000000), cred.ExpiresAt)
	assert.Equal(t, []string{"scope-a"}, cred.Scopes)
}

func TestFromTokenPrefersNewRefreshToken(t *testing.T) {
	previous := &Credential{RefreshToken: "old"}
	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "new"}

	cred := FromToken(tok, previous, nil)
	assert.Equal(t, "new", cred.RefreshToken)
}
