package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedirectURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  func(*Config)
		want string
	}{
		{
			name: "default falls back to localhost callback",
			cfg:  func(c *Config) { c.Port = 3000 },
			want: "http://localhost:3000/callback",
		},
		{
			name: "configured value wins",
			cfg: func(c *Config) {
				c.OAuthRedirectURL = "https://example.com/callback"
			},
			want: "https://example.com/callback",
		},
		{
			name: "custom callback route",
			cfg: func(c *Config) {
				c.Port = 9000
				c.CallbackRoute = "/auth/callback"
			},
			want: "http://localhost:9000/auth/callback",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.cfg(c)
			assert.Equal(t, tt.want, c.RedirectURL())
		})
	}
}

func TestSSERoutes(t *testing.T) {
	c := Default()
	assert.Equal(t, "/mcp-sse/sse", c.SSERoute())
	assert.Equal(t, "/mcp-sse/message", c.SSEPostRoute())

	c.SSEPrefix = "/events"
	assert.Equal(t, "/events/sse", c.SSERoute())
	assert.Equal(t, "/events/message", c.SSEPostRoute())
}

func TestValidate(t *testing.T) {
	c := Default()
	c.GmailClientID = "id"
	c.GmailClientSecret = "secret"
	require.NoError(t, c.Validate())

	c.GmailClientSecret = ""
	assert.Error(t, c.Validate())

	c.GmailClientSecret = "secret"
	c.LoginRoute = "login"
	assert.Error(t, c.Validate())
}

func TestTokenFileUsesAppDataDir(t *testing.T) {
	dir := t.TempDir()
	c := Default()
	c.AppDataDir = filepath.Join(dir, "data")

	path, err := c.TokenFile()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data", "token.json"), path)
	assert.DirExists(t, c.AppDataDir)
}
