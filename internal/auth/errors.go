package auth

import "errors"

// Sentinel errors for the token lifecycle. Callers classify failures with
// errors.Is so wrapped context survives logging.
var (
	// ErrAuthRequired indicates no stored credential exists, or the stored
	// credential has no refresh token. The user must complete the browser
	// login flow.
	ErrAuthRequired = errors.New("authorization required: complete the login flow")

	// ErrRefreshFailed indicates a refresh attempt against the provider
	// failed. The stored credential is left untouched.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrCorruptState indicates the persisted token file exists but cannot
	// be parsed.
	ErrCorruptState = errors.New("token store is corrupt")

	// ErrInvalidState indicates an OAuth callback carried an unknown,
	// expired, or already consumed anti-forgery state token.
	ErrInvalidState = errors.New("invalid or expired state token")

	// ErrProviderError indicates the OAuth provider rejected the
	// authorization or code exchange.
	ErrProviderError = errors.New("oauth provider error")
)
