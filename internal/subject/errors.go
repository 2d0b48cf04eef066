package subject

import "errors"

var (
	// ErrNoApiKeyRoleDescriptors is returned when an API key authentication
	// carries neither assigned nor limited-by role descriptors. It is a
	// distinct authorization error so callers can tell a malformed key from
	// a transient backend failure.
	ErrNoApiKeyRoleDescriptors = errors.New("no role descriptors found for API key")
)
