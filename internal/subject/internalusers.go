package subject

// Internal pseudo-identities. These never resolve through the provider
// waterfall: three of them carry fixed, pre-built roles, and the system user
// must never have its role resolved at all.
const (
	// SystemUserPrincipal executes internal actions under its own privilege
	// model; asking the roles store for its role is a programming error.
	SystemUserPrincipal = "_system"
	// XPackUserPrincipal is the internal user for stack-internal operations.
	XPackUserPrincipal = "_xpack"
	// SecurityUserPrincipal is the internal user for security-index access.
	SecurityUserPrincipal = "_xpack_security"
	// AsyncSearchUserPrincipal is the internal user maintaining async search
	// results.
	AsyncSearchUserPrincipal = "_async_search"
)

// IsInternal reports whether the subject is one of the internal
// pseudo-identities.
func (s *Subject) IsInternal() bool {
	switch s.principal {
	case SystemUserPrincipal, XPackUserPrincipal, SecurityUserPrincipal, AsyncSearchUserPrincipal:
		return true
	}
	return false
}
