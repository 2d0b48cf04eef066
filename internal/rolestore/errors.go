package rolestore

import "errors"

var (
	// ErrSystemUserRole is returned when a role is requested for the internal
	// system user, which must never be resolved through the roles store.
	ErrSystemUserRole = errors.New("the user [_system] is the system user and we should never try to get its roles")

	// ErrStoreStopped is returned for resolutions attempted after Stop.
	ErrStoreStopped = errors.New("roles store is stopped")
)
