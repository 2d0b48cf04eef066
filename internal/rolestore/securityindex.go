package rolestore

// Index health values as reported by the cluster.
const (
	IndexHealthRed    = "red"
	IndexHealthYellow = "yellow"
	IndexHealthGreen  = "green"
)

// SecurityIndexState is a point-in-time observation of the backing security
// index. The roles store compares consecutive states to decide when cached
// roles can no longer be trusted.
type SecurityIndexState struct {
	// IndexUUID identifies the concrete index; it changes when the index is
	// deleted and recreated. Empty means the index does not exist.
	IndexUUID string
	// IsIndexUpToDate reports whether the index mappings match the current
	// format.
	IsIndexUpToDate bool
	// IndexHealth is the index health, or empty when the index is absent.
	IndexHealth string
}

// IndexExists reports whether the observation saw the index at all.
func (s SecurityIndexState) IndexExists() bool {
	return s.IndexUUID != ""
}

// requiresInvalidation reports whether moving from previous to current makes
// previously cached roles unreliable. Stored roles are unreadable while the
// index is red, so recovering from red means reads may now see definitions
// the cache missed.
func requiresInvalidation(previous, current SecurityIndexState) bool {
	if previous.IndexHealth == IndexHealthRed && current.IndexHealth != IndexHealthRed {
		return true
	}
	if previous.IndexExists() && !current.IndexExists() {
		return true
	}
	if previous.IndexExists() && current.IndexExists() && previous.IndexUUID != current.IndexUUID {
		return true
	}
	if previous.IsIndexUpToDate != current.IsIndexUpToDate {
		return true
	}
	return false
}
