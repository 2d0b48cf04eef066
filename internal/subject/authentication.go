package subject

// Authentication is the full authentication context of one request: the
// subject that authenticated and the subject the request runs as. For
// ordinary requests the two are the same.
type Authentication struct {
	effective      *Subject
	authenticating *Subject
}

// NewAuthentication creates a non-run-as authentication.
func NewAuthentication(s *Subject) *Authentication {
	return &Authentication{effective: s, authenticating: s}
}

// NewRunAsAuthentication creates an authentication where authenticating ran
// the request as effective.
func NewRunAsAuthentication(effective, authenticating *Subject) *Authentication {
	return &Authentication{effective: effective, authenticating: authenticating}
}

// EffectiveSubject returns the subject the request runs as.
func (a *Authentication) EffectiveSubject() *Subject { return a.effective }

// AuthenticatingSubject returns the subject that authenticated.
func (a *Authentication) AuthenticatingSubject() *Subject { return a.authenticating }

// IsRunAs reports whether the request impersonates another subject.
func (a *Authentication) IsRunAs() bool { return a.effective != a.authenticating }
