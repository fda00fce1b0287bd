package domain

// AnonymousName is the username reported for unauthenticated connections.
const AnonymousName = "anonymous"

// Principal is the identity attached to a live connection.
type Principal struct {
	UserID   string
	Username string
	Roles    []string
}

// Anonymous is the principal of a connection without a valid token.
var Anonymous = Principal{Username: AnonymousName}

// IsAnonymous reports whether p carries no authenticated identity.
func (p Principal) IsAnonymous() bool {
	return p.Username == "" || p.Username == AnonymousName
}

// Name returns the username, or AnonymousName when unauthenticated.
func (p Principal) Name() string {
	if p.IsAnonymous() {
		return AnonymousName
	}
	return p.Username
}
