// Package identity carries the acting caller through hook and RPC
// invocations. The runtime never persists or interprets it; plugin bodies
// and policy hooks use it for authorization decisions.
package identity

// Caller identifies the actor an invocation runs on behalf of.
type Caller struct {
	// UserID is the authenticated user, empty for system calls.
	UserID string

	// System marks calls originated by the host itself.
	System bool
}

// User returns a caller for an authenticated user.
func User(id string) Caller {
	return Caller{UserID: id}
}

// System returns the caller used for host-originated invocations.
func System() Caller {
	return Caller{System: true}
}

// Anonymous returns a caller with no actor attached.
func Anonymous() Caller {
	return Caller{}
}

// IsAnonymous reports whether no actor is attached.
func (c Caller) IsAnonymous() bool {
	return !c.System && c.UserID == ""
}
