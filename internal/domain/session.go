package domain

import (
	"maps"
	"slices"
)

// Session attribute keys.
const (
	// IntendedURLKey holds the destination a browser was redirected away from.
	IntendedURLKey = "url.intended"
)

// SessionData is the persisted state of a session.
type SessionData struct {
	Token       string            `json:"token,omitempty"`
	Permissions []string          `json:"permissions,omitempty"`
	Roles       []string          `json:"roles,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Remember    bool              `json:"remember,omitempty"`
}

// Session is the request-scoped handle on server-side session state.
// It is owned by a single request and is not safe for concurrent use.
type Session struct {
	id         string
	data       SessionData
	fresh      bool
	dirty      bool
	regenerate bool
}

// NewSession wraps loaded data. A nil data marks the session as fresh.
func NewSession(id string, data *SessionData) *Session {
	s := &Session{id: id, fresh: data == nil}
	if data != nil {
		s.data = *data
		s.data.Attributes = maps.Clone(data.Attributes)
	}
	return s
}

// ID returns the current session identifier.
func (s *Session) ID() string { return s.id }

// IsFresh reports whether the session did not exist before this request.
func (s *Session) IsFresh() bool { return s.fresh }

// IsDirty reports whether the session needs to be persisted.
func (s *Session) IsDirty() bool { return s.dirty }

// IsEmpty reports whether the session carries no state worth persisting.
func (s *Session) IsEmpty() bool {
	return s.data.Token == "" &&
		len(s.data.Permissions) == 0 &&
		len(s.data.Roles) == 0 &&
		len(s.data.Attributes) == 0
}

// Touch marks the session for persistence so its expiry slides forward.
func (s *Session) Touch() { s.dirty = true }

// Token returns the IAM token stored in the session.
func (s *Session) Token() string { return s.data.Token }

// SetToken stores the IAM token.
func (s *Session) SetToken(token string) {
	s.data.Token = token
	s.dirty = true
}

// ForgetToken removes the IAM token and the authorization snapshot.
func (s *Session) ForgetToken() {
	s.data.Token = ""
	s.data.Permissions = nil
	s.data.Roles = nil
	s.dirty = true
}

// Permissions returns the permission snapshot.
func (s *Session) Permissions() []string { return s.data.Permissions }

// Roles returns the role snapshot.
func (s *Session) Roles() []string { return s.data.Roles }

// SetSnapshot stores denormalized permissions and roles for fast-path checks.
func (s *Session) SetSnapshot(permissions, roles []string) {
	s.data.Permissions = slices.Clone(permissions)
	s.data.Roles = slices.Clone(roles)
	s.dirty = true
}

// Get returns an attribute value.
func (s *Session) Get(key string) string { return s.data.Attributes[key] }

// Put sets an attribute value.
func (s *Session) Put(key, value string) {
	if s.data.Attributes == nil {
		s.data.Attributes = make(map[string]string)
	}
	s.data.Attributes[key] = value
	s.dirty = true
}

// Remove deletes an attribute.
func (s *Session) Remove(key string) {
	if _, ok := s.data.Attributes[key]; !ok {
		return
	}
	delete(s.data.Attributes, key)
	s.dirty = true
}

// Pull returns an attribute and removes it.
func (s *Session) Pull(key string) string {
	v := s.Get(key)
	s.Remove(key)
	return v
}

// Remember reports whether the session uses the long-lived lifetime.
func (s *Session) Remember() bool { return s.data.Remember }

// SetRemember toggles the long-lived lifetime.
func (s *Session) SetRemember(remember bool) {
	s.data.Remember = remember
	s.dirty = true
}

// Regenerate requests a new identifier with the same content on commit.
func (s *Session) Regenerate() {
	s.regenerate = true
	s.dirty = true
}

// Invalidate drops all session state and requests a new identifier.
func (s *Session) Invalidate() {
	s.data = SessionData{}
	s.Regenerate()
}

// NeedsRegeneration reports whether Regenerate or Invalidate was called.
func (s *Session) NeedsRegeneration() bool { return s.regenerate }

// Rotate switches to newID and returns the previous identifier.
func (s *Session) Rotate(newID string) string {
	old := s.id
	s.id = newID
	s.regenerate = false
	return old
}

// Data returns a copy of the persisted state.
func (s *Session) Data() SessionData {
	d := s.data
	d.Permissions = slices.Clone(s.data.Permissions)
	d.Roles = slices.Clone(s.data.Roles)
	d.Attributes = maps.Clone(s.data.Attributes)
	return d
}

// MarkClean resets the dirty flag after a successful commit.
func (s *Session) MarkClean() {
	s.dirty = false
	s.fresh = false
}
