package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FlexString accepts JSON strings, numbers and null.
// The IAM authority emits numeric or UUID identifiers depending on deployment.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("flex string: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

// String returns the plain value.
func (f FlexString) String() string { return string(f) }

// NameRef accepts either "name" or {"name": "..."}.
type NameRef string

// UnmarshalJSON implements json.Unmarshaler.
func (n *NameRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*n = NameRef(obj.Name)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*n = NameRef(s)
	return nil
}

// RemoteRole is a role as returned by the IAM authority.
type RemoteRole struct {
	Name        string
	Permissions []NameRef
}

// UnmarshalJSON accepts plain role names and role objects with attached permissions.
func (r *RemoteRole) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			Name        string    `json:"name"`
			Permissions []NameRef `json:"permissions"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		r.Name = obj.Name
		r.Permissions = obj.Permissions
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	r.Name = s
	r.Permissions = nil
	return nil
}

// RemoteUser is the user object of an IAM authentication response.
type RemoteUser struct {
	ID           FlexString   `json:"id"`
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	Phone        FlexString   `json:"phone"`
	DepartmentID FlexString   `json:"department_id"`
	PositionID   FlexString   `json:"position_id"`
	Status       string       `json:"status"`
	Roles        []RemoteRole `json:"roles"`
}

// AuthResult is the body of auth/login, auth/login-with-phone and auth/me.
type AuthResult struct {
	User        *RemoteUser `json:"user"`
	AccessToken string      `json:"access_token,omitempty"`
	TokenType   string      `json:"token_type,omitempty"`
	ExpiresIn   int64       `json:"expires_in,omitempty"`
	Permissions []NameRef   `json:"permissions,omitempty"`
}

// TokenGrant is the body of auth/refresh.
type TokenGrant struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
}

// OTPResult is the body of the phone/OTP endpoints.
type OTPResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	ExpiresIn int64  `json:"expires_in,omitempty"`
	Verified  bool   `json:"verified,omitempty"`
}
