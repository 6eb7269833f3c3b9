package auth

import "encoding/json"

// ExternalProfile is what DingTalk tells us about the person signing in.
// It is rebuilt on every sign-in attempt and never persisted as-is, apart
// from the metadata snapshot stored on auto-provisioned users.
type ExternalProfile struct {
	ExternalUserID string `json:"userId"`  // org-scoped DingTalk userid
	UnionID        string `json:"unionId"` // provider-wide id
	Mobile         string `json:"mobile,omitempty"`
	Email          string `json:"email,omitempty"`
	OrgEmail       string `json:"orgEmail,omitempty"`
	DisplayName    string `json:"name"`
}

// Metadata returns the JSON snapshot stored with provisioned users.
func (p ExternalProfile) Metadata() (json.RawMessage, error) {
	return json.Marshal(p)
}

// TokenUser is the profile returned for a user access token.
type TokenUser struct {
	UnionID string
	OpenID  string
	Nick    string
	Mobile  string
	Email   string
}

// UserDetail is the directory record of an organisation member.
type UserDetail struct {
	UserID   string
	Name     string
	Email    string
	OrgEmail string
}

// User is a local account.
type User struct {
	ID       string          `json:"id"`
	Username string          `json:"username"`
	Nickname string          `json:"nickname,omitempty"`
	Email    string          `json:"email,omitempty"`
	Phone    string          `json:"phone,omitempty"`
	Meta     json.RawMessage `json:"meta,omitempty"`
}

// NewUser carries the fields of an account about to be created.
type NewUser struct {
	Username string
	Nickname string
	Email    string
	Phone    string
	Meta     json.RawMessage
}
