package credentials

// Credential is the stored password of a local user.
type Credential struct {
	UserID       string
	PasswordHash string
	HashVersion  string
}
