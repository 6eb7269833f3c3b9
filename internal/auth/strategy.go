package auth

import (
	"fmt"
	"strings"
)

// MatchStrategy selects which contact field ties a DingTalk profile to a
// local account.
type MatchStrategy string

const (
	MatchPersonalEmail MatchStrategy = "personalEmail"
	MatchOrgEmail      MatchStrategy = "orgEmail"
	MatchMobile        MatchStrategy = "mobile"
)

func ParseMatchStrategy(s string) (MatchStrategy, error) {
	switch m := MatchStrategy(s); m {
	case MatchPersonalEmail, MatchOrgEmail, MatchMobile:
		return m, nil
	}
	return "", fmt.Errorf("unknown match strategy %q", s)
}

// ContactField is the local user column a match key is compared against.
type ContactField string

const (
	ContactEmail ContactField = "email"
	ContactPhone ContactField = "phone"
)

// MatchKey is the value used to find a local account.
type MatchKey struct {
	Field ContactField
	Value string
}

// IsEmail reports whether the key is matched against the email column.
func (k MatchKey) IsEmail() bool {
	return k.Field == ContactEmail
}

// SelectMatchKey picks the match key for a profile. Email strategies only
// admit addresses ending in one of allowedDomains; an empty list admits none.
func SelectMatchKey(p ExternalProfile, strategy MatchStrategy, allowedDomains []string) (MatchKey, error) {
	switch strategy {
	case MatchPersonalEmail:
		if p.Email == "" {
			return MatchKey{}, Validation(CodeMissingContactField, "user has no email configured")
		}
		if !DomainAllowed(p.Email, allowedDomains) {
			return MatchKey{}, Validation(CodeDomainNotAllowed, "email domain not enabled: "+p.Email)
		}
		return MatchKey{Field: ContactEmail, Value: p.Email}, nil

	case MatchOrgEmail:
		if p.OrgEmail == "" {
			return MatchKey{}, Validation(CodeMissingContactField, "user has no organization email configured")
		}
		if !DomainAllowed(p.OrgEmail, allowedDomains) {
			return MatchKey{}, Validation(CodeDomainNotAllowed, "email domain not enabled: "+p.OrgEmail)
		}
		return MatchKey{Field: ContactEmail, Value: p.OrgEmail}, nil

	case MatchMobile:
		if p.Mobile == "" {
			return MatchKey{}, Validation(CodeMissingContactField, "user has no mobile configured")
		}
		return MatchKey{Field: ContactPhone, Value: p.Mobile}, nil
	}

	return MatchKey{}, fmt.Errorf("unknown match strategy %q", strategy)
}

// DomainAllowed is a case-sensitive suffix match against each domain.
func DomainAllowed(email string, allowedDomains []string) bool {
	for _, d := range allowedDomains {
		if d != "" && strings.HasSuffix(email, d) {
			return true
		}
	}
	return false
}

// Username derives the login name for a provisioned account: the local part
// of an email key, else the mobile, else the external user id.
func Username(key MatchKey, p ExternalProfile) string {
	if key.IsEmail() {
		if local, _, _ := strings.Cut(key.Value, "@"); local != "" {
			return local
		}
	}
	if p.Mobile != "" {
		return p.Mobile
	}
	return p.ExternalUserID
}
