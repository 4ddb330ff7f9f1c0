package cache

import (
	"strings"
)

// Owner identifies the principal a cache entry belongs to. Every key is
// namespaced under the owner's prefix, so one user can never observe
// another user's cached data even when the logical keys collide.
type Owner struct {
	UserID      string
	OrgID       string
	Environment string
}

// NewOwner builds an owner context. Empty components are normalized to
// "default" so the prefix always has the same shape.
func NewOwner(userID, orgID, environment string) Owner {
	return Owner{
		UserID:      normalizeComponent(userID),
		OrgID:       normalizeComponent(orgID),
		Environment: normalizeComponent(environment),
	}
}

// DefaultOwner is used where no principal has been established, such as
// local stdio sessions.
func DefaultOwner() Owner {
	return NewOwner("", "", "")
}

// Prefix returns the namespace prefix for this owner. The prefix is
// sanitized so identifiers cannot inject separator characters and break
// out of their namespace.
func (o Owner) Prefix() string {
	var b strings.Builder
	b.Grow(len(o.UserID) + len(o.OrgID) + len(o.Environment) + 16)
	b.WriteString("user:")
	b.WriteString(sanitizeComponent(o.UserID))
	b.WriteString(":org:")
	b.WriteString(sanitizeComponent(o.OrgID))
	b.WriteString(":env:")
	b.WriteString(sanitizeComponent(o.Environment))
	return b.String()
}

// Key namespaces a logical key under this owner's prefix.
func (o Owner) Key(key string) string {
	return o.Prefix() + ":" + key
}

func normalizeComponent(s string) string {
	if s == "" {
		return "default"
	}
	return s
}

// sanitizeComponent keeps alphanumerics plus -_. and replaces anything
// else (including the ':' separator) with '_'.
func sanitizeComponent(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
