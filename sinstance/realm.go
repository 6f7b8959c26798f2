package sinstance

import (
	"fmt"
	"regexp"
)

// DefaultRealm is the realm used when none is named.
const DefaultRealm RealmName = "default"

// HeaderRealm is the HTTP header naming the realm
// during a connection handshake.
const HeaderRealm = "X-Realm"

// HeaderInstanceID is the HTTP header carrying the dialing instance's ID
// during a connection handshake.
const HeaderInstanceID = "X-Instance-Id"

// Lowercase alphanumerics with inner hyphens, 4 to 32 characters.
var realmNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{2,30}[a-z0-9]$`)

// RealmName is the validated name of a realm.
// Realm names are unique across a cluster and never change.
type RealmName string

// InvalidRealmNameError is returned by [ParseRealmName].
type InvalidRealmNameError struct {
	Name string
}

func (e InvalidRealmNameError) Error() string {
	return fmt.Sprintf(
		"invalid realm name %q: must be 4-32 lowercase letters, digits or inner hyphens",
		e.Name,
	)
}

// ParseRealmName validates s as a realm name.
func ParseRealmName(s string) (RealmName, error) {
	if !realmNamePattern.MatchString(s) {
		return "", InvalidRealmNameError{Name: s}
	}
	return RealmName(s), nil
}

// OrDefault returns r, or [DefaultRealm] if r is empty.
func (r RealmName) OrDefault() RealmName {
	if r == "" {
		return DefaultRealm
	}
	return r
}

func (r RealmName) String() string { return string(r) }

func (r RealmName) MarshalText() ([]byte, error) {
	return []byte(r), nil
}

func (r *RealmName) UnmarshalText(text []byte) error {
	v, err := ParseRealmName(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}
