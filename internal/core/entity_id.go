package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EntityID identifies a single entity as a validated (domain, object) pair.
//
// The canonical form is "domain.object" (e.g. "light.kitchen"). Both parts
// are lowercase ASCII alphanumerics plus underscore, may not start or end
// with an underscore, and the domain additionally may not contain a double
// underscore. Equality and ordering are case-sensitive on the canonical
// form.
//
// The zero value is invalid; construct via NewEntityID or ParseEntityID.
type EntityID struct {
	domain string
	object string
}

// NewEntityID creates an EntityID from its parts.
// Returns ErrInvalidEntityID if either part fails validation.
func NewEntityID(domain, object string) (EntityID, error) {
	if domain == "" {
		return EntityID{}, fmt.Errorf("%w: empty domain", ErrInvalidEntityID)
	}
	if object == "" {
		return EntityID{}, fmt.Errorf("%w: empty object id", ErrInvalidEntityID)
	}
	if !validDomain(domain) {
		return EntityID{}, fmt.Errorf("%w: bad domain %q", ErrInvalidEntityID, domain)
	}
	if !validObject(object) {
		return EntityID{}, fmt.Errorf("%w: bad object id %q", ErrInvalidEntityID, object)
	}
	return EntityID{domain: domain, object: object}, nil
}

// ParseEntityID parses the canonical "domain.object" form.
func ParseEntityID(s string) (EntityID, error) {
	domain, object, ok := strings.Cut(s, ".")
	if !ok || strings.Contains(object, ".") {
		return EntityID{}, fmt.Errorf("%w: %q must contain exactly one '.'", ErrInvalidEntityID, s)
	}
	return NewEntityID(domain, object)
}

// MustEntityID parses s and panics on failure. Intended for constants
// and tests where the input is known to be valid.
func MustEntityID(s string) EntityID {
	id, err := ParseEntityID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Domain returns the domain part (e.g. "light").
func (e EntityID) Domain() string { return e.domain }

// Object returns the object part (e.g. "kitchen").
func (e EntityID) Object() string { return e.object }

// IsZero reports whether e is the invalid zero value.
func (e EntityID) IsZero() bool { return e.domain == "" && e.object == "" }

// String returns the canonical "domain.object" form.
func (e EntityID) String() string { return e.domain + "." + e.object }

// MarshalJSON encodes the entity id as its canonical string.
func (e EntityID) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON decodes and validates the canonical string form.
func (e *EntityID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	id, err := ParseEntityID(s)
	if err != nil {
		return err
	}
	*e = id
	return nil
}

// validObject implements the object rule: (?!_)[0-9a-z_]+(?<!_)
func validObject(s string) bool {
	if strings.HasPrefix(s, "_") || strings.HasSuffix(s, "_") {
		return false
	}
	for _, c := range s {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
			return false
		}
	}
	return true
}

// validDomain implements the domain rule: (?!.+__)(?!_)[0-9a-z_]+(?<!_)
func validDomain(s string) bool {
	if strings.Contains(s, "__") {
		return false
	}
	return validObject(s)
}
