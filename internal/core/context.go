package core

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Context records the origin and causality of a mutation.
//
// Every event, state write and service call carries a Context. Child
// contexts inherit the user id and record the parent's id, so a chain of
// contexts reconstructs the causality tree back to the originating user
// action.
type Context struct {
	// ID is a unique, time-ordered identifier for this context.
	ID string `json:"id"`

	// UserID identifies the user that initiated the action, if any.
	UserID string `json:"user_id,omitempty"`

	// ParentID identifies the context this one descends from, if any.
	ParentID string `json:"parent_id,omitempty"`
}

// NewContext creates a fresh root context.
func NewContext() Context {
	return Context{ID: NewID()}
}

// NewContextWithUser creates a fresh root context attributed to a user.
func NewContextWithUser(userID string) Context {
	return Context{ID: NewID(), UserID: userID}
}

// Child derives a new context with this context as parent.
// The user id is inherited.
func (c Context) Child() Context {
	return Context{ID: NewID(), UserID: c.UserID, ParentID: c.ID}
}

// IsZero reports whether the context is uninitialised.
func (c Context) IsZero() bool { return c.ID == "" }

// crockford is the base32 alphabet used by ULID (no I, L, O, U).
const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NewID returns a 26-character, ULID-compatible identifier.
//
// The underlying 128 bits come from a version 7 UUID, whose leading
// 48 bits are a millisecond timestamp, so ids sort by creation time.
// The Crockford base32 rendering matches the ULID wire form expected
// by API collaborators.
func NewID() string {
	u, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the random source does; fall back to v4
		// rather than propagate an error through every caller.
		u = uuid.New()
	}
	return encodeCrockford(u)
}

// encodeCrockford renders 128 bits as 26 base32 characters (130 bits,
// top two bits zero), most significant first.
func encodeCrockford(b [16]byte) string {
	hi := binary.BigEndian.Uint64(b[0:8])
	lo := binary.BigEndian.Uint64(b[8:16])

	var out [26]byte
	for i := 25; i >= 0; i-- {
		out[i] = crockford[lo&31]
		lo = (lo >> 5) | (hi << 59)
		hi >>= 5
	}
	return string(out[:])
}
