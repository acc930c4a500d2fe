package drude

import (
	"errors"
	"fmt"
)

var (
	// ErrBadRole reports an invalid role table construction
	ErrBadRole = errors.New("drude: invalid role assignment")

	// ErrMalformedMessage reports a ring message that failed to decode
	ErrMalformedMessage = errors.New("drude: malformed ring message")

	// ErrInconsistentPartner reports a partner relation that is not a
	// bijection between cores and Drudes
	ErrInconsistentPartner = errors.New("drude: inconsistent partner relation")
)

// UnresolvedPartnerError reports a polarizable atom with no bonded partner
// after a full ring circuit
type UnresolvedPartnerError struct {
	Tag  int64
	Role Role
}

func (e *UnresolvedPartnerError) Error() string {
	return fmt.Sprintf("drude: %s atom %d has no bonded partner", e.Role, e.Tag)
}

// DuplicatePartnerError reports an atom bonded to two partners of the
// complementary role
type DuplicatePartnerError struct {
	Tag           int64
	First, Second int64
}

func (e *DuplicatePartnerError) Error() string {
	return fmt.Sprintf("drude: atom %d paired with both %d and %d", e.Tag, e.First, e.Second)
}
