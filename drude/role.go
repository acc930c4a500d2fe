package drude

import (
	"fmt"
	"strconv"
	"strings"
)

// Role is the polarization role of an atom type
type Role uint8

const (
	NonPolarizable Role = iota
	Core
	Drude
)

func (r Role) String() string {
	switch r {
	case NonPolarizable:
		return "non-polarizable"
	case Core:
		return "core"
	case Drude:
		return "drude"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// Polarizable reports whether the role takes part in a core/Drude pair
func (r Role) Polarizable() bool {
	return r == Core || r == Drude
}

// Complement returns the role a partner must have
func (r Role) Complement() Role {
	switch r {
	case Core:
		return Drude
	case Drude:
		return Core
	default:
		return NonPolarizable
	}
}

// ParseRole accepts N, C, D (any case) or 0, 1, 2
func ParseRole(tok string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(tok)) {
	case "N", "0":
		return NonPolarizable, nil
	case "C", "1":
		return Core, nil
	case "D", "2":
		return Drude, nil
	}
	return 0, fmt.Errorf("%w: unknown role %q", ErrBadRole, tok)
}

// RoleTable maps atom types 1..NTypes to roles
type RoleTable struct {
	roles    []Role // index 0 unused
	assigned []bool
}

// NewRoleTable returns a table with every type non-polarizable
func NewRoleTable(ntypes int) *RoleTable {
	if ntypes < 1 {
		panic(fmt.Sprintf("drude: role table needs at least one type, got %d", ntypes))
	}
	return &RoleTable{
		roles:    make([]Role, ntypes+1),
		assigned: make([]bool, ntypes+1),
	}
}

// ParseRoleTable builds a table either from one role token per type, in
// type order ("C D N"), or from type:role assignments ("1:C 2:D").
// Unassigned types are non-polarizable.
func ParseRoleTable(ntypes int, tokens []string) (*RoleTable, error) {
	rt := NewRoleTable(ntypes)
	if len(tokens) == 0 {
		return rt, nil
	}

	if !strings.Contains(tokens[0], ":") {
		if len(tokens) != ntypes {
			return nil, fmt.Errorf("%w: %d role tokens for %d types", ErrBadRole, len(tokens), ntypes)
		}
		for i, tok := range tokens {
			role, err := ParseRole(tok)
			if err != nil {
				return nil, err
			}
			if err := rt.Assign(i+1, role); err != nil {
				return nil, err
			}
		}
		return rt, nil
	}

	for _, tok := range tokens {
		typ, roleTok, ok := strings.Cut(tok, ":")
		if !ok {
			return nil, fmt.Errorf("%w: expected type:role, got %q", ErrBadRole, tok)
		}
		t, err := strconv.Atoi(typ)
		if err != nil {
			return nil, fmt.Errorf("%w: bad type in %q", ErrBadRole, tok)
		}
		role, err := ParseRole(roleTok)
		if err != nil {
			return nil, err
		}
		if err := rt.Assign(t, role); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

// Assign sets the role of one type. Each type may be assigned once.
func (rt *RoleTable) Assign(typ int, role Role) error {
	if typ < 1 || typ >= len(rt.roles) {
		return fmt.Errorf("%w: type %d out of range [1,%d]", ErrBadRole, typ, rt.NTypes())
	}
	if role > Drude {
		return fmt.Errorf("%w: type %d given %s", ErrBadRole, typ, role)
	}
	if rt.assigned[typ] {
		return fmt.Errorf("%w: type %d assigned twice", ErrBadRole, typ)
	}
	rt.roles[typ] = role
	rt.assigned[typ] = true
	return nil
}

// NTypes returns the number of atom types covered
func (rt *RoleTable) NTypes() int {
	return len(rt.roles) - 1
}

// Of returns the role of atom type typ
func (rt *RoleTable) Of(typ int) Role {
	return rt.roles[typ]
}

// Count returns how many types carry role
func (rt *RoleTable) Count(role Role) int {
	n := 0
	for _, r := range rt.roles[1:] {
		if r == role {
			n++
		}
	}
	return n
}
