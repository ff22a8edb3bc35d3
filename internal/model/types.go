package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Status is the agreement lifecycle state.
type Status uint8

const (
	StatusProposed Status = iota
	StatusActive
	StatusFulfilled
	StatusBreached
	StatusDisputed
	StatusCancelled
)

var statusLabels = [...]string{"proposed", "active", "fulfilled", "breached", "disputed", "cancelled"}

// transitions lists every allowed status change. Anything absent is rejected.
// BREACHED and DISPUTED are reachable from ACTIVE in the table but no
// operation currently drives an agreement into them.
var transitions = map[Status][]Status{
	StatusProposed:  {StatusActive, StatusCancelled},
	StatusActive:    {StatusFulfilled, StatusBreached, StatusDisputed},
	StatusFulfilled: nil,
	StatusBreached:  nil,
	StatusDisputed:  nil,
	StatusCancelled: nil,
}

// CanTransition reports whether the state machine allows s -> to.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Closable reports whether agreements in this status may be destroyed.
func (s Status) Closable() bool {
	switch s {
	case StatusFulfilled, StatusCancelled, StatusBreached:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a declared status.
func (s Status) Valid() bool { return int(s) < len(statusLabels) }

func (s Status) String() string { return label(statusLabels[:], uint8(s)) }

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, err := parseLabel(statusLabels[:], string(b), "status")
	if err != nil {
		return err
	}
	*s = Status(v)
	return nil
}

// ParseStatus accepts a status label or its numeric code.
func ParseStatus(s string) (Status, error) {
	var st Status
	err := st.UnmarshalText([]byte(s))
	return st, err
}

// AgreementType classifies the agreement. Values above TypeCustom are invalid.
type AgreementType uint8

const (
	TypeSafe AgreementType = iota
	TypeService
	TypeRevenueShare
	TypeJointVenture
	TypeCustom
)

var typeLabels = [...]string{"safe", "service", "revenue_share", "joint_venture", "custom"}

func (t AgreementType) Valid() bool { return t <= TypeCustom }

func (t AgreementType) String() string { return label(typeLabels[:], uint8(t)) }

func (t AgreementType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *AgreementType) UnmarshalText(b []byte) error {
	v, err := parseLabel(typeLabels[:], string(b), "agreement type")
	if err != nil {
		return err
	}
	*t = AgreementType(v)
	return nil
}

// Visibility controls whether an agreement is publicly listed.
type Visibility uint8

const (
	VisibilityPublic Visibility = iota
	VisibilityPrivate
)

var visibilityLabels = [...]string{"public", "private"}

func (v Visibility) Valid() bool { return v <= VisibilityPrivate }

func (v Visibility) String() string { return label(visibilityLabels[:], uint8(v)) }

func (v Visibility) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v *Visibility) UnmarshalText(b []byte) error {
	n, err := parseLabel(visibilityLabels[:], string(b), "visibility")
	if err != nil {
		return err
	}
	*v = Visibility(n)
	return nil
}

// Role is a party's function within an agreement.
type Role uint8

const (
	RoleProposer Role = iota
	RoleCounterparty
	RoleWitness
	RoleArbitrator
)

var roleLabels = [...]string{"proposer", "counterparty", "witness", "arbitrator"}

func (r Role) Valid() bool { return r <= RoleArbitrator }

func (r Role) String() string { return label(roleLabels[:], uint8(r)) }

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(b []byte) error {
	n, err := parseLabel(roleLabels[:], string(b), "role")
	if err != nil {
		return err
	}
	*r = Role(n)
	return nil
}

// ParseRole accepts a role label or its numeric code.
func ParseRole(s string) (Role, error) {
	var r Role
	err := r.UnmarshalText([]byte(s))
	return r, err
}

// label renders known values by name and unknown ones by number, so out-of-range
// codes survive a round trip and reach validation intact.
func label(labels []string, v uint8) string {
	if int(v) < len(labels) {
		return labels[v]
	}
	return strconv.Itoa(int(v))
}

func parseLabel(labels []string, s, what string) (uint8, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, l := range labels {
		if s == l {
			return uint8(i), nil
		}
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown %s %q", what, s)
	}
	return uint8(n), nil
}
