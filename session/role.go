package session

import (
	"fmt"
	"strings"
)

// Role of a connection end
type Role int

const (
	// Initiator opens the connection, the TLS client
	Initiator Role = iota
	// Responder accepts the connection, the TLS server
	Responder
)

func (r Role) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Responder:
		return "responder"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Peer returns the opposite role
func (r Role) Peer() Role {
	if r == Initiator {
		return Responder
	}
	return Initiator
}

// ParseRole accepts initiator|client|responder|server
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "initiator", "client", "":
		return Initiator, nil
	case "responder", "server":
		return Responder, nil
	}
	return Initiator, fmt.Errorf("unknown role %q", s)
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}
