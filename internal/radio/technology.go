package radio

import (
	"fmt"
	"strings"
)

// Technology identifies a short-range radio technology.
type Technology string

// Supported technologies.
const (
	BLE  Technology = "BLE"
	UWB  Technology = "UWB"
	NFC  Technology = "NFC"
	WiFi Technology = "WIFI"
)

// ScopeAll is the scope name covering every supported technology.
const ScopeAll = "ALL"

// allTechnologies is the canonical technology order used by scopes and snapshots.
var allTechnologies = []Technology{BLE, UWB, NFC, WiFi}

// AllTechnologies returns every supported technology in canonical order.
func AllTechnologies() []Technology {
	out := make([]Technology, len(allTechnologies))
	copy(out, allTechnologies)
	return out
}

// Valid reports whether t is a supported technology.
func (t Technology) Valid() bool {
	for _, known := range allTechnologies {
		if t == known {
			return true
		}
	}
	return false
}

// ParseTechnology parses a technology name. "BT" is accepted as an alias of BLE.
func ParseTechnology(name string) (Technology, error) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	switch normalized {
	case "BT", "BLUETOOTH":
		return BLE, nil
	case "WI-FI":
		return WiFi, nil
	}

	t := Technology(normalized)
	if !t.Valid() {
		return "", fmt.Errorf("unknown technology %q", name)
	}
	return t, nil
}

// Scope is the immutable set of technologies covered by one scan run.
type Scope struct {
	techs []Technology
}

// NewScope builds a scope from the given technologies, dropping duplicates
// and ordering them canonically. An empty scope is an error.
func NewScope(techs ...Technology) (Scope, error) {
	if len(techs) == 0 {
		return Scope{}, fmt.Errorf("scope must contain at least one technology")
	}

	requested := make(map[Technology]bool, len(techs))
	for _, t := range techs {
		if !t.Valid() {
			return Scope{}, fmt.Errorf("unknown technology %q", t)
		}
		requested[t] = true
	}

	ordered := make([]Technology, 0, len(requested))
	for _, t := range allTechnologies {
		if requested[t] {
			ordered = append(ordered, t)
		}
	}
	return Scope{techs: ordered}, nil
}

// FullScope returns the scope covering every supported technology.
func FullScope() Scope {
	return Scope{techs: AllTechnologies()}
}

// ParseScope parses "ALL", a single technology name, or a comma separated list.
func ParseScope(spec string) (Scope, error) {
	spec = strings.TrimSpace(spec)
	if strings.EqualFold(spec, ScopeAll) {
		return FullScope(), nil
	}

	parts := strings.Split(spec, ",")
	techs := make([]Technology, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		t, err := ParseTechnology(part)
		if err != nil {
			return Scope{}, err
		}
		techs = append(techs, t)
	}
	return NewScope(techs...)
}

// Technologies returns a copy of the scope's technologies in canonical order.
func (s Scope) Technologies() []Technology {
	out := make([]Technology, len(s.techs))
	copy(out, s.techs)
	return out
}

// Contains reports whether t is part of the scope.
func (s Scope) Contains(t Technology) bool {
	for _, known := range s.techs {
		if known == t {
			return true
		}
	}
	return false
}

// Len returns the number of technologies in the scope.
func (s Scope) Len() int {
	return len(s.techs)
}

// IsZero reports whether the scope was never initialized.
func (s Scope) IsZero() bool {
	return len(s.techs) == 0
}

// String renders the scope as "ALL" or a comma separated list.
func (s Scope) String() string {
	if len(s.techs) == len(allTechnologies) {
		return ScopeAll
	}
	names := make([]string, len(s.techs))
	for i, t := range s.techs {
		names[i] = string(t)
	}
	return strings.Join(names, ",")
}

// MarshalText renders the scope with String, so scopes travel as "ALL" or "BLE,UWB".
func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a scope with ParseScope.
func (s *Scope) UnmarshalText(text []byte) error {
	parsed, err := ParseScope(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
