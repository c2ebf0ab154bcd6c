// Package auth implements the relay's static user allow-list. Authorization
// design proper is out of scope; the list is assumed given, either inline in
// configuration or as a newline-delimited file.
package auth

import (
	"fmt"
	"os"
	"strings"
)

// Allowlist answers membership checks for known users.
type Allowlist struct {
	users map[string]struct{}
}

// NewAllowlist builds an allow-list from explicit user names.
func NewAllowlist(users []string) *Allowlist {
	a := &Allowlist{users: make(map[string]struct{}, len(users))}
	for _, u := range users {
		u = strings.TrimSpace(u)
		if u != "" {
			a.users[u] = struct{}{}
		}
	}
	return a
}

// LoadAllowlist reads a newline-delimited user file, ignoring blank lines,
// and merges it with any extra inline users.
func LoadAllowlist(path string, extra []string) (*Allowlist, error) {
	users := append([]string(nil), extra...)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read allow-list file: %w", err)
		}
		users = append(users, strings.Split(string(data), "\n")...)
	}

	return NewAllowlist(users), nil
}

// Allowed reports whether user is on the list.
func (a *Allowlist) Allowed(user string) bool {
	_, ok := a.users[user]
	return ok
}

// Len reports the number of distinct allowed users.
func (a *Allowlist) Len() int {
	return len(a.users)
}
