package auth

import (
	"errors"
	"strings"
)

// Common errors returned by the authentication subsystem.
var (
	ErrDisabled         = errors.New("authentication disabled")
	ErrInvalidToken     = errors.New("invalid token")
	ErrMissingToken     = errors.New("missing bearer token")
	ErrPermissionDenied = errors.New("permission denied")
	ErrSubjectRevoked   = errors.New("subject is disabled")
)

// Mode enumerates the supported authentication providers.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeToken    Mode = "token"
)

// AnyUser lets a token act for every user id.
const AnyUser = "*"

// Token describes one API client. Users lists the user ids the client may act
// for; AnyUser grants all of them.
type Token struct {
	Name     string
	Secret   string
	Users    []string
	Disabled bool
}

// Config configures the authentication service.
type Config struct {
	Mode   Mode
	Tokens []Token
}

// Subject is the authenticated API client passed to handlers via context.
type Subject struct {
	Name     string
	Users    []string
	Disabled bool

	users map[string]struct{}
	any   bool
}

func (s *Subject) normalise() {
	if s == nil || s.users != nil {
		return
	}
	s.users = make(map[string]struct{}, len(s.Users))
	for _, u := range s.Users {
		u = strings.TrimSpace(u)
		if u == AnyUser {
			s.any = true
			continue
		}
		if u != "" {
			s.users[u] = struct{}{}
		}
	}
}

// AllowsUser reports whether the subject may act for userID.
func (s *Subject) AllowsUser(userID string) bool {
	if s == nil || s.Disabled {
		return false
	}
	s.normalise()
	if s.any {
		return true
	}
	_, ok := s.users[strings.TrimSpace(userID)]
	return ok
}

// Authorize ensures the subject may act for every given user.
func (s *Subject) Authorize(userIDs ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	if s.Disabled {
		return ErrSubjectRevoked
	}
	for _, id := range userIDs {
		if !s.AllowsUser(id) {
			return ErrPermissionDenied
		}
	}
	return nil
}

// Clone creates a copy of the subject.
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	clone := &Subject{Name: s.Name, Users: append([]string(nil), s.Users...), Disabled: s.Disabled}
	clone.normalise()
	return clone
}
