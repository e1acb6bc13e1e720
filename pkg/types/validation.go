package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	errEmptyScope          = errors.New("scope is required")
	errEmptyTranscriptName = errors.New("transcript name is required")
	errEmptyRoster         = errors.New("roster must contain at least one entry")
	errEmptyEmail          = errors.New("resolved email is required")
)

// Validate checks that the entry carries an email, the roster's unique key.
func (r RosterEntry) Validate() error {
	if strings.TrimSpace(r.Email) == "" {
		return fmt.Errorf("roster entry %q: email is required", r.Name)
	}
	return nil
}

// Validate rejects requests that cannot be resolved: empty scope, empty
// transcript name or an empty roster. Roster entries without an email are
// also rejected since email is the identity key.
func (r *ResolutionRequest) Validate() error {
	if NormalizeScope(r.Scope) == "" {
		return errEmptyScope
	}
	if NormalizeKey(r.TranscriptName) == "" {
		return errEmptyTranscriptName
	}
	if len(r.Roster) == 0 {
		return errEmptyRoster
	}
	for _, entry := range r.Roster {
		if err := entry.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the fields required to persist a mapping.
func (m *LearnedMapping) Validate() error {
	if NormalizeScope(m.Scope) == "" {
		return errEmptyScope
	}
	if m.Key() == "" {
		return errEmptyTranscriptName
	}
	if strings.TrimSpace(m.ResolvedEmail) == "" {
		return errEmptyEmail
	}
	return nil
}
