// Package identity maps authors between the two sides of the sync:
// SVN usernames on one side, Git name+email identities on the other.
//
// The sync engine treats the mapper as opaque. The implementations here
// cover a static in-memory mapping plus a generated fallback identity; any
// directory-backed mapper (LDAP etc.) satisfies the same interface.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// GitIdentity is a Git author: display name plus email address.
type GitIdentity struct {
	Name  string
	Email string
}

// String renders the conventional "Name <email>" form.
func (g GitIdentity) String() string {
	return fmt.Sprintf("%s <%s>", g.Name, g.Email)
}

// ErrUnmapped is returned when a lookup has no mapping and the mapper was
// built without a fallback.
var ErrUnmapped = errors.New("identity: no mapping for author")

// Mapper is the bidirectional author lookup used by the sync engine.
type Mapper interface {
	// SvnToGit resolves an SVN username to a Git identity.
	SvnToGit(username string) (GitIdentity, error)
	// GitToSvn resolves a Git identity to an SVN username.
	GitToSvn(id GitIdentity) (string, error)
}

// StaticMapper is an in-memory bidirectional map with an optional fallback
// policy. When fallbackDomain is non-empty an unmapped SVN user resolves to
// "user <user@domain>"; when defaultSvnUser is non-empty an unmapped Git
// identity resolves to it. With both empty, lookups fail with ErrUnmapped.
type StaticMapper struct {
	mu             sync.RWMutex
	svnToGit       map[string]GitIdentity
	emailToSvn     map[string]string
	fallbackDomain string
	defaultSvnUser string
}

// NewStatic builds a StaticMapper from an svn-user -> identity table.
func NewStatic(table map[string]GitIdentity, fallbackDomain, defaultSvnUser string) *StaticMapper {
	m := &StaticMapper{
		svnToGit:       make(map[string]GitIdentity, len(table)),
		emailToSvn:     make(map[string]string, len(table)),
		fallbackDomain: fallbackDomain,
		defaultSvnUser: defaultSvnUser,
	}
	for user, id := range table {
		m.svnToGit[user] = id
		m.emailToSvn[strings.ToLower(id.Email)] = user
	}
	return m
}

// Add registers or replaces one mapping.
func (m *StaticMapper) Add(username string, id GitIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.svnToGit[username]; ok {
		delete(m.emailToSvn, strings.ToLower(old.Email))
	}
	m.svnToGit[username] = id
	m.emailToSvn[strings.ToLower(id.Email)] = username
}

// SvnToGit implements Mapper.
func (m *StaticMapper) SvnToGit(username string) (GitIdentity, error) {
	m.mu.RLock()
	id, ok := m.svnToGit[username]
	m.mu.RUnlock()
	if ok {
		return id, nil
	}
	if m.fallbackDomain != "" {
		return GitIdentity{
			Name:  username,
			Email: fmt.Sprintf("%s@%s", username, m.fallbackDomain),
		}, nil
	}
	return GitIdentity{}, fmt.Errorf("%w: svn user %q", ErrUnmapped, username)
}

// GitToSvn implements Mapper. Email comparison is case-insensitive.
func (m *StaticMapper) GitToSvn(id GitIdentity) (string, error) {
	m.mu.RLock()
	user, ok := m.emailToSvn[strings.ToLower(id.Email)]
	m.mu.RUnlock()
	if ok {
		return user, nil
	}
	if m.defaultSvnUser != "" {
		return m.defaultSvnUser, nil
	}
	return "", fmt.Errorf("%w: git identity %s", ErrUnmapped, id)
}
