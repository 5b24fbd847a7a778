// Package access implements the Access Control component: mapping an
// authenticated IPP requesting-user-name and a requested operation's
// privilege scope to allow/deny, via OS group membership for the admin/
// operator/proxy groups named in configuration, plus an owner check for
// job/subscription/document-scoped operations. Grounded on the teacher's
// auth.go, which resolves a UID to its user/group names and caches the
// lookup; generalized here from UID-based OS authentication to username-
// based IPP authentication (an Infrastructure Printer authenticates HTTP
// clients, not local UIDs, but the group-membership-with-caching idiom
// carries over unchanged).
package access

import (
	"os/user"
	"sync"
	"time"
)

// Scope names the privilege level an operation requires.
type Scope int

// Scopes, ordered from least to most privileged.
const (
	ScopeAny      Scope = iota // no restriction
	ScopeOwner                 // caller must be the object's owner, or Operator+
	ScopeProxy                 // caller must be in the configured proxy group
	ScopeOperator              // caller must be in the configured operator group
	ScopeAdmin                 // caller must be in the configured admin group
)

// Groups names the three configured group strings ("*" = anyone, "name"
// or "@name" = that OS group) a Checker matches against.
type Groups struct {
	Admin    string
	Operator string
	Proxy    string
}

// groupInfo is the resolved, cached set of group names a username belongs
// to, mirroring the teacher's AuthUIDinfo.
type groupInfo struct {
	names   []string
	expires time.Time
}

const cacheTTL = 2 * time.Second

// Checker evaluates Access Control decisions for one configured Groups
// set. Safe for concurrent use.
type Checker struct {
	groups Groups

	mu    sync.Mutex
	cache map[string]*groupInfo
}

// NewChecker builds a Checker for the given configured groups.
func NewChecker(groups Groups) *Checker {
	return &Checker{groups: groups, cache: map[string]*groupInfo{}}
}

// Allow reports whether username (the IPP requesting-user-name, already
// authenticated at the HTTP layer) may perform an operation requiring
// scope, where owner is the object's owning username (ignored for scopes
// other than ScopeOwner).
func (c *Checker) Allow(username string, scope Scope, owner string) bool {
	switch scope {
	case ScopeAny:
		return true
	case ScopeOwner:
		if username != "" && username == owner {
			return true
		}
		return c.inGroup(username, c.groups.Operator) || c.inGroup(username, c.groups.Admin)
	case ScopeProxy:
		return c.inGroup(username, c.groups.Proxy)
	case ScopeOperator:
		return c.inGroup(username, c.groups.Operator) || c.inGroup(username, c.groups.Admin)
	case ScopeAdmin:
		return c.inGroup(username, c.groups.Admin)
	default:
		return false
	}
}

func (c *Checker) inGroup(username, group string) bool {
	if group == "" {
		return false
	}
	if group == "*" {
		return true
	}
	group = trimAt(group)

	names, err := c.lookupGroups(username)
	if err != nil {
		return false
	}
	for _, n := range names {
		if n == group {
			return true
		}
	}
	return false
}

func (c *Checker) lookupGroups(username string) ([]string, error) {
	c.mu.Lock()
	info := c.cache[username]
	c.mu.Unlock()

	if info != nil && info.expires.After(time.Now()) {
		return info.names, nil
	}

	usr, err := user.Lookup(username)
	if err != nil {
		return nil, err
	}

	gids, err := usr.GroupIds()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(gids))
	for _, gid := range gids {
		if grp, err := user.LookupGroupId(gid); err == nil {
			names = append(names, grp.Name)
		}
	}

	c.mu.Lock()
	c.cache[username] = &groupInfo{names: names, expires: time.Now().Add(cacheTTL)}
	c.mu.Unlock()

	return names, nil
}

func trimAt(group string) string {
	if len(group) > 0 && group[0] == '@' {
		return group[1:]
	}
	return group
}

// RedactionSet is the set of attribute names to omit from a response
// unless the caller is the object's owner or an operator/admin, per
// spec.md §4.5 and the PrivateAttributes configuration list.
type RedactionSet struct {
	Names []string
}

// Redact returns names to redact for this caller (empty if the caller is
// privileged enough to see everything).
func (c *Checker) Redact(rs RedactionSet, username, owner string) []string {
	if c.Allow(username, ScopeOwner, owner) {
		return nil
	}
	return rs.Names
}
