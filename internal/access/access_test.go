package access

import "testing"

func TestAllowAnyIsAlwaysTrue(t *testing.T) {
	c := NewChecker(Groups{})
	if !c.Allow("anyone", ScopeAny, "") {
		t.Fatal("ScopeAny should always allow")
	}
}

func TestWildcardGroupAllowsEveryone(t *testing.T) {
	c := NewChecker(Groups{Admin: "*", Operator: "*", Proxy: "*"})
	if !c.Allow("anyone", ScopeAdmin, "") {
		t.Fatal("wildcard admin group should allow anyone")
	}
	if !c.Allow("anyone", ScopeProxy, "") {
		t.Fatal("wildcard proxy group should allow anyone")
	}
}

func TestOwnerScopeAllowsOwner(t *testing.T) {
	c := NewChecker(Groups{})
	if !c.Allow("alice", ScopeOwner, "alice") {
		t.Fatal("owner should be allowed")
	}
}

func TestOwnerScopeDeniesNonOwnerWithoutGroup(t *testing.T) {
	c := NewChecker(Groups{Operator: "nonexistent-group-xyz"})
	if c.Allow("bob", ScopeOwner, "alice") {
		t.Fatal("non-owner without operator membership should be denied")
	}
}

func TestNamedGroupWithNoSuchUserDenied(t *testing.T) {
	c := NewChecker(Groups{Admin: "wheel"})
	if c.Allow("no-such-user-xyz-123", ScopeAdmin, "") {
		t.Fatal("lookup failure should deny, not panic or allow")
	}
}

func TestRedactEmptyForOwner(t *testing.T) {
	c := NewChecker(Groups{})
	rs := RedactionSet{Names: []string{"job-originating-user-name"}}
	if got := c.Redact(rs, "alice", "alice"); len(got) != 0 {
		t.Fatalf("owner should see everything, got %v", got)
	}
}

func TestRedactAppliesForStranger(t *testing.T) {
	c := NewChecker(Groups{Operator: "nonexistent-group-xyz"})
	rs := RedactionSet{Names: []string{"job-originating-user-name"}}
	got := c.Redact(rs, "bob", "alice")
	if len(got) != 1 {
		t.Fatalf("expected redaction list applied, got %v", got)
	}
}
