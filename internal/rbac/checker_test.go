package rbac

import (
	"context"
	"testing"
)

func TestCheckerHas(t *testing.T) {
	c := NewChecker(nil)

	cases := []struct {
		role, perm string
		want       bool
	}{
		{"student", "attempt:start", true},
		{"student", "gradebook:view-own", true},
		{"student", "test:publish", false},
		{"student", "enrollment:manage", false},
		{"instructor", "test:publish", true},
		{"instructor", "gradebook:recompute", true},
		{"instructor", "attempt:start", false},
		{"admin", "anything:at-all", true},
		{"", "course:view", false},
		{"auditor", "course:view", false},
	}
	for _, tc := range cases {
		if got := c.Has(tc.role, tc.perm); got != tc.want {
			t.Fatalf("Has(%q,%q)=%v, want %v", tc.role, tc.perm, got, tc.want)
		}
	}
}

func TestCheckerAny(t *testing.T) {
	c := NewChecker(nil)
	if !c.Any("student", "test:publish", "attempt:start") {
		t.Fatalf("Any missed a granted permission")
	}
	if c.Any("student", "test:publish", "enrollment:manage") {
		t.Fatalf("Any granted without any matching permission")
	}
}

func TestMatchPermWildcard(t *testing.T) {
	c := NewChecker(map[string][]string{"ops": {"gradebook:*"}})
	if !c.Has("ops", "gradebook:recompute") {
		t.Fatalf("prefix wildcard did not match")
	}
	if c.Has("ops", "attempt:start") {
		t.Fatalf("prefix wildcard matched outside its prefix")
	}
}

func TestRoleContextRoundTrip(t *testing.T) {
	ctx := WithRole(context.Background(), "instructor")
	if got := RoleFromContext(ctx); got != "instructor" {
		t.Fatalf("role from context: got %q", got)
	}
	if got := RoleFromContext(context.Background()); got != "" {
		t.Fatalf("empty context yielded role %q", got)
	}
}
