package call

import "testing"

func TestResolveRole_Complementary(t *testing.T) {
	pairs := [][2]string{
		{"a1", "b2"},
		{"b2", "a1"},
		{"alpha", "beta"},
		{"0", "z"},
		{"aa", "ab"},
		{"72c1f0", "0d9e44"},
	}
	for _, pair := range pairs {
		self, peer := pair[0], pair[1]
		mine := ResolveRole(self, peer)
		theirs := ResolveRole(peer, self)
		if mine == theirs {
			t.Fatalf("ResolveRole(%q,%q)=%s and ResolveRole(%q,%q)=%s: roles must be complementary",
				self, peer, mine, peer, self, theirs)
		}
	}
}

func TestResolveRole_Stable(t *testing.T) {
	for i := 0; i < 100; i++ {
		if got := ResolveRole("a1", "b2"); got != RoleLeader {
			t.Fatalf("ResolveRole(a1,b2)=%s on call %d, want leader", got, i)
		}
		if got := ResolveRole("b2", "a1"); got != RoleFollower {
			t.Fatalf("ResolveRole(b2,a1)=%s on call %d, want follower", got, i)
		}
	}
}

func TestResolveRole_GreaterIdentifierFollows(t *testing.T) {
	if got := ResolveRole("zz", "aa"); got != RoleFollower {
		t.Fatalf("greater self must follow, got %s", got)
	}
	if got := ResolveRole("aa", "zz"); got != RoleLeader {
		t.Fatalf("lesser self must lead, got %s", got)
	}
}
