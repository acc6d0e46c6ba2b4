package scope

import "testing"

func TestResolve_ParticipantIsAuthoritative(t *testing.T) {
	cfg := Config{TenantUID: "X", ScopeLevel1: []string{"A"}, ScopeLevel2: []string{"viewer"}}
	rows := []AccessRow{{TenantUID: "X", ScopeLevel1: []string{"A"}, ScopeLevel2: []string{"mgr"}}}

	rel, canJoin := Resolve(cfg, rows, true)
	if rel != RelationParticipant {
		t.Fatalf("expected participant, got %v", rel)
	}
	if canJoin {
		t.Fatalf("a participant should not additionally be can_join")
	}
}

func TestResolve_ScopeMatch(t *testing.T) {
	cfg := Config{TenantUID: "X", ScopeLevel1: []string{"A"}, ScopeLevel2: []string{"mgr", "viewer"}}
	rows := []AccessRow{{TenantUID: "X", ScopeLevel1: []string{"A", "B"}, ScopeLevel2: []string{"mgr", "admin"}}}

	rel, canJoin := Resolve(cfg, rows, false)
	if rel != RelationPotential || !canJoin {
		t.Fatalf("expected potential+can_join, got %v/%v", rel, canJoin)
	}
}

func TestResolve_NoLevelIntersection(t *testing.T) {
	cfg := Config{TenantUID: "X", ScopeLevel1: []string{"A"}, ScopeLevel2: []string{"viewer"}}
	rows := []AccessRow{{TenantUID: "X", ScopeLevel1: []string{"A", "B"}, ScopeLevel2: []string{"mgr", "admin"}}}

	rel, canJoin := Resolve(cfg, rows, false)
	if rel != RelationNone || canJoin {
		t.Fatalf("expected none, got %v/%v", rel, canJoin)
	}
}

func TestResolve_EmptyLevelNeverMatches(t *testing.T) {
	cfg := Config{TenantUID: "X", ScopeLevel1: nil, ScopeLevel2: []string{"mgr"}}
	rows := []AccessRow{{TenantUID: "X", ScopeLevel1: []string{"A"}, ScopeLevel2: []string{"mgr"}}}

	rel, _ := Resolve(cfg, rows, false)
	if rel != RelationNone {
		t.Fatalf("empty scope level on user side must not match, got %v", rel)
	}
}

func TestResolve_TenantMismatch(t *testing.T) {
	cfg := Config{TenantUID: "Y", ScopeLevel1: []string{"A"}, ScopeLevel2: []string{"mgr"}}
	rows := []AccessRow{{TenantUID: "X", ScopeLevel1: []string{"A"}, ScopeLevel2: []string{"mgr"}}}

	rel, _ := Resolve(cfg, rows, false)
	if rel != RelationNone {
		t.Fatalf("tenant mismatch must not match, got %v", rel)
	}
}

func TestResolve_NoAccessRows(t *testing.T) {
	cfg := Config{TenantUID: "X", ScopeLevel1: []string{"A"}, ScopeLevel2: []string{"mgr"}}
	rel, canJoin := Resolve(cfg, nil, false)
	if rel != RelationNone || canJoin {
		t.Fatalf("no rows means no potential participants, got %v/%v", rel, canJoin)
	}
}

func TestResolve_MissingTenantDeterministicallyNonMatching(t *testing.T) {
	cfg := Config{ScopeLevel1: []string{"A"}, ScopeLevel2: []string{"mgr"}}
	rows := []AccessRow{{TenantUID: "X", ScopeLevel1: []string{"A"}, ScopeLevel2: []string{"mgr"}}}

	rel, _ := Resolve(cfg, rows, false)
	if rel != RelationNone {
		t.Fatalf("missing tenant_uid must be non-matching, got %v", rel)
	}
}
