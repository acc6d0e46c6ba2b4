// Package scope implements the scope-match resolver: the pure
// predicate deciding whether a host-supplied user scope matches a
// dialog's declared access rules.
package scope

// Config is the host-supplied identity slice for one request, decoded
// from the X-Scope-Config header.
type Config struct {
	TenantUID   string   `json:"tenant_uid"`
	ScopeLevel1 []string `json:"scope_level1"`
	ScopeLevel2 []string `json:"scope_level2"`
}

// AccessRow is one of a dialog's declared potential-participant rules.
type AccessRow struct {
	TenantUID   string
	ScopeLevel1 []string
	ScopeLevel2 []string
}

// Relation is a user's standing with respect to a dialog.
type Relation string

const (
	RelationParticipant Relation = "participant"
	RelationPotential   Relation = "potential"
	RelationNone        Relation = "none"
)

// Resolve computes the relation between a user's scope config and a
// dialog, given whether the user already holds a participant row.
// Participants never lose access via scope changes, so a participant
// row is checked first and is authoritative.
func Resolve(cfg Config, rows []AccessRow, isParticipant bool) (Relation, bool) {
	if isParticipant {
		return RelationParticipant, false
	}
	for _, row := range rows {
		if matches(cfg, row) {
			return RelationPotential, true
		}
	}
	return RelationNone, false
}

// matches implements spec's predicate: tenant equality AND a non-empty
// intersection on both scope levels. An empty list on either side
// means that level cannot intersect, so the whole predicate is false
// (conjunctive: every level must find an intersection).
func matches(cfg Config, row AccessRow) bool {
	if cfg.TenantUID == "" || row.TenantUID == "" || cfg.TenantUID != row.TenantUID {
		return false
	}
	if !intersects(cfg.ScopeLevel1, row.ScopeLevel1) {
		return false
	}
	if !intersects(cfg.ScopeLevel2, row.ScopeLevel2) {
		return false
	}
	return true
}

// intersects reports whether a and b share at least one element.
// Empty on either side is treated as non-intersecting.
func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}
