package relmodel

import (
	"fmt"
	"sort"
)

// DeletePolicy describes what happens to child rows when their parent row is deleted
type DeletePolicy string

const (
	PolicyCascade  DeletePolicy = "cascade"
	PolicySetNull  DeletePolicy = "set_null"
	PolicyRestrict DeletePolicy = "restrict"
)

// Valid reports whether the policy is one of the three known values
func (p DeletePolicy) Valid() bool {
	switch p {
	case PolicyCascade, PolicySetNull, PolicyRestrict:
		return true
	}
	return false
}

// SQLAction returns the ON DELETE clause fragment for the policy
func (p DeletePolicy) SQLAction() string {
	switch p {
	case PolicyCascade:
		return "CASCADE"
	case PolicySetNull:
		return "SET NULL"
	case PolicyRestrict:
		return "RESTRICT"
	}
	return ""
}

// UniqueSpec describes a uniqueness constraint implied by a relationship
// (e.g. at most one membership per organization/principal pair)
type UniqueSpec struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// Relationship describes one owning relationship between a child table and a
// parent table, including the constraint the migration pipeline installs for it
type Relationship struct {
	// Name is the stable identifier used in reports and constraint names
	Name string `json:"name"`

	ChildTable   string `json:"child_table"`
	ChildColumn  string `json:"child_column"`
	ParentTable  string `json:"parent_table"`
	ParentColumn string `json:"parent_column"`

	Policy DeletePolicy `json:"policy"`

	// Unique, when set, is a uniqueness constraint installed alongside the
	// foreign key in stage 3 of the pipeline
	Unique *UniqueSpec `json:"unique,omitempty"`

	// AdminImmutable marks restrict-guarded rows that even a system admin may
	// not write or delete; such records remain admin-read-only to preserve an
	// untamperable trail
	AdminImmutable bool `json:"admin_immutable,omitempty"`

	// LegacyColumn and CorrelateBy describe a heterogeneous legacy key that
	// stage 2 of the pipeline resolves into ChildColumn by correlating on the
	// parent table's CorrelateBy column
	LegacyColumn string `json:"legacy_column,omitempty"`
	CorrelateBy  string `json:"correlate_by,omitempty"`

	// DependsOn names relationships whose parent-side constraints must be
	// installed before this one
	DependsOn []string `json:"depends_on,omitempty"`
}

// ConstraintName returns the foreign-key constraint name installed for the
// relationship. All pipeline-managed constraints share the "gh_fk_" prefix so
// stage 5 can distinguish them from pre-existing constraints.
func (r Relationship) ConstraintName() string {
	return "gh_fk_" + r.Name
}

// NeedsReconcile reports whether stage 2 applies to this relationship
func (r Relationship) NeedsReconcile() bool {
	return r.LegacyColumn != ""
}

// Model is the immutable set of relationships for one schema revision
type Model struct {
	version       string
	relationships []Relationship
	byPair        map[string]int
	byName        map[string]int
}

// New builds a Model from a relationship list, validating totality invariants:
// no duplicate names, no duplicate (child, parent) pairs, known policies, and
// resolvable DependsOn references.
func New(version string, rels []Relationship) (*Model, error) {
	m := &Model{
		version:       version,
		relationships: make([]Relationship, len(rels)),
		byPair:        make(map[string]int, len(rels)),
		byName:        make(map[string]int, len(rels)),
	}
	copy(m.relationships, rels)

	for i, r := range m.relationships {
		if r.Name == "" {
			return nil, fmt.Errorf("relationship %d has no name", i)
		}
		if r.ChildTable == "" || r.ChildColumn == "" || r.ParentTable == "" || r.ParentColumn == "" {
			return nil, fmt.Errorf("relationship %q is missing table or column names", r.Name)
		}
		if !r.Policy.Valid() {
			return nil, fmt.Errorf("relationship %q has unknown delete policy %q", r.Name, r.Policy)
		}
		if _, dup := m.byName[r.Name]; dup {
			return nil, fmt.Errorf("duplicate relationship name %q", r.Name)
		}
		key := pairKey(r.ChildTable, r.ChildColumn, r.ParentTable)
		if _, dup := m.byPair[key]; dup {
			return nil, fmt.Errorf("duplicate relationship for %s.%s -> %s", r.ChildTable, r.ChildColumn, r.ParentTable)
		}
		m.byName[r.Name] = i
		m.byPair[key] = i
	}

	for _, r := range m.relationships {
		for _, dep := range r.DependsOn {
			if _, ok := m.byName[dep]; !ok {
				return nil, fmt.Errorf("relationship %q depends on unknown relationship %q", r.Name, dep)
			}
		}
	}

	// InstallOrder fails on cycles; surface that at construction time
	if _, err := m.InstallOrder(); err != nil {
		return nil, err
	}

	return m, nil
}

// Version returns the model revision identifier
func (m *Model) Version() string {
	return m.version
}

// Relationships returns a copy of the relationship list in declaration order
func (m *Model) Relationships() []Relationship {
	out := make([]Relationship, len(m.relationships))
	copy(out, m.relationships)
	return out
}

// ByName returns the named relationship
func (m *Model) ByName(name string) (Relationship, error) {
	i, ok := m.byName[name]
	if !ok {
		return Relationship{}, fmt.Errorf("unknown relationship %q", name)
	}
	return m.relationships[i], nil
}

// PolicyFor returns the delete policy for a (child, parent) table pair. The
// model is total: an unknown pair is an error, never a silent default.
func (m *Model) PolicyFor(childTable, parentTable string) (DeletePolicy, error) {
	for _, r := range m.relationships {
		if r.ChildTable == childTable && r.ParentTable == parentTable {
			return r.Policy, nil
		}
	}
	return "", fmt.Errorf("no relationship declared for %s -> %s", childTable, parentTable)
}

// ChildrenOf returns every relationship whose parent is the given table, in
// declaration order. Used by the cascade deleter to apply delete policies.
func (m *Model) ChildrenOf(parentTable string) []Relationship {
	var out []Relationship
	for _, r := range m.relationships {
		if r.ParentTable == parentTable {
			out = append(out, r)
		}
	}
	return out
}

// AdminImmutableTables returns the set of child tables whose restrict-guarded
// rows are never admin-writable
func (m *Model) AdminImmutableTables() map[string]bool {
	out := make(map[string]bool)
	for _, r := range m.relationships {
		if r.AdminImmutable {
			out[r.ChildTable] = true
		}
	}
	return out
}

// InstallOrder returns the relationships in dependency order: a relationship
// appears only after every relationship it depends on. Order is deterministic
// (name order among peers) so repeated pipeline runs install identically.
func (m *Model) InstallOrder() ([]Relationship, error) {
	indegree := make(map[string]int, len(m.relationships))
	dependents := make(map[string][]string, len(m.relationships))
	for _, r := range m.relationships {
		indegree[r.Name] += 0
		for _, dep := range r.DependsOn {
			indegree[r.Name]++
			dependents[dep] = append(dependents[dep], r.Name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	ordered := make([]Relationship, 0, len(m.relationships))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, m.relationships[m.byName[name]])
		for _, next := range dependents[name] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = insertSorted(ready, next)
			}
		}
	}

	if len(ordered) != len(m.relationships) {
		var stuck []string
		for name, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("dependency cycle among relationships: %v", stuck)
	}
	return ordered, nil
}

func insertSorted(list []string, v string) []string {
	i := sort.SearchStrings(list, v)
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}

func pairKey(childTable, childColumn, parentTable string) string {
	return childTable + "." + childColumn + "->" + parentTable
}
