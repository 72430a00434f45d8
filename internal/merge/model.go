package merge

import (
	"sort"
	"strings"
	"time"
)

// Member is one row of the administrator-declared equivalence relation. All
// rows sharing a group id belong to one merge group.
type Member struct {
	GroupID     string    `gorm:"column:group_id;primaryKey;size:190;not null"`
	BatchName   string    `gorm:"column:batch_name;primaryKey;size:190;not null"`
	SubjectName string    `gorm:"column:subject_name;primaryKey;size:190;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing merge memberships.
func (Member) TableName() string {
	return "merge_members"
}

// Pair identifies one (batch, subject) content scope.
type Pair struct {
	BatchName   string `json:"batch"`
	SubjectName string `json:"subject"`
}

// Key is the deterministic sort key used for canonical selection.
func (p Pair) Key() string {
	return p.BatchName + "|" + p.SubjectName
}

// Group is a resolved equivalence class. Members always include the queried
// pair, so a pair with no recorded merges resolves to a singleton group.
type Group struct {
	Members   []Pair `json:"members"`
	Canonical Pair   `json:"canonical"`
}

// newGroup dedupes, sorts, and selects the canonical member. Sorting by key
// makes the canonical pair identical no matter which member initiated the
// query, so both sides of a merge converge on one identity.
func newGroup(pairs []Pair) Group {
	seen := make(map[Pair]struct{}, len(pairs))
	members := make([]Pair, 0, len(pairs))
	for _, pair := range pairs {
		if _, ok := seen[pair]; ok {
			continue
		}
		seen[pair] = struct{}{}
		members = append(members, pair)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].Key() < members[j].Key()
	})
	return Group{Members: members, Canonical: members[0]}
}

// ORFilter builds the query-scoping expression matching any member of the
// group. Values are quoted to tolerate embedded whitespace.
func (g Group) ORFilter() string {
	clauses := make([]string, 0, len(g.Members))
	for _, member := range g.Members {
		clauses = append(clauses,
			"(batch_name = "+quote(member.BatchName)+" AND subject_name = "+quote(member.SubjectName)+")")
	}
	return strings.Join(clauses, " OR ")
}

func quote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
