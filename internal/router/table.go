package router

import "sort"

// Table is an immutable, pre-sorted routing table.
//
// It is built once per rule-list change and published as a whole; requests in
// flight keep the snapshot they looked up against. Sorting happens here, not
// per request: lower priority first, then higher specificity, insertion order
// breaking remaining ties.
type Table struct {
	rules []Rule
}

// NewTable normalizes and sorts rules into a lookup table.
func NewTable(rules []Rule) *Table {
	sorted := make([]Rule, 0, len(rules))
	for _, r := range rules {
		sorted = append(sorted, r.Normalized())
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].Specificity() > sorted[j].Specificity()
	})
	return &Table{rules: sorted}
}

// Lookup returns the first rule matching path.
func (t *Table) Lookup(path string) (Rule, bool) {
	if t == nil {
		return Rule{}, false
	}
	for i := range t.rules {
		if t.rules[i].Matches(path) {
			return t.rules[i], true
		}
	}
	return Rule{}, false
}

// Rules returns the sorted rules. The slice is shared; callers must not modify it.
func (t *Table) Rules() []Rule {
	if t == nil {
		return nil
	}
	return t.rules
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rules)
}
