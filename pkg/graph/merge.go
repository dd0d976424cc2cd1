package graph

import (
	"fmt"
	"sort"
	"strings"
)

// DescriptionPolicy selects how descriptions of merged mentions combine.
type DescriptionPolicy string

const (
	// DescriptionLongest keeps the single longest description.
	DescriptionLongest DescriptionPolicy = "longest"
	// DescriptionConcat joins all distinct descriptions, sorted, newline
	// separated.
	DescriptionConcat DescriptionPolicy = "concat"
)

// MergeEntities collapses raw entity mentions by (title, type), summing
// frequencies and unioning text unit references. Output is sorted by title
// then type so repeated runs produce identical artifacts.
func MergeEntities(targetID string, mentions []Entity, policy DescriptionPolicy) []Entity {
	type key struct{ title, typ string }
	grouped := make(map[key]*Entity)

	for _, m := range mentions {
		k := key{title: m.Title, typ: m.Type}
		cur, ok := grouped[k]
		if !ok {
			cur = &Entity{Title: m.Title, Type: m.Type}
			grouped[k] = cur
		}
		cur.Frequency += max(m.Frequency, 1)
		cur.TextUnitIDs = unionSorted(cur.TextUnitIDs, m.TextUnitIDs)
		cur.Description = mergeDescriptions(cur.Description, m.Description, policy)
	}

	out := make([]Entity, 0, len(grouped))
	for _, e := range grouped {
		e.ID = EntityID(targetID, e.Title, e.Type)
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// MergeRelationships collapses raw relationship mentions by (source, target),
// summing weights and unioning text unit references. Edges whose endpoints
// are missing from entities are dropped. Output is sorted by source then
// target.
func MergeRelationships(targetID string, mentions []Relationship, entities []Entity, policy DescriptionPolicy) []Relationship {
	titles := make(map[string]bool, len(entities))
	for _, e := range entities {
		titles[e.Title] = true
	}

	type key struct{ source, target string }
	grouped := make(map[key]*Relationship)

	for _, m := range mentions {
		if !titles[m.Source] || !titles[m.Target] {
			continue
		}
		k := key{source: m.Source, target: m.Target}
		cur, ok := grouped[k]
		if !ok {
			cur = &Relationship{Source: m.Source, Target: m.Target}
			grouped[k] = cur
		}
		cur.Weight += m.Weight
		cur.TextUnitIDs = unionSorted(cur.TextUnitIDs, m.TextUnitIDs)
		cur.Description = mergeDescriptions(cur.Description, m.Description, policy)
	}

	out := make([]Relationship, 0, len(grouped))
	for _, r := range grouped {
		r.ID = RelationshipID(targetID, r.Source, r.Target)
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Target < out[j].Target
	})
	return out
}

func mergeDescriptions(current string, next string, policy DescriptionPolicy) string {
	next = strings.TrimSpace(next)
	if next == "" {
		return current
	}
	if current == "" {
		return next
	}

	switch policy {
	case DescriptionConcat:
		parts := strings.Split(current, "\n")
		for _, p := range parts {
			if p == next {
				return current
			}
		}
		parts = append(parts, next)
		sort.Strings(parts)
		return strings.Join(parts, "\n")
	default:
		if len(next) > len(current) {
			return next
		}
		return current
	}
}

func unionSorted(a []string, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, s := range b {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ParseDescriptionPolicy validates a configured policy name.
func ParseDescriptionPolicy(s string) (DescriptionPolicy, error) {
	switch DescriptionPolicy(s) {
	case DescriptionLongest, DescriptionConcat:
		return DescriptionPolicy(s), nil
	case "":
		return DescriptionLongest, nil
	default:
		return "", fmt.Errorf("unknown description policy %q", s)
	}
}
