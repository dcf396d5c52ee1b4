package overlay

import (
	"strings"
)

// QualifiedField names an attribute by its source: the target collection
// or the joined tabular input.
type QualifiedField struct {
	Source string
	Name   string
}

func (f QualifiedField) String() string {
	return f.Source + "." + f.Name
}

// Predicate is a typed selection condition evaluated per record of a view.
type Predicate interface {
	Match(v *JoinedView, i int) bool
	// Fields lists every field the predicate reads, for validation.
	Fields() []QualifiedField
	String() string
}

// NotNull holds when the field has a non-null value. On a joined field it holds
// when any matching row has one.
type NotNull struct {
	Field QualifiedField
}

func (p NotNull) Match(v *JoinedView, i int) bool {
	if p.Field.Source == v.Source() {
		for _, row := range v.Matches(i) {
			if _, ok := CanonicalKey(row[p.Field.Name]); ok {
				return true
			}
		}
		return false
	}
	_, ok := CanonicalKey(v.Value(i, p.Field))
	return ok
}

func (p NotNull) Fields() []QualifiedField { return []QualifiedField{p.Field} }

func (p NotNull) String() string { return p.Field.String() + " IS NOT NULL" }

// JoinedKeyNotNull selects exactly the records that found a match: the join
// key qualified by the tabular source is non-null.
func JoinedKeyNotNull(v *JoinedView) Predicate {
	return NotNull{Field: QualifiedField{Source: v.Source(), Name: v.Key()}}
}

// Not negates a predicate.
type Not struct {
	P Predicate
}

func (p Not) Match(v *JoinedView, i int) bool { return !p.P.Match(v, i) }

func (p Not) Fields() []QualifiedField { return p.P.Fields() }

func (p Not) String() string { return "NOT (" + p.P.String() + ")" }

// And holds when every operand holds. An empty And holds for every record.
type And []Predicate

func (p And) Match(v *JoinedView, i int) bool {
	for _, q := range p {
		if !q.Match(v, i) {
			return false
		}
	}
	return true
}

func (p And) Fields() []QualifiedField {
	var fields []QualifiedField
	for _, q := range p {
		fields = append(fields, q.Fields()...)
	}
	return fields
}

func (p And) String() string {
	parts := make([]string, len(p))
	for i, q := range p {
		parts[i] = "(" + q.String() + ")"
	}
	return strings.Join(parts, " AND ")
}
