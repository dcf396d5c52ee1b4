package overlay

import (
	"fmt"

	perrors "github.com/parcelfind/parcelfind/pkg/errors"
	"github.com/parcelfind/parcelfind/pkg/feature"
)

// Selection is the subset of target records satisfying a predicate,
// as ascending record indices. Each record appears once however many
// tabular rows it matched.
type Selection struct {
	view      *JoinedView
	predicate Predicate
	indices   []int
}

// Select evaluates pred over the view and makes the result the layer's
// active selection, replacing any previous one. An empty result is valid.
func Select(v *JoinedView, pred Predicate) (*Selection, error) {
	if v == nil || pred == nil {
		return nil, perrors.InvalidInput("select requires a joined view and a predicate")
	}
	if v.layer.join != v {
		return nil, perrors.Unexpected(fmt.Errorf("view on %q is no longer the active join", v.Source()), "select")
	}
	for _, f := range pred.Fields() {
		if !v.hasField(f) {
			return nil, perrors.InvalidInput(fmt.Sprintf("predicate references unknown field %s", f))
		}
	}

	s := &Selection{view: v, predicate: pred}
	for i := 0; i < v.Len(); i++ {
		if pred.Match(v, i) {
			s.indices = append(s.indices, i)
		}
	}

	v.layer.selection = s
	return s, nil
}

// Len is the number of selected records.
func (s *Selection) Len() int {
	return len(s.indices)
}

// Predicate returns the condition the selection was computed from.
func (s *Selection) Predicate() Predicate {
	return s.predicate
}

// Indices returns a copy of the selected record indices.
func (s *Selection) Indices() []int {
	out := make([]int, len(s.indices))
	copy(out, s.indices)
	return out
}

// Records copies the selected records with target attributes only.
func (s *Selection) Records() []feature.Record {
	src := s.view.layer.collection.Records
	out := make([]feature.Record, len(s.indices))
	for j, i := range s.indices {
		out[j] = src[i].Clone()
	}
	return out
}

// Collection materializes the selection as a new collection with the target
// schema and spatial reference. Joined columns are not carried.
func (s *Selection) Collection(name string) *feature.Collection {
	target := s.view.layer.collection
	fields := make([]feature.Field, len(target.Schema.Fields))
	copy(fields, target.Schema.Fields)
	return &feature.Collection{
		Name:    name,
		SRID:    target.SRID,
		Schema:  feature.Schema{Fields: fields},
		Records: s.Records(),
	}
}
