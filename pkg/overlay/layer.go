// Package overlay holds the per-run view over a target collection: at most one
// active tabular join and at most one active selection. Neither the collection
// schema nor its records are modified by anything in this package.
package overlay

import (
	"github.com/parcelfind/parcelfind/pkg/feature"
)

// Layer is a handle over a target collection carrying the active join and
// selection as explicit state. A Layer is owned by a single run and is not
// safe for concurrent use.
type Layer struct {
	collection *feature.Collection
	join       *JoinedView
	selection  *Selection
}

// NewLayer wraps a collection.
func NewLayer(c *feature.Collection) *Layer {
	return &Layer{collection: c}
}

// Collection returns the underlying target collection.
func (l *Layer) Collection() *feature.Collection {
	return l.collection
}

// Name returns the target collection name.
func (l *Layer) Name() string {
	if l.collection == nil {
		return ""
	}
	return l.collection.Name
}

// ActiveJoin returns the current join, or nil.
func (l *Layer) ActiveJoin() *JoinedView {
	return l.join
}

// ActiveSelection returns the current selection, or nil.
func (l *Layer) ActiveSelection() *Selection {
	return l.selection
}

// RemoveJoin drops the active join. It is a no-op without one.
func (l *Layer) RemoveJoin() {
	l.join = nil
}

// ClearSelection drops the active selection. It is a no-op without one.
func (l *Layer) ClearSelection() {
	l.selection = nil
}

// Clean reports whether the layer carries neither a join nor a selection.
func (l *Layer) Clean() bool {
	return l.join == nil && l.selection == nil
}
