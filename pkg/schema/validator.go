// Package schema verifies, before anything is mutated, that the target
// collection is present and that the join key exists on both sides.
package schema

import (
	"context"
	"errors"
	"fmt"

	perrors "github.com/parcelfind/parcelfind/pkg/errors"
	"github.com/parcelfind/parcelfind/pkg/feature"
	"github.com/parcelfind/parcelfind/pkg/tabular"
	"github.com/parcelfind/parcelfind/pkg/workspace"
)

// Resolver looks up a collection in the working context.
// *workspace.Workspace satisfies it.
type Resolver interface {
	Load(ctx context.Context, name string) (*feature.Collection, error)
}

// Collection resolves the target collection or fails with MissingCollection.
func Collection(ctx context.Context, r Resolver, name string) (*feature.Collection, error) {
	if r == nil {
		return nil, perrors.MissingCollection(name).WithContext("reason", "no working context")
	}
	c, err := r.Load(ctx, name)
	if errors.Is(err, workspace.ErrNotFound) {
		return nil, perrors.MissingCollection(name)
	}
	if err != nil {
		return nil, perrors.Unexpected(err, "resolve target collection")
	}
	if err := c.Validate(); err != nil {
		return nil, perrors.Unexpected(err, "inspect target collection")
	}
	return c, nil
}

// JoinKey checks that key exists, case-sensitively, in both the collection
// schema and the tabular columns. The error names every side it is missing from.
func JoinKey(c *feature.Collection, t *tabular.Table, key string) error {
	if key == "" {
		return perrors.InvalidInput("join key is empty")
	}

	var (
		sides     []string
		available = make(map[string][]string)
	)
	if !c.Schema.Has(key) {
		sides = append(sides, fmt.Sprintf("target collection %q", c.Name))
		available["collection"] = c.Schema.Names()
	}
	if !t.Has(key) {
		sides = append(sides, fmt.Sprintf("tabular input %q", t.Name))
		available["tabular"] = t.Columns
	}
	if len(sides) == 0 {
		return nil
	}
	return perrors.MissingJoinKey(key, sides, available)
}

// Validate runs both checks: the collection first, then the join key.
func Validate(ctx context.Context, r Resolver, name string, t *tabular.Table, key string) (*feature.Collection, error) {
	c, err := Collection(ctx, r, name)
	if err != nil {
		return nil, err
	}
	if err := JoinKey(c, t, key); err != nil {
		return nil, err
	}
	return c, nil
}
