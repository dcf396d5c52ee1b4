// Package export persists a selection twice: as a structured collection in a
// workspace and as a GeoJSON interchange file. Both writers are append-only.
package export

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	perrors "github.com/parcelfind/parcelfind/pkg/errors"
	"github.com/parcelfind/parcelfind/pkg/feature"
	"github.com/parcelfind/parcelfind/pkg/interfaces"
	"github.com/parcelfind/parcelfind/pkg/overlay"
	"github.com/parcelfind/parcelfind/pkg/workspace"
)

const (
	// InterchangeExt is the file extension of the interchange output.
	InterchangeExt = "geojson"

	// InterchangeContentType is the media type of the interchange output.
	InterchangeContentType = "application/geo+json"
)

// StructuredRef locates a structured output collection.
type StructuredRef struct {
	Name      string
	Workspace string
	Location  string
	Count     int
	SRID      int
}

// InterchangeRef locates an interchange output file.
type InterchangeRef struct {
	Name     string
	Location string
	Scheme   string
	Count    int
	Bytes    int
}

// WriteStructured copies exactly the selected records into a new collection
// named name in dst. The target schema and spatial reference are kept;
// joined tabular columns are not.
func WriteStructured(ctx context.Context, dst *workspace.Workspace, sel *overlay.Selection, name, createdBy string) (StructuredRef, error) {
	if dst == nil {
		return StructuredRef{}, perrors.InvalidInput("no structured output workspace")
	}
	if sel == nil {
		return StructuredRef{}, perrors.InvalidInput("nothing selected to export")
	}

	c := sel.Collection(name)
	if err := dst.Create(ctx, c, createdBy); err != nil {
		return StructuredRef{}, perrors.Ensure(err, "write structured output")
	}

	return StructuredRef{
		Name:      name,
		Workspace: dst.Path(),
		Location:  dst.Location(name),
		Count:     c.Len(),
		SRID:      c.SRID,
	}, nil
}

// WriteInterchange re-reads the structured output at ref from src and
// stores it as GeoJSON under name. An existing name fails with
// NameCollision and leaves the existing object untouched.
func WriteInterchange(ctx context.Context, src *workspace.Workspace, ref StructuredRef, store interfaces.ObjectStorage, name string) (InterchangeRef, error) {
	if src == nil || store == nil {
		return InterchangeRef{}, perrors.InvalidInput("interchange export requires a source workspace and a destination")
	}

	exists, err := store.Exists(ctx, name)
	if err != nil {
		return InterchangeRef{}, perrors.Ensure(err, "check interchange destination")
	}
	if exists {
		return InterchangeRef{}, perrors.NameCollision(name, store.Location(""))
	}

	c, err := src.Load(ctx, ref.Name)
	if err != nil {
		return InterchangeRef{}, perrors.Unexpected(err, "read structured output")
	}
	if c.Len() != ref.Count {
		return InterchangeRef{}, perrors.Unexpected(
			fmt.Errorf("structured output %q has %d records, wrote %d", ref.Name, c.Len(), ref.Count),
			"read structured output")
	}

	data, err := Encode(c)
	if err != nil {
		return InterchangeRef{}, err
	}

	opts := interfaces.PutOptions{
		ContentType: InterchangeContentType,
		Metadata: map[string]string{
			"source": ref.Location,
			"srid":   strconv.Itoa(c.SRID),
		},
		IfNotExists: true,
	}
	if err := store.Put(ctx, name, bytes.NewReader(data), opts); err != nil {
		return InterchangeRef{}, perrors.Ensure(err, "write interchange output")
	}

	return InterchangeRef{
		Name:     name,
		Location: store.Location(name),
		Scheme:   store.Scheme(),
		Count:    c.Len(),
		Bytes:    len(data),
	}, nil
}

// Encode renders a collection as a GeoJSON FeatureCollection.
func Encode(c *feature.Collection) ([]byte, error) {
	data, err := feature.MarshalGeoJSON(c)
	if err != nil {
		return nil, perrors.Unexpected(err, "encode interchange output")
	}
	return data, nil
}
