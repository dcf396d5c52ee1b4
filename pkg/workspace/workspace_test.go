package workspace

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"

	perrors "github.com/parcelfind/parcelfind/pkg/errors"
	"github.com/parcelfind/parcelfind/pkg/feature"
)

func parcels(name string) *feature.Collection {
	return &feature.Collection{
		Name: name,
		SRID: 2927,
		Schema: feature.Schema{Fields: []feature.Field{
			{Name: "TaxParcelNumber", Type: feature.FieldString},
			{Name: "Acres", Type: feature.FieldDouble},
			{Name: "Units", Type: feature.FieldInteger},
			{Name: "Exempt", Type: feature.FieldBoolean},
			{Name: "Recorded", Type: feature.FieldDate},
		}},
		Records: []feature.Record{
			{
				ID:       1,
				Geometry: orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}},
				Attributes: map[string]any{
					"TaxParcelNumber": "0120011001",
					"Acres":           1.25,
					"Units":           int64(3),
					"Exempt":          false,
					"Recorded":        time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC),
				},
			},
			{
				ID:       2,
				Geometry: orb.Point{10, 20},
				Attributes: map[string]any{
					"TaxParcelNumber": "0120011002",
				},
			},
		},
	}
}

func openTemp(t *testing.T) *Workspace {
	t.Helper()
	ws, err := Open(filepath.Join(t.TempDir(), "default.duckdb"), Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestWorkspace_CreateLoad(t *testing.T) {
	ctx := context.Background()
	ws := openTemp(t)

	if err := ws.Create(ctx, parcels("Parcels"), "tester"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := ws.Load(ctx, "Parcels")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.SRID != 2927 {
		t.Errorf("SRID = %d, want 2927", got.SRID)
	}
	if got.Len() != 2 {
		t.Fatalf("Len = %d, want 2", got.Len())
	}
	if names := got.Schema.Names(); len(names) != 5 || names[0] != "TaxParcelNumber" {
		t.Errorf("schema = %v", names)
	}

	first := got.Records[0]
	if first.ID != 1 || first.Attributes["Units"] != int64(3) || first.Attributes["Acres"] != 1.25 {
		t.Errorf("first record = %+v", first.Attributes)
	}
	if ts, ok := first.Attributes["Recorded"].(time.Time); !ok || !ts.Equal(time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Recorded = %#v", first.Attributes["Recorded"])
	}
	if !orb.Equal(first.Geometry, parcels("x").Records[0].Geometry) {
		t.Error("polygon did not survive the WKB round trip")
	}
	if got.Records[1].Attributes["Acres"] != nil {
		t.Errorf("missing attribute should load as nil, got %#v", got.Records[1].Attributes["Acres"])
	}
}

func TestWorkspace_CreateNameCollision(t *testing.T) {
	ctx := context.Background()
	ws := openTemp(t)

	if err := ws.Create(ctx, parcels("Parcels_KC_100824_1405"), "tester"); err != nil {
		t.Fatal(err)
	}

	err := ws.Create(ctx, parcels("Parcels_KC_100824_1405"), "tester")
	if !perrors.IsCode(err, perrors.CodeNameCollision) {
		t.Fatalf("err = %v, want NameCollision", err)
	}

	// identifiers are case-insensitive in the store
	err = ws.Create(ctx, parcels("parcels_kc_100824_1405"), "tester")
	if !perrors.IsCode(err, perrors.CodeNameCollision) {
		t.Fatalf("case variant err = %v, want NameCollision", err)
	}

	// the original is untouched
	got, err := ws.Load(ctx, "Parcels_KC_100824_1405")
	if err != nil || got.Len() != 2 {
		t.Errorf("original damaged: %v", err)
	}
}

func TestWorkspace_ReadOnlyWriteDenied(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.duckdb")

	ws, err := Open(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.Create(ctx, parcels("Parcels"), "tester"); err != nil {
		t.Fatal(err)
	}
	ws.Close()

	ro, err := Open(path, Options{ReadOnly: true})
	if err != nil {
		t.Fatalf("read-only Open failed: %v", err)
	}
	defer ro.Close()

	if !ro.ReadOnly() {
		t.Error("expected ReadOnly")
	}
	if _, err := ro.Load(ctx, "Parcels"); err != nil {
		t.Errorf("read-only Load failed: %v", err)
	}
	err = ro.Create(ctx, parcels("Parcels_Out"), "tester")
	if !perrors.IsCode(err, perrors.CodeWriteDenied) {
		t.Errorf("err = %v, want WriteDenied", err)
	}
}

func TestWorkspace_LoadMissing(t *testing.T) {
	ws := openTemp(t)
	_, err := ws.Load(context.Background(), "Parcels")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestWorkspace_ListAndDiscard(t *testing.T) {
	ctx := context.Background()
	ws := openTemp(t)

	for _, name := range []string{"Parcels", "Parcels_NF_010125_0800"} {
		if err := ws.Create(ctx, parcels(name), "nferri"); err != nil {
			t.Fatal(err)
		}
	}

	infos, err := ws.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("List = %d entries, want 2", len(infos))
	}
	if infos[0].Name != "Parcels" || infos[0].Count != 2 || infos[0].CreatedBy != "nferri" {
		t.Errorf("infos[0] = %+v", infos[0])
	}

	if err := ws.Discard(ctx, "Parcels_NF_010125_0800"); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	exists, err := ws.Exists(ctx, "Parcels_NF_010125_0800")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("discarded collection still exists")
	}
	if ok, _ := ws.Exists(ctx, "Parcels"); !ok {
		t.Error("unrelated collection was removed")
	}
}

func TestWorkspace_ReservedFieldName(t *testing.T) {
	ws := openTemp(t)
	c := parcels("Bad")
	c.Schema.Fields = append(c.Schema.Fields, feature.Field{Name: FIDColumn, Type: feature.FieldInteger})
	if err := ws.Create(context.Background(), c, ""); err == nil {
		t.Error("expected error for reserved field name")
	}
}
