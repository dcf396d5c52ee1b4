package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/xuri/excelize/v2"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	perrors "github.com/parcelfind/parcelfind/pkg/errors"
	"github.com/parcelfind/parcelfind/pkg/feature"
	"github.com/parcelfind/parcelfind/pkg/storage/object"
	"github.com/parcelfind/parcelfind/pkg/tabular"
	"github.com/parcelfind/parcelfind/pkg/workspace"
)

var runTime = time.Date(2024, 10, 8, 14, 5, 0, 0, time.Local)

const stem = "Parcels_KC_100824_1405"

type env struct {
	dir    string
	ws     *workspace.Workspace
	store  *object.LocalStorage
	stages []Stage
	opened int
}

func newEnv(t *testing.T, records int) *env {
	t.Helper()
	dir := t.TempDir()

	ws, err := workspace.Open(filepath.Join(dir, "default.duckdb"), workspace.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ws.Close() })

	c := &feature.Collection{
		Name: "Parcels",
		SRID: 2927,
		Schema: feature.Schema{Fields: []feature.Field{
			{Name: "TaxParcelNumber", Type: feature.FieldString},
			{Name: "SitusAddress", Type: feature.FieldString},
		}},
	}
	for i := 0; i < records; i++ {
		c.Records = append(c.Records, feature.Record{
			ID:       int64(i + 1),
			Geometry: orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}},
			Attributes: map[string]any{
				"TaxParcelNumber": parcelNumber(i),
				"SitusAddress":    fmt.Sprintf("%d Main St", i),
			},
		})
	}
	if err := ws.Create(context.Background(), c, "loader"); err != nil {
		t.Fatal(err)
	}

	store, err := object.NewLocalStorage(filepath.Join(dir, "geojson"))
	if err != nil {
		t.Fatal(err)
	}
	return &env{dir: dir, ws: ws, store: store}
}

func parcelNumber(i int) string {
	return fmt.Sprintf("01200%05d", i)
}

func (e *env) xlsx(t *testing.T, column string, keys []string) string {
	t.Helper()
	path := filepath.Join(e.dir, "appraisal_list.xlsx")
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetCellValue("Sheet1", "A1", column); err != nil {
		t.Fatal(err)
	}
	for i, k := range keys {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetCellStr("Sheet1", cell, k); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func (e *env) controller(opts Options) *Controller {
	opts.Context = e.ws
	opts.Interchange = e.store
	opts.Clock = func() time.Time { return runTime }
	opts.OnStage = func(s Stage) { e.stages = append(e.stages, s) }
	opener := opts.OpenTable
	if opener == nil {
		opener = tabular.Open
	}
	opts.OpenTable = func(ctx context.Context, path string, o tabular.Options) (*tabular.Table, error) {
		e.opened++
		return opener(ctx, path, o)
	}
	return New(opts)
}

func (e *env) assertNoOutputs(t *testing.T) {
	t.Helper()
	infos, err := e.ws.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 {
		t.Errorf("workspace has %d collections, want only the target", len(infos))
	}
	entries, _ := os.ReadDir(e.store.Root())
	if len(entries) != 0 {
		t.Errorf("interchange directory has %d entries, want 0", len(entries))
	}
}

func assertClean(t *testing.T, res *Result) {
	t.Helper()
	if res.Layer != nil && !res.Layer.Clean() {
		t.Error("layer still has an active join or selection")
	}
	if len(res.History) < 2 || res.History[len(res.History)-2] != StageFinalizing {
		t.Errorf("history %v does not finalize", res.History)
	}
}

func keys(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = parcelNumber(i)
	}
	return out
}

func TestRun_Success(t *testing.T) {
	e := newEnv(t, 100)
	table := e.xlsx(t, "TaxParcelNumber", keys(95))

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	var presented int
	c := e.controller(Options{
		Tracer:    tp.Tracer("test"),
		Presenter: PresenterFunc(func(context.Context, *Result) error { presented++; return nil }),
	})

	res := c.Run(context.Background(), Request{TablePath: table, Operator: `AD\jcho`})
	if !res.Succeeded() {
		t.Fatalf("run failed: %v", res.Err)
	}
	if res.Matched != 95 {
		t.Errorf("Matched = %d, want 95", res.Matched)
	}
	if res.Identity.Stem != stem {
		t.Errorf("Stem = %q, want %q", res.Identity.Stem, stem)
	}
	if res.Kind() != "" {
		t.Errorf("Kind = %q on success", res.Kind())
	}
	assertClean(t, res)

	if len(res.History) != len(Stages()) {
		t.Fatalf("history = %v", res.History)
	}
	for i, s := range Stages() {
		if res.History[i] != s || e.stages[i] != s {
			t.Errorf("stage %d = %v / %v, want %v", i, res.History[i], e.stages[i], s)
		}
	}

	out, err := e.ws.Load(context.Background(), stem)
	if err != nil {
		t.Fatalf("structured output missing: %v", err)
	}
	if out.Len() != 95 {
		t.Errorf("structured output has %d records", out.Len())
	}

	data, err := os.ReadFile(res.Interchange.Location)
	if err != nil {
		t.Fatalf("interchange output missing: %v", err)
	}
	back, err := feature.UnmarshalGeoJSON(data, stem)
	if err != nil {
		t.Fatal(err)
	}
	if back.Len() != out.Len() {
		t.Errorf("interchange has %d records, structured %d", back.Len(), out.Len())
	}
	for i := range back.Records {
		if back.Records[i].Attributes["TaxParcelNumber"] != out.Records[i].Attributes["TaxParcelNumber"] {
			t.Fatalf("record %d differs between outputs", i)
		}
	}
	if filepath.Base(res.Interchange.Location) != stem+".geojson" {
		t.Errorf("interchange name = %q", res.Interchange.Location)
	}

	if presented != 1 {
		t.Errorf("presenter called %d times", presented)
	}

	names := map[string]bool{}
	for _, s := range sr.Ended() {
		names[s.Name()] = true
	}
	for _, want := range []string{"pipeline.run", "pipeline.validating", "pipeline.exporting_interchange", "pipeline.finalizing"} {
		if !names[want] {
			t.Errorf("missing span %q in %v", want, names)
		}
	}
}

func TestRun_MissingJoinKey(t *testing.T) {
	e := newEnv(t, 5)
	table := e.xlsx(t, "ParcelID", keys(5))
	c := e.controller(Options{})

	res := c.Run(context.Background(), Request{TablePath: table, Operator: "cdaniel"})
	if res.Succeeded() {
		t.Fatal("expected failure")
	}
	if res.Kind() != "MissingJoinKey" {
		t.Errorf("Kind = %q, want MissingJoinKey (%v)", res.Kind(), res.Err)
	}
	if res.FailedAt() != StageValidating {
		t.Errorf("FailedAt = %v", res.FailedAt())
	}
	for _, s := range res.History {
		if s == StageJoining || s == StageSelecting || s == StageExportingStructured {
			t.Errorf("stage %v ran after a validation failure", s)
		}
	}
	if e.stages[len(e.stages)-1] != StageFailed {
		t.Errorf("last stage = %v", e.stages[len(e.stages)-1])
	}
	assertClean(t, res)
	e.assertNoOutputs(t)
}

func TestRun_MissingCollection(t *testing.T) {
	e := newEnv(t, 5)
	c := e.controller(Options{})

	res := c.Run(context.Background(), Request{
		TablePath:  filepath.Join(e.dir, "does-not-exist.xlsx"),
		Collection: "Lots",
		Operator:   "cdaniel",
	})
	if !perrors.IsCode(res.Err, perrors.CodeMissingCollection) {
		t.Fatalf("err = %v, want MissingCollection", res.Err)
	}
	if e.opened != 0 {
		t.Errorf("tabular input opened %d times before the collection check", e.opened)
	}
	assertClean(t, res)
	e.assertNoOutputs(t)
}

func TestRun_ZeroMatches(t *testing.T) {
	e := newEnv(t, 10)
	table := e.xlsx(t, "TaxParcelNumber", []string{"9999999999"})
	c := e.controller(Options{})

	res := c.Run(context.Background(), Request{TablePath: table, Operator: `AD\jcho`})
	if !res.Succeeded() {
		t.Fatalf("zero matches should succeed: %v", res.Err)
	}
	if res.Matched != 0 || res.Structured.Count != 0 || res.Interchange.Count != 0 {
		t.Errorf("result = %+v", res)
	}
	assertClean(t, res)
}

func TestRun_StructuredNameCollision(t *testing.T) {
	e := newEnv(t, 10)
	table := e.xlsx(t, "TaxParcelNumber", keys(3))
	c := e.controller(Options{})

	prior := &feature.Collection{
		Name:   stem,
		Schema: feature.Schema{Fields: []feature.Field{{Name: "TaxParcelNumber"}}},
	}
	if err := e.ws.Create(context.Background(), prior, "someone"); err != nil {
		t.Fatal(err)
	}

	res := c.Run(context.Background(), Request{TablePath: table, Operator: "jcho"})
	if res.Kind() != "NameCollision" {
		t.Fatalf("Kind = %q, want NameCollision (%v)", res.Kind(), res.Err)
	}
	if res.FailedAt() != StageExportingStructured {
		t.Errorf("FailedAt = %v", res.FailedAt())
	}
	if res.Structured != nil || res.Interchange != nil {
		t.Error("failed run reports outputs")
	}
	entries, _ := os.ReadDir(e.store.Root())
	if len(entries) != 0 {
		t.Errorf("interchange written despite collision: %v", entries)
	}
	if _, err := e.ws.Load(context.Background(), stem); err != nil {
		t.Errorf("pre-existing output was damaged: %v", err)
	}
	assertClean(t, res)
}

func TestRun_InterchangeCollisionDiscardsStructured(t *testing.T) {
	e := newEnv(t, 10)
	table := e.xlsx(t, "TaxParcelNumber", keys(3))
	c := e.controller(Options{})

	if err := os.WriteFile(e.store.Location(stem+".geojson"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	res := c.Run(context.Background(), Request{TablePath: table, Operator: "jcho"})
	if res.Kind() != "NameCollision" {
		t.Fatalf("Kind = %q, want NameCollision (%v)", res.Kind(), res.Err)
	}
	if res.FailedAt() != StageExportingInterchange {
		t.Errorf("FailedAt = %v", res.FailedAt())
	}
	if res.Secondary != nil {
		t.Errorf("Secondary = %v", res.Secondary)
	}
	ok, err := e.ws.Exists(context.Background(), stem)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("structured output kept without its interchange pair")
	}
	assertClean(t, res)
}

func TestRun_PanicIsRecovered(t *testing.T) {
	e := newEnv(t, 3)
	c := e.controller(Options{
		OpenTable: func(context.Context, string, tabular.Options) (*tabular.Table, error) {
			panic("reader exploded")
		},
	})

	res := c.Run(context.Background(), Request{TablePath: "x.xlsx", Operator: "cdaniel"})
	if res.Kind() != "Unexpected" {
		t.Fatalf("Kind = %q, want Unexpected (%v)", res.Kind(), res.Err)
	}
	assertClean(t, res)
}

func TestRun_UncodedErrorIsUnexpected(t *testing.T) {
	e := newEnv(t, 3)
	c := e.controller(Options{
		OpenTable: func(context.Context, string, tabular.Options) (*tabular.Table, error) {
			return nil, errors.New("disk on fire")
		},
	})

	res := c.Run(context.Background(), Request{TablePath: "x.xlsx", Operator: "cdaniel"})
	if res.Kind() != "Unexpected" {
		t.Errorf("Kind = %q, want Unexpected", res.Kind())
	}
}

func TestRun_InvalidRequest(t *testing.T) {
	e := newEnv(t, 1)
	c := e.controller(Options{})

	res := c.Run(context.Background(), Request{})
	if res.Kind() != "InvalidInput" {
		t.Errorf("Kind = %q, want InvalidInput", res.Kind())
	}
	if res.FailedAt() != StageInit {
		t.Errorf("FailedAt = %v", res.FailedAt())
	}
}

func TestRun_PresenterErrorDoesNotFail(t *testing.T) {
	e := newEnv(t, 5)
	table := e.xlsx(t, "TaxParcelNumber", keys(2))
	c := e.controller(Options{
		Presenter: PresenterFunc(func(context.Context, *Result) error {
			return errors.New("no display")
		}),
	})

	res := c.Run(context.Background(), Request{TablePath: table, Operator: "jcho"})
	if !res.Succeeded() {
		t.Errorf("presenter failure changed the outcome: %v", res.Err)
	}
}

func TestRun_Serialized(t *testing.T) {
	e := newEnv(t, 5)
	table := e.xlsx(t, "TaxParcelNumber", keys(2))

	var (
		active, peak int32
		minute       int64
		mu           sync.Mutex
	)
	c := New(Options{
		Context:     e.ws,
		Interchange: e.store,
		Clock: func() time.Time {
			return runTime.Add(time.Duration(atomic.AddInt64(&minute, 1)) * time.Minute)
		},
		OnStage: func(s Stage) {
			mu.Lock()
			defer mu.Unlock()
			switch {
			case s == StageInit:
				active++
				if active > peak {
					peak = active
				}
			case s.Terminal():
				active--
			}
		},
	})

	var wg sync.WaitGroup
	results := make([]*Result, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Run(context.Background(), Request{TablePath: table, Operator: "cdaniel"})
		}(i)
	}
	wg.Wait()

	if peak != 1 {
		t.Errorf("peak concurrent runs = %d, want 1", peak)
	}
	for i, res := range results {
		if !res.Succeeded() {
			t.Errorf("run %d failed: %v", i, res.Err)
		}
	}
}

func TestStageString(t *testing.T) {
	if StageExportingStructured.String() != "exporting_structured" {
		t.Errorf("String = %q", StageExportingStructured.String())
	}
	if !StageFailed.Terminal() || StageFinalizing.Terminal() {
		t.Error("Terminal is wrong")
	}
}
