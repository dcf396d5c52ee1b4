// Package pipeline drives one parcel-finding run: validate, join, select,
// name, then export the selection twice. Whatever happens, the run ends by
// clearing its selection and removing its join.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	perrors "github.com/parcelfind/parcelfind/pkg/errors"
	"github.com/parcelfind/parcelfind/pkg/export"
	"github.com/parcelfind/parcelfind/pkg/interfaces"
	"github.com/parcelfind/parcelfind/pkg/naming"
	"github.com/parcelfind/parcelfind/pkg/overlay"
	"github.com/parcelfind/parcelfind/pkg/schema"
	"github.com/parcelfind/parcelfind/pkg/tabular"
	"github.com/parcelfind/parcelfind/pkg/workspace"
)

const (
	DefaultCollection = "Parcels"
	DefaultJoinKey    = "TaxParcelNumber"

	tracerName = "github.com/parcelfind/parcelfind/pkg/pipeline"
)

// TableOpener reads the tabular input. tabular.Open is the default.
type TableOpener func(ctx context.Context, path string, opts tabular.Options) (*tabular.Table, error)

// Presenter shows a successful run to the operator. Its errors are logged
// and never change the outcome.
type Presenter interface {
	Present(ctx context.Context, res *Result) error
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(ctx context.Context, res *Result) error

func (f PresenterFunc) Present(ctx context.Context, res *Result) error { return f(ctx, res) }

// Options wires a Controller.
type Options struct {
	// Context holds the target collection.
	Context *workspace.Workspace
	// Output receives the structured output. Defaults to Context.
	Output *workspace.Workspace
	// Interchange receives the GeoJSON output.
	Interchange interfaces.ObjectStorage

	Namer     naming.Namer
	Clock     func() time.Time
	OpenTable TableOpener

	Logger *slog.Logger
	Tracer trace.Tracer

	// OnStage is called on every stage transition, terminal ones included.
	OnStage   func(Stage)
	Presenter Presenter
}

// Request is one run invocation.
type Request struct {
	TablePath  string
	Collection string
	JoinKey    string
	Operator   string
	Sheet      string
}

// Controller runs requests one at a time.
type Controller struct {
	mu   sync.Mutex
	opts Options
}

// New returns a controller with defaults filled in.
func New(opts Options) *Controller {
	if opts.Output == nil {
		opts.Output = opts.Context
	}
	if opts.Namer.Prefix == "" {
		opts.Namer = naming.New()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.OpenTable == nil {
		opts.OpenTable = tabular.Open
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	return &Controller{opts: opts}
}

// Run executes a request to completion. It never returns nil; inspect
// Result.Err for the failure. Concurrent calls are serialized.
func (c *Controller) Run(ctx context.Context, req Request) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if req.Collection == "" {
		req.Collection = DefaultCollection
	}
	if req.JoinKey == "" {
		req.JoinKey = DefaultJoinKey
	}
	if req.Operator == "" {
		req.Operator = naming.CurrentOperator()
	}

	res := &Result{RunID: uuid.New(), Started: c.opts.Clock()}
	r := &run{
		c:      c,
		req:    req,
		res:    res,
		logger: c.opts.Logger.With("run_id", res.RunID.String()),
	}

	ctx, span := c.opts.Tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", res.RunID.String()),
		attribute.String("run.table", req.TablePath),
		attribute.String("run.collection", req.Collection),
		attribute.String("run.join_key", req.JoinKey),
	))
	defer span.End()

	err := r.execute(ctx)
	if ferr := r.step(ctx, StageFinalizing, r.finalize); ferr != nil && err == nil {
		err = ferr
	}

	if err != nil {
		res.Err = err
		res.Structured = nil
		res.Interchange = nil
		r.transition(StageFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("run failed",
			"stage", res.FailedAt().String(),
			"kind", res.Kind(),
			"error", err)
	} else {
		r.transition(StageSucceeded)
		span.SetAttributes(attribute.Int("run.matched", res.Matched))
		r.logger.Info("run succeeded",
			"matched", res.Matched,
			"structured", res.Structured.Location,
			"interchange", res.Interchange.Location)
	}
	res.Finished = c.opts.Clock()

	if res.Succeeded() && c.opts.Presenter != nil {
		if perr := c.present(ctx, res); perr != nil {
			r.logger.Warn("presentation failed", "error", perr)
		}
	}
	return res
}

func (c *Controller) present(ctx context.Context, res *Result) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("presenter panic: %v", p)
		}
	}()
	return c.opts.Presenter.Present(ctx, res)
}

// run carries the per-run state between stages.
type run struct {
	c      *Controller
	req    Request
	res    *Result
	logger *slog.Logger

	table *tabular.Table
	layer *overlay.Layer
	view  *overlay.JoinedView
	sel   *overlay.Selection
}

func (r *run) execute(ctx context.Context) error {
	stages := []struct {
		stage Stage
		fn    func(context.Context) error
	}{
		{StageInit, r.init},
		{StageValidating, r.validate},
		{StageJoining, r.join},
		{StageSelecting, r.selectMatches},
		{StageNaming, r.name},
		{StageExportingStructured, r.exportStructured},
		{StageExportingInterchange, r.exportInterchange},
	}
	for _, s := range stages {
		if err := r.step(ctx, s.stage, s.fn); err != nil {
			return err
		}
	}
	return nil
}

// step runs fn as stage s inside its own span. Panics become Unexpected
// errors and uncoded errors are wrapped as Unexpected.
func (r *run) step(ctx context.Context, s Stage, fn func(context.Context) error) (err error) {
	r.transition(s)
	ctx, span := r.c.opts.Tracer.Start(ctx, "pipeline."+s.String())
	defer func() {
		if p := recover(); p != nil {
			err = perrors.Unexpected(fmt.Errorf("panic: %v", p), s.String())
		}
		if err != nil {
			err = perrors.Ensure(err, s.String())
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	return fn(ctx)
}

func (r *run) transition(s Stage) {
	r.res.enter(s)
	r.logger.Debug("stage", "stage", s.String())
	if r.c.opts.OnStage != nil {
		r.c.opts.OnStage(s)
	}
}

func (r *run) init(ctx context.Context) error {
	if r.req.TablePath == "" {
		return perrors.InvalidInput("no tabular input given")
	}
	if r.c.opts.Output == nil {
		return perrors.InvalidInput("no structured output workspace configured")
	}
	if r.c.opts.Interchange == nil {
		return perrors.InvalidInput("no interchange destination configured")
	}
	return ctx.Err()
}

// validate resolves the collection before touching the tabular input, so a
// missing collection is reported even when the input is also bad.
func (r *run) validate(ctx context.Context) error {
	coll, err := schema.Collection(ctx, r.c.opts.Context, r.req.Collection)
	if err != nil {
		return err
	}

	table, err := r.c.opts.OpenTable(ctx, r.req.TablePath, tabular.Options{Sheet: r.req.Sheet})
	if err != nil {
		return err
	}

	if err := schema.JoinKey(coll, table, r.req.JoinKey); err != nil {
		return err
	}

	r.table = table
	r.layer = overlay.NewLayer(coll)
	r.res.Layer = r.layer
	r.logger.Info("inputs validated",
		"collection", coll.Name,
		"records", coll.Len(),
		"table", table.Name,
		"rows", table.Len(),
		"key", r.req.JoinKey)
	return nil
}

func (r *run) join(ctx context.Context) error {
	view, err := overlay.Join(r.layer, r.table, r.req.JoinKey)
	if err != nil {
		return err
	}
	r.view = view
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("join.matched_records", view.MatchedRecords()))
	return nil
}

func (r *run) selectMatches(ctx context.Context) error {
	pred := overlay.JoinedKeyNotNull(r.view)
	sel, err := overlay.Select(r.view, pred)
	if err != nil {
		return err
	}
	r.sel = sel
	r.res.Matched = sel.Len()
	r.logger.Info("parcels selected", "predicate", pred.String(), "matched", sel.Len())
	return nil
}

func (r *run) name(ctx context.Context) error {
	r.res.Identity = r.c.opts.Namer.Identity(r.req.Operator, r.c.opts.Clock())
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("run.stem", r.res.Identity.Stem))
	return nil
}

func (r *run) exportStructured(ctx context.Context) error {
	ref, err := export.WriteStructured(ctx, r.c.opts.Output, r.sel, r.res.Identity.StructuredName(), r.req.Operator)
	if err != nil {
		return err
	}
	r.res.Structured = &ref
	return nil
}

// exportInterchange writes the GeoJSON file. On failure the structured
// output from this run is discarded so the two artifacts exist together
// or not at all.
func (r *run) exportInterchange(ctx context.Context) error {
	name := r.res.Identity.InterchangeName(export.InterchangeExt)
	ref, err := export.WriteInterchange(ctx, r.c.opts.Output, *r.res.Structured, r.c.opts.Interchange, name)
	if err == nil {
		r.res.Interchange = &ref
		return nil
	}

	if derr := r.c.opts.Output.Discard(context.WithoutCancel(ctx), r.res.Structured.Name); derr != nil {
		r.res.Secondary = derr
		r.logger.Error("could not discard structured output",
			"structured", r.res.Structured.Location,
			"error", derr)
	} else {
		r.logger.Warn("discarded structured output after interchange failure",
			"structured", r.res.Structured.Location)
	}
	return err
}

// finalize clears the selection and removes the join. It runs on every path.
func (r *run) finalize(ctx context.Context) error {
	if r.layer == nil {
		return nil
	}
	r.layer.ClearSelection()
	r.layer.RemoveJoin()
	if !r.layer.Clean() {
		return errors.New("layer state survived finalization")
	}
	return nil
}
