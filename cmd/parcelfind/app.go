package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/trace"

	"github.com/parcelfind/parcelfind/pkg/config"
	"github.com/parcelfind/parcelfind/pkg/naming"
	"github.com/parcelfind/parcelfind/pkg/pipeline"
	"github.com/parcelfind/parcelfind/pkg/storage"
	"github.com/parcelfind/parcelfind/pkg/telemetry"
	"github.com/parcelfind/parcelfind/pkg/tui"
	"github.com/parcelfind/parcelfind/pkg/workspace"
)

// app holds what every command shares: configuration, logging and tracing.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	tracer   trace.Tracer
	closeLog func() error
	shutdown telemetry.Shutdown
}

func newApp(ctx context.Context) (*app, error) {
	m := config.NewManager()
	if err := m.Load(configFile); err != nil {
		return nil, err
	}
	cfg := m.Get()
	applyFlags(cfg)

	level := config.ParseLevel(cfg.Logging.Level)
	if verbose {
		level = slog.LevelDebug
	}
	logger, closeLog := config.SetupLogger(cfg.Logging.File, level)

	tcfg := telemetry.DefaultConfig("parcelfind")
	tcfg.ServiceVersion = version
	tcfg.Enabled = cfg.Telemetry.Enabled
	tcfg.Endpoint = cfg.Telemetry.Endpoint
	tcfg.Insecure = cfg.Telemetry.Insecure
	tcfg.SamplingRatio = cfg.Telemetry.SamplingRatio
	tracer, shutdown, err := telemetry.Setup(ctx, tcfg)
	if err != nil {
		closeLog()
		return nil, err
	}

	logger.Debug("configuration loaded", "paths", m.GetPaths(), "workspace", cfg.Context.Workspace)
	return &app{cfg: cfg, logger: logger, tracer: tracer, closeLog: closeLog, shutdown: shutdown}, nil
}

// applyFlags lets explicit flags win over every other configuration layer.
func applyFlags(cfg *config.Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Context.Workspace, workspaceFlag)
	set(&cfg.Context.Collection, collectionFlag)
	set(&cfg.Join.Key, keyFlag)
	set(&cfg.Join.Sheet, sheetFlag)
	set(&cfg.Output.Workspace, outputWorkspaceFlag)
	set(&cfg.Output.InterchangeDir, geojsonDirFlag)
	set(&cfg.Watch.Inbox, inboxFlag)
}

func (a *app) Close() {
	if err := a.shutdown(context.Background()); err != nil {
		a.logger.Warn("telemetry shutdown failed", "error", err)
	}
	a.closeLog()
}

// namer applies the configured prefix and initials overrides.
func (a *app) namer() naming.Namer {
	n := naming.New()
	if a.cfg.Output.Prefix != "" {
		n.Prefix = a.cfg.Output.Prefix
	}
	if len(a.cfg.Output.Overrides) > 0 {
		overrides := make(map[string]string, len(naming.DefaultOverrides)+len(a.cfg.Output.Overrides))
		for k, v := range naming.DefaultOverrides {
			overrides[k] = v
		}
		for k, v := range a.cfg.Output.Overrides {
			overrides[k] = v
		}
		n.Overrides = overrides
	}
	return n
}

func (a *app) operator() string {
	if operatorFlag != "" {
		return operatorFlag
	}
	return naming.CurrentOperator()
}

// workspaces opens the context and output workspaces. When both are the
// same file one handle serves both, since DuckDB locks the file per process.
// A separate context workspace is opened read-only.
func (a *app) workspaces() (src, dst *workspace.Workspace, closeFn func(), err error) {
	srcPath, err := filepath.Abs(a.cfg.Context.Workspace)
	if err != nil {
		return nil, nil, nil, err
	}
	dstPath, err := filepath.Abs(a.cfg.OutputWorkspace())
	if err != nil {
		return nil, nil, nil, err
	}

	if srcPath == dstPath {
		ws, err := workspace.Open(srcPath, workspace.Options{})
		if err != nil {
			return nil, nil, nil, err
		}
		return ws, ws, func() { ws.Close() }, nil
	}

	src, err = workspace.Open(srcPath, workspace.Options{ReadOnly: true})
	if err != nil {
		return nil, nil, nil, err
	}
	dst, err = workspace.Open(dstPath, workspace.Options{})
	if err != nil {
		src.Close()
		return nil, nil, nil, err
	}
	return src, dst, func() { dst.Close(); src.Close() }, nil
}

// controller wires a pipeline controller over open workspaces.
func (a *app) controller(ctx context.Context, out io.Writer, src, dst *workspace.Workspace, progress bool) (*pipeline.Controller, error) {
	if a.cfg.Output.InterchangeDir == "" {
		return nil, fmt.Errorf("no GeoJSON destination: pass --geojson-dir or set output.interchange_dir")
	}
	store, err := storage.Open(ctx, a.cfg.Output.InterchangeDir, storage.S3Options{
		Region:       a.cfg.Storage.S3.Region,
		Endpoint:     a.cfg.Storage.S3.Endpoint,
		UsePathStyle: a.cfg.Storage.S3.PathStyle,
	})
	if err != nil {
		return nil, err
	}

	opts := pipeline.Options{
		Context:     src,
		Output:      dst,
		Interchange: store,
		Namer:       a.namer(),
		Logger:      a.logger,
		Tracer:      a.tracer,
		Presenter: &tui.LayerPresenter{
			W:          out,
			Source:     dst,
			LabelField: a.cfg.Join.Key,
		},
	}
	if progress && !verbose {
		opts.OnStage = tui.NewStageProgress(os.Stderr).OnStage
	}
	return pipeline.New(opts), nil
}

func (a *app) request(table string) pipeline.Request {
	return pipeline.Request{
		TablePath:  table,
		Collection: a.cfg.Context.Collection,
		JoinKey:    a.cfg.Join.Key,
		Operator:   a.operator(),
		Sheet:      a.cfg.Join.Sheet,
	}
}
