package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/parcelfind/parcelfind/pkg/config"
	"github.com/parcelfind/parcelfind/pkg/workspace"
)

func TestApplyFlags(t *testing.T) {
	defer func() { keyFlag, geojsonDirFlag = "", "" }()
	keyFlag = "PIN"
	geojsonDirFlag = "s3://gis/exports"

	cfg := config.Default()
	applyFlags(cfg)

	if cfg.Join.Key != "PIN" {
		t.Errorf("Join.Key = %q, want PIN", cfg.Join.Key)
	}
	if cfg.Output.InterchangeDir != "s3://gis/exports" {
		t.Errorf("InterchangeDir = %q", cfg.Output.InterchangeDir)
	}
	if cfg.Context.Collection != "Parcels" {
		t.Errorf("unset flag overrode Collection: %q", cfg.Context.Collection)
	}
}

func TestAppNamer(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Prefix = "Lots"
	cfg.Output.Overrides = map[string]string{"NFERRI": "NA"}
	a := &app{cfg: cfg}

	now := time.Date(2024, 10, 8, 14, 5, 0, 0, time.Local)
	n := a.namer()
	if got := n.Identity(`AD\nferri`, now).StructuredName(); got != "Lots_NA_100824_1405" {
		t.Errorf("StructuredName = %q", got)
	}
	// built-in overrides survive the merge
	if got := n.Initials("jcho"); got != "KC" {
		t.Errorf("Initials(jcho) = %q, want KC", got)
	}
}

func TestAppWorkspaces_SharedPath(t *testing.T) {
	cfg := config.Default()
	cfg.Context.Workspace = filepath.Join(t.TempDir(), "default.duckdb")
	a := &app{cfg: cfg}

	src, dst, closeFn, err := a.workspaces()
	if err != nil {
		t.Fatalf("workspaces failed: %v", err)
	}
	defer closeFn()
	if src != dst {
		t.Error("same path should share one workspace handle")
	}
}

func TestAppWorkspaces_SeparateOutput(t *testing.T) {
	dir := t.TempDir()
	ctxPath := filepath.Join(dir, "parcels.duckdb")
	ws, err := workspace.Open(ctxPath, workspace.Options{})
	if err != nil {
		t.Fatal(err)
	}
	ws.Close()

	cfg := config.Default()
	cfg.Context.Workspace = ctxPath
	cfg.Output.Workspace = filepath.Join(dir, "exports.duckdb")
	a := &app{cfg: cfg}

	src, dst, closeFn, err := a.workspaces()
	if err != nil {
		t.Fatalf("workspaces failed: %v", err)
	}
	defer closeFn()
	if src == dst {
		t.Fatal("distinct paths should open distinct workspaces")
	}
	if !src.ReadOnly() || dst.ReadOnly() {
		t.Errorf("ReadOnly: src=%v dst=%v, want true/false", src.ReadOnly(), dst.ReadOnly())
	}
}
