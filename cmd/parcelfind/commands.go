package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/parcelfind/parcelfind/pkg/feature"
	"github.com/parcelfind/parcelfind/pkg/tui"
	"github.com/parcelfind/parcelfind/pkg/watch"
	"github.com/parcelfind/parcelfind/pkg/workspace"
)

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	src, dst, closeWS, err := a.workspaces()
	if err != nil {
		return err
	}
	defer closeWS()

	ctrl, err := a.controller(ctx, os.Stdout, src, dst, true)
	if err != nil {
		return err
	}

	res := ctrl.Run(ctx, a.request(args[0]))
	tui.PrintReport(os.Stdout, res)
	if !res.Succeeded() {
		return fmt.Errorf("run %s failed: %s", res.RunID, res.Kind())
	}
	return nil
}

func runLoad(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	name := loadName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	}
	c, err := feature.UnmarshalGeoJSON(data, name)
	if err != nil {
		return err
	}
	if loadSRID > 0 {
		c.SRID = loadSRID
	}

	ws, err := workspace.Open(a.cfg.Context.Workspace, workspace.Options{})
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := ws.Create(ctx, c, a.operator()); err != nil {
		return err
	}
	a.logger.Info("collection loaded", "name", c.Name, "records", c.Len(), "srid", c.SRID, "workspace", ws.Path())
	fmt.Printf("Loaded %d features into %s\n", c.Len(), ws.Location(c.Name))
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ws, err := workspace.Open(a.cfg.Context.Workspace, workspace.Options{ReadOnly: true})
	if err != nil {
		return err
	}
	defer ws.Close()

	infos, err := ws.List(ctx)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Printf("No collections in %s\n", ws.Path())
		return nil
	}

	fmt.Printf("%-32s %8s %6s  %-16s %s\n", "NAME", "RECORDS", "SRID", "CREATED", "BY")
	for _, info := range infos {
		fmt.Printf("%-32s %8d %6d  %-16s %s\n",
			info.Name, info.Count, info.SRID, info.CreatedAt.Local().Format("2006-01-02 15:04"), info.CreatedBy)
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Watch.Inbox == "" {
		return fmt.Errorf("no inbox: pass --inbox or set watch.inbox")
	}

	src, dst, closeWS, err := a.workspaces()
	if err != nil {
		return err
	}
	defer closeWS()

	ctrl, err := a.controller(ctx, os.Stdout, src, dst, false)
	if err != nil {
		return err
	}

	inbox, err := watch.NewInbox(a.cfg.Watch.Inbox, a.cfg.Watch.Debounce)
	if err != nil {
		return err
	}
	inbox.OnError = func(path string, err error) {
		a.logger.Error("inbox run failed", "file", path, "error", err)
	}

	tui.PrintHeader(os.Stdout, version)
	fmt.Printf("  Watching %s (Ctrl+C to stop)\n", inbox.Dir())

	return inbox.Serve(ctx, func(ctx context.Context, path string) error {
		a.logger.Info("inbox file received", "file", path)
		res := ctrl.Run(ctx, a.request(path))
		tui.PrintReport(os.Stdout, res)
		return res.Err
	})
}

func runName(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	id := a.namer().Identity(a.operator(), time.Now())
	fmt.Println(id.StructuredName())
	if verbose {
		fmt.Printf("operator=%s initials=%s interchange=%s\n", id.Operator, id.Initials, id.InterchangeName("geojson"))
	}
	return nil
}
