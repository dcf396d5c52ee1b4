// Package tui renders run progress and outcomes for the terminal.
// Simple, streaming, no complex TUI - just clean lines of output.
package tui

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/parcelfind/parcelfind/pkg/feature"
	"github.com/parcelfind/parcelfind/pkg/pipeline"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	codeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#1a1a1a")).Foreground(white).Padding(0, 1)
)

const rule = "  ─────────────────────────────────────"

// PrintHeader prints the banner.
func PrintHeader(w io.Writer, version string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("  PARCELFIND")+mutedStyle.Render(" "+version))
	fmt.Fprintln(w, mutedStyle.Render("  Tax parcel finder"))
	fmt.Fprintln(w)
}

// RenderReport formats the outcome of a run: both output locations on
// success, the error kind and message on failure.
func RenderReport(res *pipeline.Result) string {
	var sb strings.Builder
	sb.WriteString("\n")

	if !res.Succeeded() {
		sb.WriteString(accentStyle.Render("  ✗ RUN FAILED") + "\n\n")
		fmt.Fprintf(&sb, "  %s %s\n", mutedStyle.Render("Kind:"), titleStyle.Render(res.Kind()))
		if s := res.FailedAt(); s >= 0 {
			fmt.Fprintf(&sb, "  %s %s\n", mutedStyle.Render("Stage:"), s)
		}
		fmt.Fprintf(&sb, "  %s %s\n", mutedStyle.Render("Error:"), res.Err)
		if res.Secondary != nil {
			fmt.Fprintf(&sb, "  %s %s\n", mutedStyle.Render("Also:"), res.Secondary)
		}
		fmt.Fprintf(&sb, "  %s %s\n", mutedStyle.Render("Run:"), res.RunID)
		return sb.String()
	}

	sb.WriteString(successStyle.Render("  ✓ PARCELS EXPORTED") + "\n\n")
	fmt.Fprintf(&sb, "  %s %s\n", mutedStyle.Render("Matched:"), titleStyle.Render(formatNumber(int64(res.Matched))))
	fmt.Fprintf(&sb, "  %s %s\n", mutedStyle.Render("Feature class:"), codeStyle.Render(res.Structured.Location))
	fmt.Fprintf(&sb, "  %s %s\n", mutedStyle.Render("GeoJSON:"), codeStyle.Render(res.Interchange.Location))
	if d := res.Duration(); d > 0 {
		fmt.Fprintf(&sb, "  %s %s\n", mutedStyle.Render("Time:"), titleStyle.Render(formatDuration(d)))
	}
	return sb.String()
}

// PrintReport writes RenderReport to w.
func PrintReport(w io.Writer, res *pipeline.Result) {
	fmt.Fprintln(w, RenderReport(res))
}

// StageProgress drives a progress bar from pipeline stage transitions.
type StageProgress struct {
	bar   *progressbar.ProgressBar
	steps map[pipeline.Stage]int
}

// NewStageProgress creates a bar on w sized to the stages of a successful run.
func NewStageProgress(w io.Writer) *StageProgress {
	stages := pipeline.Stages()
	steps := make(map[pipeline.Stage]int, len(stages))
	for i, s := range stages {
		steps[s] = i + 1
	}

	bar := progressbar.NewOptions(len(stages),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("init"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(50*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	return &StageProgress{bar: bar, steps: steps}
}

// OnStage advances the bar. It matches pipeline.Options.OnStage.
func (p *StageProgress) OnStage(s pipeline.Stage) {
	p.bar.Describe(s.String())
	if s == pipeline.StageFailed {
		p.bar.Finish()
		return
	}
	if n, ok := p.steps[s]; ok {
		p.bar.Set(n)
	}
}

// Collections loads a collection by name. *workspace.Workspace satisfies it.
type Collections interface {
	Load(ctx context.Context, name string) (*feature.Collection, error)
}

// LayerPresenter shows the new output layer: record count, extent and the
// labels bound to the label field.
type LayerPresenter struct {
	W          io.Writer
	Source     Collections
	LabelField string
	// MaxLabels caps the labels listed. Zero lists ten.
	MaxLabels int
}

// Present implements pipeline.Presenter.
func (p *LayerPresenter) Present(ctx context.Context, res *pipeline.Result) error {
	if res.Structured == nil {
		return fmt.Errorf("no structured output to present")
	}
	c, err := p.Source.Load(ctx, res.Structured.Name)
	if err != nil {
		return fmt.Errorf("failed to load output layer: %w", err)
	}
	fmt.Fprint(p.W, RenderLayer(c, p.LabelField, p.MaxLabels))
	return nil
}

// RenderLayer formats the layer summary.
func RenderLayer(c *feature.Collection, labelField string, maxLabels int) string {
	if maxLabels <= 0 {
		maxLabels = 10
	}

	var sb strings.Builder
	sb.WriteString(accentStyle.Render("  ▸ LAYER "+c.Name) + "\n")
	sb.WriteString(mutedStyle.Render(rule) + "\n")
	fmt.Fprintf(&sb, "  %s %s\n", mutedStyle.Render("Parcels:"), titleStyle.Render(fmt.Sprintf("%d", c.Len())))
	if c.SRID > 0 {
		fmt.Fprintf(&sb, "  %s EPSG:%d\n", mutedStyle.Render("SRS:"), c.SRID)
	}
	if b, ok := c.Bound(); ok {
		fmt.Fprintf(&sb, "  %s %.3f, %.3f → %.3f, %.3f\n",
			mutedStyle.Render("Extent:"), b.Min[0], b.Min[1], b.Max[0], b.Max[1])
	} else {
		fmt.Fprintf(&sb, "  %s %s\n", mutedStyle.Render("Extent:"), mutedStyle.Render("empty"))
	}

	if labelField != "" && c.Schema.Has(labelField) && c.Len() > 0 {
		labels := make([]string, 0, c.Len())
		for _, r := range c.Records {
			if v := r.Attributes[labelField]; v != nil {
				labels = append(labels, fmt.Sprint(v))
			}
		}
		sort.Strings(labels)
		more := 0
		if len(labels) > maxLabels {
			more = len(labels) - maxLabels
			labels = labels[:maxLabels]
		}
		line := strings.Join(labels, ", ")
		if more > 0 {
			line += mutedStyle.Render(fmt.Sprintf(" (+%d more)", more))
		}
		fmt.Fprintf(&sb, "  %s %s\n", mutedStyle.Render("Labels ("+labelField+"):"), line)
	}
	sb.WriteString(mutedStyle.Render(rule) + "\n")
	return sb.String()
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}
