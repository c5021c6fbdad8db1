// Package tui renders terminal output for conversion jobs.
// Simple, streaming, no complex TUI - just clean progress and summaries.
package tui

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/gridflow/gridflow/pkg/convert"
	"github.com/gridflow/gridflow/pkg/vts"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF6600")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	warn    = lipgloss.Color("#CCAA00")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(warn)
)

// Printer renders job progress and results. The zero value prints at normal
// verbosity; Silent suppresses everything except errors.
type Printer struct {
	Silent  bool
	Verbose bool

	mu       sync.Mutex
	bar      *progressbar.ProgressBar
	barStage convert.Stage
}

// Header prints the program banner.
func (p *Printer) Header(version string) {
	if p.Silent {
		return
	}
	fmt.Println()
	fmt.Println(titleStyle.Render("  GRIDFLOW") + mutedStyle.Render(" v"+version))
	fmt.Println(mutedStyle.Render("  Structured-grid snapshot series converter"))
	fmt.Println()
}

// Progress is a convert.Config callback. It lazily creates one bar per
// stage and finishes it when the stage drains. Safe for concurrent calls
// from parse workers.
func (p *Printer) Progress(stage convert.Stage, done, total int) {
	if p.Silent {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil || p.barStage != stage {
		p.bar = newBar(int64(total), "  "+stage.String())
		p.barStage = stage
	}
	p.bar.Set(done)
	if done >= total {
		p.bar.Finish()
		p.bar = nil
	}
}

// Summary prints the result of a finished job. Silent mode still reports
// the outcome, compressed to one line plus any skips.
func (p *Printer) Summary(sum *convert.Summary) {
	if p.Silent {
		fmt.Printf("%s: %d/%d files, steps %d..%d, %d skipped\n",
			sum.ContainerPath, sum.Converted, sum.Discovered,
			sum.Steps[0], sum.Steps[len(sum.Steps)-1], len(sum.Skipped))
		p.printSkips(sum.Skipped)
		return
	}
	fmt.Println()
	fmt.Println(successStyle.Render("  ✓ CONVERSION COMPLETE"))
	fmt.Println()
	fmt.Printf("  %s %s\n", mutedStyle.Render("Container: "), titleStyle.Render(sum.ContainerPath))
	fmt.Printf("  %s %s\n", mutedStyle.Render("Descriptor:"), titleStyle.Render(sum.DescriptorPath))
	fmt.Printf("  %s %d×%d×%d points, %d of %d files, steps %d..%d\n",
		mutedStyle.Render("Converted: "),
		sum.Dims.Nx, sum.Dims.Ny, sum.Dims.Nz,
		sum.Converted, sum.Discovered,
		sum.Steps[0], sum.Steps[len(sum.Steps)-1])

	if sum.InputBytes > 0 && sum.OutputBytes > 0 {
		ratio := float64(sum.InputBytes) / float64(sum.OutputBytes)
		fmt.Printf("  %s %s → %s %s\n",
			mutedStyle.Render("Size:      "),
			formatBytes(sum.InputBytes),
			formatBytes(sum.OutputBytes),
			successStyle.Render(fmt.Sprintf("(%.1fx)", ratio)))
	}
	fmt.Printf("  %s %s\n", mutedStyle.Render("Time:      "), titleStyle.Render(formatDuration(sum.Duration)))

	p.printSkips(sum.Skipped)
	if p.Verbose {
		for _, w := range sum.Warnings {
			fmt.Println(warnStyle.Render("  ! " + w))
		}
	}
	fmt.Println()
}

func (p *Printer) printSkips(skips []convert.Skip) {
	if len(skips) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(warnStyle.Render(fmt.Sprintf("  %d file(s) skipped:", len(skips))))
	for _, s := range skips {
		fmt.Printf("  %s %s %s\n",
			warnStyle.Render("•"),
			filepath.Base(s.Path),
			mutedStyle.Render(s.Err.Error()))
	}
}

// Inspection prints per-file structure reports for --info mode.
func (p *Printer) Inspection(reports []convert.FileReport) {
	for _, rep := range reports {
		if rep.Err != nil {
			fmt.Printf("  %s %s %s\n",
				accentStyle.Render("✗"),
				filepath.Base(rep.Info.Path),
				mutedStyle.Render(rep.Err.Error()))
			continue
		}
		p.printFileInfo(rep.Info)
	}
}

func (p *Printer) printFileInfo(info *vts.FileInfo) {
	fmt.Printf("  %s %s\n", successStyle.Render("✓"), titleStyle.Render(filepath.Base(info.Path)))
	fmt.Printf("    %s %d\n", mutedStyle.Render("step:      "), info.Step)
	fmt.Printf("    %s %d×%d×%d\n", mutedStyle.Render("dimensions:"), info.Dims.Nx, info.Dims.Ny, info.Dims.Nz)
	if len(info.PointArrays) > 0 {
		fmt.Printf("    %s %v\n", mutedStyle.Render("point data:"), info.PointArrays)
	}
	if len(info.CellArrays) > 0 {
		fmt.Printf("    %s %v\n", mutedStyle.Render("cell data: "), info.CellArrays)
	}
}

// Fatal prints an error and exits nonzero.
func (p *Printer) Fatal(err error) {
	fmt.Fprintln(os.Stderr, accentStyle.Render("  ✗ "+err.Error()))
	os.Exit(1)
}

func newBar(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// formatBytes formats a byte count in a human-readable way.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
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
