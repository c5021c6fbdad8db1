// Package convert drives a full conversion job: discover snapshot files,
// parse them in parallel, write the container sequentially in step order,
// then emit the temporal descriptor. Output bytes are identical for any
// worker count because writing only starts after every read has finished.
package convert

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gridflow/gridflow/internal/model"
	"github.com/gridflow/gridflow/pkg/container"
	"github.com/gridflow/gridflow/pkg/vts"
	"github.com/gridflow/gridflow/pkg/xdmf"
)

// Stage identifies where a job currently is in its lifecycle.
type Stage int

const (
	StageDiscovering Stage = iota
	StageReading
	StageWriting
	StageDescribing
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageDiscovering:
		return "discovering"
	case StageReading:
		return "reading"
	case StageWriting:
		return "writing"
	case StageDescribing:
		return "describing"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// geometryTolerance bounds the relative difference allowed between the
// reference geometry and each subsequent snapshot.
const geometryTolerance = 1e-6

// Config holds everything a conversion job needs.
type Config struct {
	InputDir   string
	OutputDir  string
	OutputName string

	Compression container.Options
	Workers     int // parse workers, 0 means one per CPU
	StepPattern vts.StepPattern

	// OnProgress, when set, is called after each file finishes a stage.
	OnProgress func(stage Stage, done, total int)
}

// Skip records one file excluded from the job and why.
type Skip struct {
	Path string
	Err  error
}

// Summary describes a finished job.
type Summary struct {
	JobID          string
	ContainerPath  string
	DescriptorPath string

	Dims    model.Dims
	Origin  model.Vec3
	Spacing model.Vec3
	Steps   []int

	Discovered int
	Converted  int
	Skipped    []Skip
	Warnings   []string

	InputBytes  int64
	OutputBytes int64
	Duration    time.Duration
}

// Orchestrator runs conversion jobs for one configuration.
type Orchestrator struct {
	cfg    Config
	reader *vts.Reader
	stage  Stage
}

func New(cfg Config) *Orchestrator {
	if cfg.OutputName == "" {
		cfg.OutputName = filepath.Base(filepath.Clean(cfg.InputDir))
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = cfg.InputDir
	}
	return &Orchestrator{
		cfg:    cfg,
		reader: &vts.Reader{Steps: cfg.StepPattern},
		stage:  StageDiscovering,
	}
}

// Stage reports the job's current lifecycle stage. Not synchronized; meant
// for inspection after Run returns or from the progress callback goroutine.
func (o *Orchestrator) Stage() Stage { return o.stage }

// ContainerPath returns where the container will be written.
func (o *Orchestrator) ContainerPath() string {
	return filepath.Join(o.cfg.OutputDir, o.cfg.OutputName+".h5")
}

// DescriptorPath returns where the descriptor will be written.
func (o *Orchestrator) DescriptorPath() string {
	return filepath.Join(o.cfg.OutputDir, o.cfg.OutputName+".xdmf2")
}

func (o *Orchestrator) progress(stage Stage, done, total int) {
	if o.cfg.OnProgress != nil {
		o.cfg.OnProgress(stage, done, total)
	}
}

// Run executes the job end to end. On any job-level failure the partially
// written container is discarded so no half-valid output remains on disk.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	sum := &Summary{JobID: uuid.NewString()}

	files, err := o.discoverPhase(sum)
	if err != nil {
		return nil, o.fail(err)
	}
	snaps, err := o.readPhase(ctx, files, sum)
	if err != nil {
		return nil, o.fail(err)
	}
	steps, err := o.writePhase(ctx, snaps, sum)
	if err != nil {
		return nil, o.fail(err)
	}
	if err := o.describePhase(steps, sum); err != nil {
		return nil, o.fail(err)
	}

	sum.Duration = time.Since(start)
	o.stage = StageDone
	return sum, nil
}

func (o *Orchestrator) fail(err error) error {
	o.stage = StageFailed
	return err
}

func (o *Orchestrator) discoverPhase(sum *Summary) ([]inputFile, error) {
	o.stage = StageDiscovering
	files, skips, err := discover(o.cfg.InputDir, o.cfg.StepPattern)
	if err != nil {
		return nil, err
	}
	sum.Discovered = len(files) + len(skips)
	sum.Skipped = append(sum.Skipped, skips...)
	return files, nil
}

// readPhase parses all files concurrently. The result slice stays aligned
// with the input slice so downstream ordering never depends on goroutine
// scheduling. Parse failures become skips, not job failures.
func (o *Orchestrator) readPhase(ctx context.Context, files []inputFile, sum *Summary) ([]*model.GridSnapshot, error) {
	o.stage = StageReading
	workers := o.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	snaps := make([]*model.GridSnapshot, len(files))
	readErrs := make([]error, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	var done atomic.Int64
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			snap, err := o.reader.Parse(f.path)
			if err != nil {
				readErrs[i] = err
			} else {
				snaps[i] = snap
			}
			o.progress(StageReading, int(done.Add(1)), len(files))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("convert: reading: %w", err)
	}

	parsed := false
	for i, f := range files {
		if readErrs[i] != nil {
			sum.Skipped = append(sum.Skipped, Skip{Path: f.path, Err: readErrs[i]})
			continue
		}
		parsed = true
		sum.Warnings = append(sum.Warnings, snaps[i].Warnings...)
	}
	if !parsed {
		return nil, fmt.Errorf("%w in %s", ErrNoConvertibleFiles, o.cfg.InputDir)
	}
	return snaps, nil
}

// writePhase appends every surviving snapshot to the container in ascending
// step order. The first snapshot fixes the reference geometry; later
// snapshots that disagree are skipped file by file.
func (o *Orchestrator) writePhase(ctx context.Context, snaps []*model.GridSnapshot, sum *Summary) ([]xdmf.StepEntry, error) {
	o.stage = StageWriting

	total := 0
	for _, s := range snaps {
		if s != nil {
			total++
		}
	}

	w, err := container.Open(o.ContainerPath(), o.cfg.Compression)
	if err != nil {
		return nil, err
	}

	var (
		steps   []xdmf.StepEntry
		haveRef bool
	)
	done := 0
	for _, snap := range snaps {
		if snap == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			w.Discard()
			return nil, fmt.Errorf("convert: writing: %w", err)
		}
		if !haveRef {
			if err := w.WriteGeometry(snap.Origin, snap.Spacing); err != nil {
				w.Discard()
				return nil, err
			}
			sum.Dims, sum.Origin, sum.Spacing = snap.Dims, snap.Origin, snap.Spacing
			haveRef = true
		} else if err := geometryMatch(sum, snap); err != nil {
			sum.Skipped = append(sum.Skipped, Skip{Path: snap.Source, Err: err})
			done++
			o.progress(StageWriting, done, total)
			continue
		}
		if err := w.Append(snap); err != nil {
			w.Discard()
			return nil, err
		}

		steps = append(steps, stepEntry(snap))
		sum.Steps = append(sum.Steps, snap.Step)
		sum.Converted++
		sum.InputBytes += fileSize(snap.Source)
		done++
		o.progress(StageWriting, done, total)
	}

	if err := w.Close(); err != nil {
		w.Discard()
		return nil, err
	}
	sum.ContainerPath = o.ContainerPath()
	sum.OutputBytes = fileSize(sum.ContainerPath)
	return steps, nil
}

func (o *Orchestrator) describePhase(steps []xdmf.StepEntry, sum *Summary) error {
	o.stage = StageDescribing
	if err := xdmf.Generate(sum.ContainerPath, o.DescriptorPath(), sum.Dims, steps); err != nil {
		// A container without its descriptor is not a usable result.
		os.Remove(sum.ContainerPath)
		return err
	}
	sum.DescriptorPath = o.DescriptorPath()
	sum.OutputBytes += fileSize(sum.DescriptorPath)
	return nil
}

func stepEntry(snap *model.GridSnapshot) xdmf.StepEntry {
	e := xdmf.StepEntry{Step: snap.Step}
	for _, name := range snap.PointArrayNames() {
		e.PointArrays = append(e.PointArrays, xdmf.ArrayRef{Name: name, Kind: snap.PointData[name].Kind})
	}
	for _, name := range snap.CellArrayNames() {
		e.CellArrays = append(e.CellArrays, xdmf.ArrayRef{Name: name, Kind: snap.CellData[name].Kind})
	}
	return e
}

var errGeometryMismatch = errors.New("convert: geometry differs from reference snapshot")

func geometryMatch(sum *Summary, snap *model.GridSnapshot) error {
	if snap.Dims != sum.Dims {
		return fmt.Errorf("%w: dimensions %dx%dx%d, want %dx%dx%d", errGeometryMismatch,
			snap.Dims.Nx, snap.Dims.Ny, snap.Dims.Nz, sum.Dims.Nx, sum.Dims.Ny, sum.Dims.Nz)
	}
	for axis := 0; axis < 3; axis++ {
		if !withinTolerance(snap.Origin[axis], sum.Origin[axis]) {
			return fmt.Errorf("%w: origin axis %d is %g, want %g", errGeometryMismatch,
				axis, snap.Origin[axis], sum.Origin[axis])
		}
		if !withinTolerance(snap.Spacing[axis], sum.Spacing[axis]) {
			return fmt.Errorf("%w: spacing axis %d is %g, want %g", errGeometryMismatch,
				axis, snap.Spacing[axis], sum.Spacing[axis])
		}
	}
	return nil
}

func withinTolerance(a, b float64) bool {
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale < 1 {
		scale = 1
	}
	return diff <= geometryTolerance*scale
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// FileReport is the per-file result of an inspection pass.
type FileReport struct {
	Info *vts.FileInfo
	Err  error
}

// Inspect reports the structure of every discovered file without decoding
// payloads or writing anything. Files that fail step extraction are still
// listed, carrying their error.
func (o *Orchestrator) Inspect(ctx context.Context) ([]FileReport, error) {
	files, skips, err := discover(o.cfg.InputDir, o.cfg.StepPattern)
	if err != nil {
		return nil, err
	}

	reports := make([]FileReport, 0, len(files)+len(skips))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := o.reader.Inspect(f.path)
		if err != nil {
			reports = append(reports, FileReport{Info: &vts.FileInfo{Path: f.path, Step: f.step}, Err: err})
			continue
		}
		reports = append(reports, FileReport{Info: info})
	}
	for _, s := range skips {
		reports = append(reports, FileReport{Info: &vts.FileInfo{Path: s.Path}, Err: s.Err})
	}

	sort.Slice(reports, func(i, j int) bool { return reports[i].Info.Path < reports[j].Info.Path })
	return reports, nil
}
