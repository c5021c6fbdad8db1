package convert

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/gridflow/gridflow/pkg/container"
	"github.com/gridflow/gridflow/pkg/vts"
)

// gridXML builds an ascii StructuredGrid snapshot. The point array ramps
// from base so files produced for different steps carry different data.
// shear, when nonzero, bends the point lattice so the file is rejected as
// non-rectilinear.
func gridXML(nx, ny, nz int, base, originX, shear float64) string {
	var points strings.Builder
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				x := originX + float64(i)*0.5 + shear*float64(j)
				fmt.Fprintf(&points, "%g %g %g\n", x, float64(j)*0.25, float64(k)*2.0)
			}
		}
	}
	var temp strings.Builder
	for i := 0; i < nx*ny*nz; i++ {
		fmt.Fprintf(&temp, "%g ", base+float64(i))
	}

	return fmt.Sprintf(`<?xml version="1.0"?>
<VTKFile type="StructuredGrid" version="0.1" byte_order="LittleEndian">
  <StructuredGrid WholeExtent="0 %d 0 %d 0 %d">
    <Piece Extent="0 %d 0 %d 0 %d">
      <PointData>
        <DataArray type="Float64" Name="temp" format="ascii">%s</DataArray>
      </PointData>
      <CellData>
      </CellData>
      <Points>
        <DataArray type="Float64" NumberOfComponents="3" format="ascii">%s</DataArray>
      </Points>
    </Piece>
  </StructuredGrid>
</VTKFile>`, nx-1, ny-1, nz-1, nx-1, ny-1, nz-1, temp.String(), points.String())
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeScenario(t *testing.T, dir string) {
	t.Helper()
	writeFile(t, dir, "sim_100.vts", gridXML(4, 4, 1, 100, 0, 0))
	writeFile(t, dir, "sim_20.vts", gridXML(4, 4, 1, 20, 0, 0))
	writeFile(t, dir, "sim_3.vts", gridXML(4, 4, 1, 3, 0, 0))
}

func runJob(t *testing.T, in, out string, workers int) (*Summary, error) {
	t.Helper()
	o := New(Config{
		InputDir:    in,
		OutputDir:   out,
		OutputName:  "result",
		Compression: container.DefaultOptions(),
		Workers:     workers,
	})
	return o.Run(context.Background())
}

func hashFile(t *testing.T, path string) [32]byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return sha256.Sum256(data)
}

func TestRunOrdersSteps(t *testing.T) {
	in := t.TempDir()
	writeScenario(t, in)

	sum, err := runJob(t, in, t.TempDir(), 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !reflect.DeepEqual(sum.Steps, []int{3, 20, 100}) {
		t.Errorf("Steps = %v, want [3 20 100]", sum.Steps)
	}
	if sum.Discovered != 3 || sum.Converted != 3 || len(sum.Skipped) != 0 {
		t.Errorf("counts = %d/%d/%d", sum.Discovered, sum.Converted, len(sum.Skipped))
	}
	if sum.JobID == "" {
		t.Error("empty job ID")
	}

	r, err := container.OpenReader(sum.ContainerPath)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	if !reflect.DeepEqual(r.Steps(), []int{3, 20, 100}) {
		t.Errorf("container steps = %v", r.Steps())
	}

	desc, err := os.ReadFile(sum.DescriptorPath)
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	first := strings.Index(string(desc), `Name="Step_3"`)
	last := strings.Index(string(desc), `Name="Step_100"`)
	if first < 0 || last < 0 || first > last {
		t.Errorf("descriptor grid order wrong (3 at %d, 100 at %d)", first, last)
	}
}

func TestRunDeterministicAcrossWorkers(t *testing.T) {
	in := t.TempDir()
	writeScenario(t, in)
	writeFile(t, in, "sim_41.vts", gridXML(4, 4, 1, 41, 0, 0))
	writeFile(t, in, "sim_7.vts", gridXML(4, 4, 1, 7, 0, 0))

	var want, wantDesc [32]byte
	for i, workers := range []int{1, 2, 0} {
		out := t.TempDir()
		sum, err := runJob(t, in, out, workers)
		if err != nil {
			t.Fatalf("Run(workers=%d): %v", workers, err)
		}
		h := hashFile(t, sum.ContainerPath)
		hd := hashFile(t, sum.DescriptorPath)
		if i == 0 {
			want, wantDesc = h, hd
			continue
		}
		if h != want {
			t.Errorf("container bytes differ with workers=%d", workers)
		}
		if hd != wantDesc {
			t.Errorf("descriptor bytes differ with workers=%d", workers)
		}
	}
}

func TestRunSkipsUnparsableFiles(t *testing.T) {
	in := t.TempDir()
	writeFile(t, in, "sim_1.vts", gridXML(4, 4, 1, 1, 0, 0))
	writeFile(t, in, "sim_2.vts", gridXML(4, 4, 1, 2, 0, 0.3)) // sheared lattice
	writeFile(t, in, "sim_3.vts", gridXML(4, 4, 1, 3, 0, 0))
	writeFile(t, in, "sim_4.vts", `<VTKFile type="UnstructuredGrid"><UnstructuredGrid></UnstructuredGrid></VTKFile>`)

	sum, err := runJob(t, in, t.TempDir(), 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(sum.Steps, []int{1, 3}) {
		t.Errorf("Steps = %v, want [1 3]", sum.Steps)
	}
	if len(sum.Skipped) != 2 {
		t.Fatalf("Skipped = %v", sum.Skipped)
	}
	for _, s := range sum.Skipped {
		switch {
		case strings.HasSuffix(s.Path, "sim_2.vts"):
			if !errors.Is(s.Err, vts.ErrNonUniformSpacing) {
				t.Errorf("sim_2 skip = %v, want ErrNonUniformSpacing", s.Err)
			}
		case strings.HasSuffix(s.Path, "sim_4.vts"):
			if !errors.Is(s.Err, vts.ErrUnsupportedGridType) {
				t.Errorf("sim_4 skip = %v, want ErrUnsupportedGridType", s.Err)
			}
		default:
			t.Errorf("unexpected skip %v", s)
		}
	}
}

func TestRunSkipsGeometryMismatch(t *testing.T) {
	in := t.TempDir()
	writeFile(t, in, "sim_1.vts", gridXML(4, 4, 1, 1, 0, 0))
	writeFile(t, in, "sim_2.vts", gridXML(4, 4, 1, 2, 9.5, 0)) // shifted origin

	sum, err := runJob(t, in, t.TempDir(), 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(sum.Steps, []int{1}) {
		t.Errorf("Steps = %v, want [1]", sum.Steps)
	}
	if len(sum.Skipped) != 1 || !errors.Is(sum.Skipped[0].Err, errGeometryMismatch) {
		t.Errorf("Skipped = %v", sum.Skipped)
	}
}

func TestRunDeduplicatesSteps(t *testing.T) {
	in := t.TempDir()
	writeFile(t, in, "a_5.vts", gridXML(4, 4, 1, 5, 0, 0))
	writeFile(t, in, "b_5.vts", gridXML(4, 4, 1, 55, 0, 0))

	sum, err := runJob(t, in, t.TempDir(), 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Converted != 1 {
		t.Errorf("Converted = %d, want 1", sum.Converted)
	}
	if len(sum.Skipped) != 1 || !errors.Is(sum.Skipped[0].Err, errDuplicateStep) {
		t.Errorf("Skipped = %v", sum.Skipped)
	}
	if !strings.HasSuffix(sum.Skipped[0].Path, "b_5.vts") {
		t.Errorf("wrong file skipped: %s", sum.Skipped[0].Path)
	}
}

func TestRunEmptyDirectory(t *testing.T) {
	out := t.TempDir()
	_, err := runJob(t, t.TempDir(), out, 1)
	if !errors.Is(err, ErrNoInputFiles) {
		t.Fatalf("err = %v, want ErrNoInputFiles", err)
	}
	entries, _ := os.ReadDir(out)
	if len(entries) != 0 {
		t.Errorf("output directory not empty: %v", entries)
	}
}

func TestRunAllFilesUnparsable(t *testing.T) {
	in := t.TempDir()
	writeFile(t, in, "sim_1.vts", "not xml at all")
	writeFile(t, in, "sim_2.vts", "<VTKFile></nope>")

	out := t.TempDir()
	o := New(Config{InputDir: in, OutputDir: out, OutputName: "result", Compression: container.DefaultOptions()})
	_, err := o.Run(context.Background())
	if !errors.Is(err, ErrNoConvertibleFiles) {
		t.Fatalf("err = %v, want ErrNoConvertibleFiles", err)
	}
	if _, serr := os.Stat(o.ContainerPath()); !os.IsNotExist(serr) {
		t.Error("container left on disk after failed job")
	}
	if _, serr := os.Stat(o.DescriptorPath()); !os.IsNotExist(serr) {
		t.Error("descriptor left on disk after failed job")
	}
}

func TestRunCancelled(t *testing.T) {
	in := t.TempDir()
	writeScenario(t, in)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(Config{InputDir: in, OutputDir: t.TempDir(), OutputName: "result", Compression: container.DefaultOptions()})
	if _, err := o.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if o.Stage() != StageFailed {
		t.Errorf("Stage = %v, want failed", o.Stage())
	}
}

func TestRunProgressCallback(t *testing.T) {
	in := t.TempDir()
	writeScenario(t, in)

	seen := map[Stage]int{}
	o := New(Config{
		InputDir:    in,
		OutputDir:   t.TempDir(),
		OutputName:  "result",
		Compression: container.DefaultOptions(),
		Workers:     1,
		OnProgress: func(stage Stage, done, total int) {
			if done > seen[stage] {
				seen[stage] = done
			}
			if total != 3 {
				t.Errorf("total = %d, want 3", total)
			}
		},
	})
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if seen[StageReading] != 3 || seen[StageWriting] != 3 {
		t.Errorf("progress high-water marks = %v", seen)
	}
}

func TestDefaultOutputName(t *testing.T) {
	in := filepath.Join(t.TempDir(), "channel_flow")
	if err := os.Mkdir(in, 0755); err != nil {
		t.Fatal(err)
	}
	o := New(Config{InputDir: in})
	if got := filepath.Base(o.ContainerPath()); got != "channel_flow.h5" {
		t.Errorf("container name = %s", got)
	}
	if got := filepath.Base(o.DescriptorPath()); got != "channel_flow.xdmf2" {
		t.Errorf("descriptor name = %s", got)
	}
}

func TestInspect(t *testing.T) {
	in := t.TempDir()
	writeScenario(t, in)
	writeFile(t, in, "nodigits.vts", gridXML(4, 4, 1, 0, 0, 0))

	o := New(Config{InputDir: in})
	reports, err := o.Inspect(context.Background())
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if len(reports) != 4 {
		t.Fatalf("got %d reports", len(reports))
	}

	var failed int
	for _, rep := range reports {
		if rep.Err != nil {
			failed++
			continue
		}
		if len(rep.Info.PointArrays) != 1 || rep.Info.PointArrays[0] != "temp" {
			t.Errorf("%s point arrays = %v", rep.Info.Path, rep.Info.PointArrays)
		}
	}
	if failed != 1 {
		t.Errorf("failed reports = %d, want 1", failed)
	}

	// Structure inspection must not write anything.
	entries, err := os.ReadDir(in)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 4 {
		t.Errorf("input directory changed: %d entries", len(entries))
	}
}
