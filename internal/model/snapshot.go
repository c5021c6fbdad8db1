// Package model defines core data structures for gridflow.
package model

import (
	"fmt"
	"sort"
)

// Dims holds the point dimensions of a structured grid.
// Nz may be 1 for a 2-D snapshot represented as a degenerate 3-D grid.
type Dims struct {
	Nx, Ny, Nz int
}

// PointCount returns the number of grid nodes.
func (d Dims) PointCount() int {
	return d.Nx * d.Ny * d.Nz
}

// CellCount returns the number of grid cells. A degenerate axis (n == 1)
// contributes a factor of 1.
func (d Dims) CellCount() int {
	return cellAxis(d.Nx) * cellAxis(d.Ny) * cellAxis(d.Nz)
}

func cellAxis(n int) int {
	if n <= 1 {
		return 1
	}
	return n - 1
}

// CellDims returns the per-axis cell counts.
func (d Dims) CellDims() Dims {
	return Dims{cellAxis(d.Nx), cellAxis(d.Ny), cellAxis(d.Nz)}
}

// Valid reports whether all dimensions are positive.
func (d Dims) Valid() bool {
	return d.Nx > 0 && d.Ny > 0 && d.Nz > 0
}

func (d Dims) String() string {
	return fmt.Sprintf("%dx%dx%d", d.Nx, d.Ny, d.Nz)
}

// Vec3 is a 3-component vector used for grid origin and spacing.
type Vec3 [3]float64

// Kind identifies the element type of an Array. The set is closed: these are
// the numeric widths the container stores and the descriptor can declare.
type Kind uint8

const (
	KindFloat32 Kind = iota
	KindFloat64
	KindInt32
	KindInt64
)

// Size returns the element width in bytes.
func (k Kind) Size() int {
	switch k {
	case KindFloat32, KindInt32:
		return 4
	default:
		return 8
	}
}

// Float reports whether the kind is a floating-point type.
func (k Kind) Float() bool {
	return k == KindFloat32 || k == KindFloat64
}

func (k Kind) String() string {
	switch k {
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	default:
		return "unknown"
	}
}

// Array is a flat numeric field array. Exactly one of the typed slices is
// populated, selected by Kind.
type Array struct {
	Kind Kind

	F32 []float32
	F64 []float64
	I32 []int32
	I64 []int64
}

// Len returns the element count of the populated slice.
func (a *Array) Len() int {
	switch a.Kind {
	case KindFloat32:
		return len(a.F32)
	case KindFloat64:
		return len(a.F64)
	case KindInt32:
		return len(a.I32)
	case KindInt64:
		return len(a.I64)
	default:
		return 0
	}
}

// Float64At returns element i widened to float64.
func (a *Array) Float64At(i int) float64 {
	switch a.Kind {
	case KindFloat32:
		return float64(a.F32[i])
	case KindFloat64:
		return a.F64[i]
	case KindInt32:
		return float64(a.I32[i])
	default:
		return float64(a.I64[i])
	}
}

// DataKind distinguishes point-centered from cell-centered arrays.
type DataKind uint8

const (
	PointData DataKind = iota
	CellData
)

func (k DataKind) String() string {
	if k == CellData {
		return "cell_data"
	}
	return "point_data"
}

// GridSnapshot is the in-memory form of one time step. It is owned by the
// goroutine that parsed it until handed to the container writer.
type GridSnapshot struct {
	// Step is the time-step identifier extracted from the source filename.
	Step int

	// Source is the file this snapshot was parsed from.
	Source string

	Dims    Dims
	Origin  Vec3
	Spacing Vec3

	// PointData and CellData map array name to field array. Names are
	// unique within each map.
	PointData map[string]*Array
	CellData  map[string]*Array

	// Warnings records non-fatal issues from parsing, such as arrays
	// skipped for an unsupported element type.
	Warnings []string
}

// PointArrayNames returns point array names in sorted order. Sorted access
// keeps container and descriptor output deterministic.
func (s *GridSnapshot) PointArrayNames() []string {
	return sortedKeys(s.PointData)
}

// CellArrayNames returns cell array names in sorted order.
func (s *GridSnapshot) CellArrayNames() []string {
	return sortedKeys(s.CellData)
}

func sortedKeys(m map[string]*Array) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every array's element count matches the grid's point
// or cell count. A snapshot failing validation must not reach the writer.
func (s *GridSnapshot) Validate() error {
	if !s.Dims.Valid() {
		return fmt.Errorf("invalid dimensions %s", s.Dims)
	}
	if s.Step < 0 {
		return fmt.Errorf("negative step %d", s.Step)
	}
	want := s.Dims.PointCount()
	for _, name := range s.PointArrayNames() {
		if got := s.PointData[name].Len(); got != want {
			return fmt.Errorf("point array %q has %d elements, grid has %d points", name, got, want)
		}
	}
	want = s.Dims.CellCount()
	for _, name := range s.CellArrayNames() {
		if got := s.CellData[name].Len(); got != want {
			return fmt.Errorf("cell array %q has %d elements, grid has %d cells", name, got, want)
		}
	}
	return nil
}
