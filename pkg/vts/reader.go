// Package vts parses VTK XML structured-grid snapshot files into grid
// snapshots. Parsing is read-only and keeps no shared state, so one file can
// be parsed per goroutine without coordination.
package vts

import (
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"math"

	"github.com/gridflow/gridflow/internal/model"
	"github.com/gridflow/gridflow/pkg/util"
)

// spacingTolerance is the relative tolerance used when verifying that
// explicit coordinates are uniformly spaced.
const spacingTolerance = 1e-6

// XML shapes for the subset of the VTK XML format the reader accepts.

type xmlVTKFile struct {
	XMLName    xml.Name `xml:"VTKFile"`
	Type       string   `xml:"type,attr"`
	ByteOrder  string   `xml:"byte_order,attr"`
	HeaderType string   `xml:"header_type,attr"`
	Compressor string   `xml:"compressor,attr"`

	StructuredGrid  *xmlGrid `xml:"StructuredGrid"`
	RectilinearGrid *xmlGrid `xml:"RectilinearGrid"`
}

type xmlGrid struct {
	WholeExtent string     `xml:"WholeExtent,attr"`
	Pieces      []xmlPiece `xml:"Piece"`
}

type xmlPiece struct {
	Extent      string       `xml:"Extent,attr"`
	PointData   xmlDataList  `xml:"PointData"`
	CellData    xmlDataList  `xml:"CellData"`
	Points      *xmlDataList `xml:"Points"`
	Coordinates *xmlDataList `xml:"Coordinates"`
}

type xmlDataList struct {
	Arrays []xmlDataArray `xml:"DataArray"`
}

type xmlDataArray struct {
	Type       string `xml:"type,attr"`
	Name       string `xml:"Name,attr"`
	Components string `xml:"NumberOfComponents,attr"`
	Format     string `xml:"format,attr"`
	Body       string `xml:",chardata"`
}

// Reader parses snapshot files. The zero value uses the default step
// extraction rule.
type Reader struct {
	// Steps controls how step identifiers are extracted from filenames.
	Steps StepPattern
}

// Parse reads one grid file into a GridSnapshot. Any fatal condition aborts
// parsing of this single file only; callers skip the file and continue.
func (r *Reader) Parse(path string) (*model.GridSnapshot, error) {
	step, err := r.Steps.Extract(path)
	if err != nil {
		return nil, err
	}

	doc, err := load(path)
	if err != nil {
		return nil, err
	}

	grid, piece, err := validateStructure(doc)
	if err != nil {
		return nil, err
	}

	dims, err := parseExtent(pieceExtent(grid, piece))
	if err != nil {
		return nil, err
	}

	opts, err := fileDecodeOptions(doc)
	if err != nil {
		return nil, err
	}

	snap := &model.GridSnapshot{
		Step:      step,
		Source:    path,
		Dims:      dims,
		PointData: make(map[string]*model.Array),
		CellData:  make(map[string]*model.Array),
	}

	if err := deriveGeometry(snap, doc, piece, opts); err != nil {
		return nil, err
	}

	if err := copyArrays(snap, piece.PointData.Arrays, model.PointData, opts); err != nil {
		return nil, err
	}
	if err := copyArrays(snap, piece.CellData.Arrays, model.CellData, opts); err != nil {
		return nil, err
	}

	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}

// FileInfo describes a snapshot file's structure without its payloads.
type FileInfo struct {
	Path        string
	Step        int
	Dims        model.Dims
	PointArrays []string
	CellArrays  []string
}

// Inspect validates a file structurally and reports its grid shape and array
// names without decoding array payloads.
func (r *Reader) Inspect(path string) (*FileInfo, error) {
	step, err := r.Steps.Extract(path)
	if err != nil {
		return nil, err
	}

	doc, err := load(path)
	if err != nil {
		return nil, err
	}

	grid, piece, err := validateStructure(doc)
	if err != nil {
		return nil, err
	}

	dims, err := parseExtent(pieceExtent(grid, piece))
	if err != nil {
		return nil, err
	}

	info := &FileInfo{Path: path, Step: step, Dims: dims}
	for _, da := range piece.PointData.Arrays {
		info.PointArrays = append(info.PointArrays, da.Name)
	}
	for _, da := range piece.CellData.Arrays {
		info.CellArrays = append(info.CellArrays, da.Name)
	}
	return info, nil
}

func load(path string) (*xmlVTKFile, error) {
	f, cleanup, err := util.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}

	var doc xmlVTKFile
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}
	return &doc, nil
}

func validateStructure(doc *xmlVTKFile) (*xmlGrid, *xmlPiece, error) {
	var grid *xmlGrid
	switch doc.Type {
	case "StructuredGrid":
		grid = doc.StructuredGrid
	case "RectilinearGrid":
		grid = doc.RectilinearGrid
	default:
		return nil, nil, fmt.Errorf("%w: VTKFile type %q", ErrUnsupportedGridType, doc.Type)
	}
	if grid == nil {
		return nil, nil, fmt.Errorf("%w: missing %s element", ErrMalformedFile, doc.Type)
	}
	if len(grid.Pieces) != 1 {
		return nil, nil, fmt.Errorf("%w: multi-block content (%d pieces)", ErrUnsupportedGridType, len(grid.Pieces))
	}
	return grid, &grid.Pieces[0], nil
}

func pieceExtent(grid *xmlGrid, piece *xmlPiece) string {
	if piece.Extent != "" {
		return piece.Extent
	}
	return grid.WholeExtent
}

func parseExtent(extent string) (model.Dims, error) {
	var x0, x1, y0, y1, z0, z1 int
	n, err := fmt.Sscan(extent, &x0, &x1, &y0, &y1, &z0, &z1)
	if err != nil || n != 6 {
		return model.Dims{}, fmt.Errorf("%w: bad extent %q", ErrMalformedFile, extent)
	}
	dims := model.Dims{Nx: x1 - x0 + 1, Ny: y1 - y0 + 1, Nz: z1 - z0 + 1}
	if !dims.Valid() {
		return model.Dims{}, fmt.Errorf("%w: non-positive dimensions %s from extent %q", ErrMalformedFile, dims, extent)
	}
	return dims, nil
}

func fileDecodeOptions(doc *xmlVTKFile) (decodeOptions, error) {
	opts := decodeOptions{order: binary.LittleEndian, headerSize: 4}

	switch doc.ByteOrder {
	case "", "LittleEndian":
	case "BigEndian":
		opts.order = binary.BigEndian
	default:
		return opts, fmt.Errorf("%w: byte order %q", ErrMalformedFile, doc.ByteOrder)
	}

	switch doc.HeaderType {
	case "", "UInt32":
	case "UInt64":
		opts.headerSize = 8
	default:
		return opts, fmt.Errorf("%w: header type %q", ErrMalformedFile, doc.HeaderType)
	}

	switch doc.Compressor {
	case "":
	case "vtkZLibDataCompressor":
		opts.zlib = true
	default:
		return opts, fmt.Errorf("%w: compressor %q", ErrMalformedFile, doc.Compressor)
	}
	return opts, nil
}

// deriveGeometry computes origin and spacing from the grid's coordinate
// description. Explicit coordinates must be uniform per axis; curvilinear
// point sets are reported as non-uniform.
func deriveGeometry(snap *model.GridSnapshot, doc *xmlVTKFile, piece *xmlPiece, opts decodeOptions) error {
	if doc.Type == "RectilinearGrid" {
		return deriveFromCoordinates(snap, piece, opts)
	}
	return deriveFromPoints(snap, piece, opts)
}

func deriveFromCoordinates(snap *model.GridSnapshot, piece *xmlPiece, opts decodeOptions) error {
	if piece.Coordinates == nil || len(piece.Coordinates.Arrays) != 3 {
		return fmt.Errorf("%w: rectilinear grid without three coordinate arrays", ErrMalformedFile)
	}
	counts := [3]int{snap.Dims.Nx, snap.Dims.Ny, snap.Dims.Nz}
	for axis := 0; axis < 3; axis++ {
		arr, err := decodeDataArray(&piece.Coordinates.Arrays[axis], opts)
		if err != nil {
			return fmt.Errorf("coordinates axis %d: %w", axis, err)
		}
		if arr.Len() != counts[axis] {
			return fmt.Errorf("%w: axis %d has %d coordinates, expected %d", ErrMalformedFile, axis, arr.Len(), counts[axis])
		}
		coords := make([]float64, arr.Len())
		for i := range coords {
			coords[i] = arr.Float64At(i)
		}
		origin, spacing, err := uniformSpacing(coords)
		if err != nil {
			return fmt.Errorf("axis %d: %w", axis, err)
		}
		snap.Origin[axis] = origin
		snap.Spacing[axis] = spacing
	}
	return nil
}

func deriveFromPoints(snap *model.GridSnapshot, piece *xmlPiece, opts decodeOptions) error {
	if piece.Points == nil || len(piece.Points.Arrays) != 1 {
		return fmt.Errorf("%w: structured grid without a points array", ErrMalformedFile)
	}
	arr, err := decodeDataArray(&piece.Points.Arrays[0], opts)
	if err != nil {
		return fmt.Errorf("points: %w", err)
	}
	np := snap.Dims.PointCount()
	if arr.Len() != 3*np {
		return fmt.Errorf("%w: points array has %d components, expected %d", ErrMalformedFile, arr.Len(), 3*np)
	}

	// Point order is x-fastest. Sample each axis line through the origin to
	// derive spacing, then verify every point against the implicit grid.
	nx, ny := snap.Dims.Nx, snap.Dims.Ny
	strides := [3]int{1, nx, nx * ny}
	counts := [3]int{nx, ny, snap.Dims.Nz}

	for axis := 0; axis < 3; axis++ {
		coords := make([]float64, counts[axis])
		for i := range coords {
			coords[i] = arr.Float64At(3*(i*strides[axis]) + axis)
		}
		origin, spacing, err := uniformSpacing(coords)
		if err != nil {
			return fmt.Errorf("axis %d: %w", axis, err)
		}
		snap.Origin[axis] = origin
		snap.Spacing[axis] = spacing
	}

	// A curvilinear grid can have uniform axis lines through the origin but
	// sheared interior points. Check the full point set.
	for k := 0; k < counts[2]; k++ {
		for j := 0; j < counts[1]; j++ {
			for i := 0; i < counts[0]; i++ {
				idx := i + j*strides[1] + k*strides[2]
				want := [3]float64{
					snap.Origin[0] + float64(i)*snap.Spacing[0],
					snap.Origin[1] + float64(j)*snap.Spacing[1],
					snap.Origin[2] + float64(k)*snap.Spacing[2],
				}
				for axis := 0; axis < 3; axis++ {
					got := arr.Float64At(3*idx + axis)
					if !closeEnough(got, want[axis]) {
						return fmt.Errorf("%w: point (%d,%d,%d) off the implicit grid on axis %d", ErrNonUniformSpacing, i, j, k, axis)
					}
				}
			}
		}
	}
	return nil
}

// uniformSpacing derives origin and spacing from an axis coordinate vector,
// verifying uniformity. Degenerate axes (one coordinate) get spacing 0.
func uniformSpacing(coords []float64) (origin, spacing float64, err error) {
	origin = coords[0]
	if len(coords) < 2 {
		return origin, 0, nil
	}
	spacing = coords[1] - coords[0]
	for i := 1; i < len(coords); i++ {
		want := origin + float64(i)*spacing
		if !closeEnough(coords[i], want) {
			return 0, 0, fmt.Errorf("%w: coordinate %d is %g, expected %g", ErrNonUniformSpacing, i, coords[i], want)
		}
	}
	return origin, spacing, nil
}

func closeEnough(got, want float64) bool {
	scale := math.Max(math.Abs(got), math.Abs(want))
	if scale < 1 {
		scale = 1
	}
	return math.Abs(got-want) <= spacingTolerance*scale
}

// copyArrays decodes every supported point or cell array into the snapshot.
// Arrays of unsupported element type or with multiple components are skipped
// with a recorded warning.
func copyArrays(snap *model.GridSnapshot, arrays []xmlDataArray, kind model.DataKind, opts decodeOptions) error {
	dest := snap.PointData
	if kind == model.CellData {
		dest = snap.CellData
	}

	for i := range arrays {
		da := &arrays[i]
		if da.Name == "" {
			return fmt.Errorf("%w: unnamed %s array", ErrMalformedFile, kind)
		}
		if _, dup := dest[da.Name]; dup {
			return fmt.Errorf("%w: duplicate %s array %q", ErrMalformedFile, kind, da.Name)
		}
		if da.Components != "" && da.Components != "1" {
			snap.Warnings = append(snap.Warnings,
				fmt.Sprintf("skipped %s array %q: %s components", kind, da.Name, da.Components))
			continue
		}
		arr, err := decodeDataArray(da, opts)
		if err != nil {
			if isUnsupportedElement(err) {
				snap.Warnings = append(snap.Warnings,
					fmt.Sprintf("skipped %s array %q: unsupported element type %s", kind, da.Name, da.Type))
				continue
			}
			return fmt.Errorf("%s array %q: %w", kind, da.Name, err)
		}
		dest[da.Name] = arr
	}
	return nil
}
