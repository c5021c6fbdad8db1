// Package xdmf emits the XDMF2 temporal-collection descriptor that lets
// visualization tools reconstruct a converted time series from the container
// file without re-parsing the original snapshots.
package xdmf

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gridflow/gridflow/internal/model"
	"github.com/gridflow/gridflow/pkg/container"
)

// ErrDescriptorWrite is returned when the descriptor cannot be written.
// A container without a descriptor is an incomplete conversion, so this is
// always fatal to the job.
var ErrDescriptorWrite = errors.New("xdmf: descriptor write failed")

// ArrayRef names one array of a step together with its element kind, which
// determines the attribute's declared NumberType and Precision.
type ArrayRef struct {
	Name string
	Kind model.Kind
}

// StepEntry describes one time step to reference from the descriptor. Only
// arrays actually present in the step's container group may be listed.
type StepEntry struct {
	Step        int
	PointArrays []ArrayRef
	CellArrays  []ArrayRef
}

// XML document shapes. Attribute order matches what ParaView and VisIt
// emit themselves so downstream tooling sees familiar documents.

type xmlDoc struct {
	XMLName xml.Name  `xml:"Xdmf"`
	Version string    `xml:"Version,attr"`
	Domain  xmlDomain `xml:"Domain"`
}

type xmlDomain struct {
	Grid xmlCollection `xml:"Grid"`
}

type xmlCollection struct {
	Name           string    `xml:"Name,attr"`
	GridType       string    `xml:"GridType,attr"`
	CollectionType string    `xml:"CollectionType,attr"`
	Grids          []xmlGrid `xml:"Grid"`
}

type xmlGrid struct {
	Name       string         `xml:"Name,attr"`
	GridType   string         `xml:"GridType,attr"`
	Time       xmlTime        `xml:"Time"`
	Topology   xmlTopology    `xml:"Topology"`
	Geometry   xmlGeometry    `xml:"Geometry"`
	Attributes []xmlAttribute `xml:"Attribute"`
}

type xmlTime struct {
	Value string `xml:"Value,attr"`
}

type xmlTopology struct {
	TopologyType string `xml:"TopologyType,attr"`
	Dimensions   string `xml:"Dimensions,attr"`
}

type xmlGeometry struct {
	GeometryType string        `xml:"GeometryType,attr"`
	DataItems    []xmlDataItem `xml:"DataItem"`
}

type xmlAttribute struct {
	Name          string      `xml:"Name,attr"`
	AttributeType string      `xml:"AttributeType,attr"`
	Center        string      `xml:"Center,attr"`
	DataItem      xmlDataItem `xml:"DataItem"`
}

type xmlDataItem struct {
	Name       string `xml:"Name,attr,omitempty"`
	Dimensions string `xml:"Dimensions,attr"`
	NumberType string `xml:"NumberType,attr"`
	Precision  string `xml:"Precision,attr"`
	Format     string `xml:"Format,attr"`
	Value      string `xml:",chardata"`
}

// Generate writes the descriptor for a finished container. It must be called
// exactly once per job, after all appends: it relies on the container being
// in its final shape. Steps must already be in ascending order; consumers
// rely on document order to reconstruct time.
func Generate(containerPath, descriptorPath string, dims model.Dims, steps []StepEntry) error {
	ref := filepath.Base(containerPath)

	doc := xmlDoc{
		Version: "3.0",
		Domain: xmlDomain{
			Grid: xmlCollection{
				Name:           "TimeSeries",
				GridType:       "Collection",
				CollectionType: "Temporal",
			},
		},
	}

	for _, entry := range steps {
		doc.Domain.Grid.Grids = append(doc.Domain.Grid.Grids, stepGrid(ref, dims, entry))
	}

	out, err := xml.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDescriptorWrite, err)
	}
	payload := append([]byte(xml.Header), out...)
	payload = append(payload, '\n')

	if err := os.WriteFile(descriptorPath, payload, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrDescriptorWrite, err)
	}
	return nil
}

func stepGrid(containerRef string, dims model.Dims, entry StepEntry) xmlGrid {
	key := container.StepKey(entry.Step)
	pointDims := zyx(dims)
	cellDims := zyx(dims.CellDims())

	grid := xmlGrid{
		Name:     fmt.Sprintf("Step_%d", entry.Step),
		GridType: "Uniform",
		Time:     xmlTime{Value: fmt.Sprintf("%d", entry.Step)},
		Topology: xmlTopology{
			TopologyType: "3DRectMesh",
			Dimensions:   pointDims,
		},
		Geometry: xmlGeometry{
			GeometryType: "ORIGIN_DXDYDZ",
			DataItems: []xmlDataItem{
				{
					Name:       "Origin",
					Dimensions: "3",
					NumberType: "Float",
					Precision:  "8",
					Format:     "HDF",
					Value:      containerRef + ":/origin",
				},
				{
					Name:       "Spacing",
					Dimensions: "3",
					NumberType: "Float",
					Precision:  "8",
					Format:     "HDF",
					Value:      containerRef + ":/spacing",
				},
			},
		},
	}

	for _, ref := range entry.PointArrays {
		grid.Attributes = append(grid.Attributes, xmlAttribute{
			Name:          ref.Name,
			AttributeType: "Scalar",
			Center:        "Node",
			DataItem: xmlDataItem{
				Dimensions: pointDims,
				NumberType: numberType(ref.Kind),
				Precision:  fmt.Sprintf("%d", ref.Kind.Size()),
				Format:     "HDF",
				Value:      fmt.Sprintf("%s:/%s/point_data/%s", containerRef, key, ref.Name),
			},
		})
	}
	for _, ref := range entry.CellArrays {
		grid.Attributes = append(grid.Attributes, xmlAttribute{
			Name:          ref.Name,
			AttributeType: "Scalar",
			Center:        "Cell",
			DataItem: xmlDataItem{
				Dimensions: cellDims,
				NumberType: numberType(ref.Kind),
				Precision:  fmt.Sprintf("%d", ref.Kind.Size()),
				Format:     "HDF",
				Value:      fmt.Sprintf("%s:/%s/cell_data/%s", containerRef, key, ref.Name),
			},
		})
	}
	return grid
}

// zyx formats dimensions in the Z Y X order XDMF expects.
func zyx(d model.Dims) string {
	return fmt.Sprintf("%d %d %d", d.Nz, d.Ny, d.Nx)
}

func numberType(k model.Kind) string {
	if k.Float() {
		return "Float"
	}
	return "Int"
}
