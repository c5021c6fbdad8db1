package xdmf

import (
	"encoding/xml"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gridflow/gridflow/internal/model"
)

func TestGenerateTemporalCollection(t *testing.T) {
	dir := t.TempDir()
	descPath := filepath.Join(dir, "run.xdmf2")

	steps := []StepEntry{
		{Step: 3, PointArrays: []ArrayRef{{Name: "temp", Kind: model.KindFloat64}}},
		{Step: 20, PointArrays: []ArrayRef{{Name: "temp", Kind: model.KindFloat64}}},
		{Step: 100, PointArrays: []ArrayRef{{Name: "temp", Kind: model.KindFloat64}},
			CellArrays: []ArrayRef{{Name: "region", Kind: model.KindInt32}}},
	}

	err := Generate(filepath.Join(dir, "run.h5"), descPath,
		model.Dims{Nx: 4, Ny: 4, Nz: 1}, steps)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	data, err := os.ReadFile(descPath)
	if err != nil {
		t.Fatal(err)
	}

	var doc xmlDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("descriptor is not well-formed XML: %v", err)
	}

	coll := doc.Domain.Grid
	if coll.GridType != "Collection" || coll.CollectionType != "Temporal" {
		t.Errorf("collection attrs = %q %q", coll.GridType, coll.CollectionType)
	}
	if len(coll.Grids) != 3 {
		t.Fatalf("got %d grids, want 3", len(coll.Grids))
	}

	wantNames := []string{"Step_3", "Step_20", "Step_100"}
	for i, g := range coll.Grids {
		if g.Name != wantNames[i] {
			t.Errorf("grid %d name = %q, want %q", i, g.Name, wantNames[i])
		}
		if g.Topology.TopologyType != "3DRectMesh" {
			t.Errorf("grid %d topology = %q", i, g.Topology.TopologyType)
		}
		if g.Topology.Dimensions != "1 4 4" {
			t.Errorf("grid %d dimensions = %q, want Z Y X order", i, g.Topology.Dimensions)
		}
		if g.Geometry.GeometryType != "ORIGIN_DXDYDZ" {
			t.Errorf("grid %d geometry = %q", i, g.Geometry.GeometryType)
		}
	}

	// Attribute references point into the matching step group.
	text := string(data)
	if !strings.Contains(text, "run.h5:/step_3/point_data/temp") {
		t.Error("missing step_3 temp reference")
	}
	if !strings.Contains(text, "run.h5:/step_100/cell_data/region") {
		t.Error("missing step_100 region reference")
	}
	if !strings.Contains(text, "run.h5:/origin") || !strings.Contains(text, "run.h5:/spacing") {
		t.Error("missing geometry references")
	}

	// Cell attribute carries cell dimensions and integer typing.
	last := coll.Grids[2]
	var region *xmlAttribute
	for i := range last.Attributes {
		if last.Attributes[i].Name == "region" {
			region = &last.Attributes[i]
		}
	}
	if region == nil {
		t.Fatal("region attribute missing")
	}
	if region.Center != "Cell" {
		t.Errorf("region center = %q", region.Center)
	}
	if region.DataItem.Dimensions != "1 3 3" {
		t.Errorf("region dimensions = %q, want 1 3 3", region.DataItem.Dimensions)
	}
	if region.DataItem.NumberType != "Int" || region.DataItem.Precision != "4" {
		t.Errorf("region typing = %s/%s", region.DataItem.NumberType, region.DataItem.Precision)
	}
}

func TestGeneratePerStepArrays(t *testing.T) {
	// A step missing an array the others have must not reference it.
	dir := t.TempDir()
	descPath := filepath.Join(dir, "run.xdmf2")

	steps := []StepEntry{
		{Step: 1, PointArrays: []ArrayRef{{Name: "temp", Kind: model.KindFloat64}}},
		{Step: 2},
	}

	err := Generate(filepath.Join(dir, "run.h5"), descPath,
		model.Dims{Nx: 2, Ny: 2, Nz: 1}, steps)
	if err != nil {
		t.Fatal(err)
	}

	text, err := os.ReadFile(descPath)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(text), "step_2/point_data/temp") {
		t.Error("step_2 must not reference an array it does not have")
	}
}

func TestGenerateUnwritableDestination(t *testing.T) {
	err := Generate("run.h5", filepath.Join(t.TempDir(), "missing", "run.xdmf2"),
		model.Dims{Nx: 2, Ny: 2, Nz: 1}, []StepEntry{{Step: 0}})
	if !errors.Is(err, ErrDescriptorWrite) {
		t.Fatalf("expected ErrDescriptorWrite, got %v", err)
	}
}
