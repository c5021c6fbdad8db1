package model

import "testing"

func TestDimsCounts(t *testing.T) {
	tests := []struct {
		dims   Dims
		points int
		cells  int
	}{
		{Dims{4, 4, 4}, 64, 27},
		{Dims{4, 4, 1}, 16, 9},  // degenerate z
		{Dims{10, 1, 1}, 10, 9}, // degenerate y and z
		{Dims{2, 2, 2}, 8, 1},
	}

	for _, tt := range tests {
		if got := tt.dims.PointCount(); got != tt.points {
			t.Errorf("%s: PointCount = %d, want %d", tt.dims, got, tt.points)
		}
		if got := tt.dims.CellCount(); got != tt.cells {
			t.Errorf("%s: CellCount = %d, want %d", tt.dims, got, tt.cells)
		}
	}
}

func TestValidateArrayLengths(t *testing.T) {
	snap := &GridSnapshot{
		Step: 0,
		Dims: Dims{4, 4, 1},
		PointData: map[string]*Array{
			"temp": {Kind: KindFloat64, F64: make([]float64, 16)},
		},
		CellData: map[string]*Array{
			"flag": {Kind: KindInt32, I32: make([]int32, 9)},
		},
	}

	if err := snap.Validate(); err != nil {
		t.Fatalf("valid snapshot rejected: %v", err)
	}

	snap.PointData["temp"].F64 = snap.PointData["temp"].F64[:10]
	if err := snap.Validate(); err == nil {
		t.Fatal("expected error for short point array")
	}
}

func TestValidateRejectsBadDims(t *testing.T) {
	snap := &GridSnapshot{Dims: Dims{0, 4, 1}}
	if err := snap.Validate(); err == nil {
		t.Fatal("expected error for zero dimension")
	}
}

func TestArrayFloat64At(t *testing.T) {
	arrays := []*Array{
		{Kind: KindFloat32, F32: []float32{1.5}},
		{Kind: KindFloat64, F64: []float64{1.5}},
		{Kind: KindInt32, I32: []int32{2}},
		{Kind: KindInt64, I64: []int64{2}},
	}
	want := []float64{1.5, 1.5, 2, 2}
	for i, a := range arrays {
		if got := a.Float64At(0); got != want[i] {
			t.Errorf("%s: Float64At = %v, want %v", a.Kind, got, want[i])
		}
		if a.Len() != 1 {
			t.Errorf("%s: Len = %d, want 1", a.Kind, a.Len())
		}
	}
}

func TestSortedArrayNames(t *testing.T) {
	snap := &GridSnapshot{
		Dims: Dims{2, 2, 1},
		PointData: map[string]*Array{
			"velocity": {Kind: KindFloat64, F64: make([]float64, 4)},
			"pressure": {Kind: KindFloat64, F64: make([]float64, 4)},
			"alpha":    {Kind: KindFloat64, F64: make([]float64, 4)},
		},
	}

	names := snap.PointArrayNames()
	want := []string{"alpha", "pressure", "velocity"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
}
