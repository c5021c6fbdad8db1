package vts

import (
	"errors"
	"testing"
)

func TestExtractStepRightmostRun(t *testing.T) {
	tests := []struct {
		path string
		want int
	}{
		{"sim_100.vts", 100},
		{"sim_20.vts", 20},
		{"sim_3.vts", 3},
		{"run2_step_0042.vts", 42},   // rightmost run wins
		{"v2/case7/out_015.vts", 15}, // directories ignored
		{"snap.000010.vts.gz", 10},   // compression stripped first
		{"5.vts", 5},
	}
	for _, tt := range tests {
		got, err := ExtractStep(tt.path)
		if err != nil {
			t.Errorf("ExtractStep(%q): %v", tt.path, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ExtractStep(%q) = %d, want %d", tt.path, got, tt.want)
		}
	}
}

func TestExtractStepNoDigits(t *testing.T) {
	_, err := ExtractStep("final.vts")
	if !errors.Is(err, ErrMalformedFilename) {
		t.Fatalf("expected ErrMalformedFilename, got %v", err)
	}
}

func TestExtractStepOverflow(t *testing.T) {
	_, err := ExtractStep("sim_99999999999999999999.vts")
	if !errors.Is(err, ErrMalformedFilename) {
		t.Fatalf("expected ErrMalformedFilename for overflow, got %v", err)
	}
}

func TestStepPatternOverride(t *testing.T) {
	p, err := CompileStepPattern(`t([0-9]+)_`)
	if err != nil {
		t.Fatal(err)
	}

	got, err := p.Extract("t12_rev3.vts")
	if err != nil {
		t.Fatal(err)
	}
	if got != 12 {
		t.Errorf("Extract = %d, want 12", got)
	}

	if _, err := p.Extract("rev3.vts"); !errors.Is(err, ErrMalformedFilename) {
		t.Errorf("expected ErrMalformedFilename for non-matching name, got %v", err)
	}
}

func TestCompileStepPatternRequiresGroup(t *testing.T) {
	if _, err := CompileStepPattern(`[0-9]+`); err == nil {
		t.Fatal("expected error for pattern without capture group")
	}
}
