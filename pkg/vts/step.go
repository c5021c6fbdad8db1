package vts

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/gridflow/gridflow/pkg/util"
)

// digitRun matches every run of decimal digits; the rightmost run is the
// default step identifier. Filenames with multiple disjoint runs
// (e.g. "run2_step_100.vts") resolve to the rightmost, which keeps
// extraction consistent with the ascending sort in the orchestrator.
var digitRun = regexp.MustCompile(`[0-9]+`)

// StepPattern extracts time-step identifiers from snapshot filenames.
// The zero value uses the rightmost-digit-run rule.
type StepPattern struct {
	re *regexp.Regexp
}

// CompileStepPattern builds a StepPattern from a user-supplied regular
// expression. The expression must contain at least one capture group; the
// first group is parsed as the step number.
func CompileStepPattern(expr string) (StepPattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return StepPattern{}, fmt.Errorf("invalid step pattern %q: %w", expr, err)
	}
	if re.NumSubexp() < 1 {
		return StepPattern{}, fmt.Errorf("step pattern %q has no capture group", expr)
	}
	return StepPattern{re: re}, nil
}

// Extract returns the step number embedded in the file's base name.
// Compression (.gz) and format extensions are stripped before matching.
func (p StepPattern) Extract(path string) (int, error) {
	base := util.BaseName(path)

	var match string
	if p.re != nil {
		groups := p.re.FindStringSubmatch(base)
		if groups == nil {
			return 0, fmt.Errorf("%w: %q does not match configured pattern", ErrMalformedFilename, base)
		}
		match = groups[1]
	} else {
		runs := digitRun.FindAllString(base, -1)
		if len(runs) == 0 {
			return 0, fmt.Errorf("%w: %q", ErrMalformedFilename, base)
		}
		match = runs[len(runs)-1]
	}

	step, err := strconv.Atoi(match)
	if err != nil {
		return 0, fmt.Errorf("%w: step %q out of range", ErrMalformedFilename, match)
	}
	return step, nil
}

// ExtractStep extracts a step number with the default rightmost-digit-run
// rule.
func ExtractStep(path string) (int, error) {
	return StepPattern{}.Extract(path)
}
