package convert

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/gridflow/gridflow/pkg/vts"
)

var (
	// ErrNoInputFiles is returned when the input directory contains no
	// grid files at all.
	ErrNoInputFiles = errors.New("convert: no input files")

	// ErrNoConvertibleFiles is returned when every discovered file failed
	// to parse. No container or descriptor is written in that case.
	ErrNoConvertibleFiles = errors.New("convert: no convertible files")

	// errDuplicateStep marks files whose step number collides with an
	// earlier file. The first path in lexical order wins.
	errDuplicateStep = errors.New("convert: duplicate step number")
)

// inputFile is one discovered snapshot with its extracted step.
type inputFile struct {
	path string
	step int
}

// discover enumerates grid files, extracts step numbers, sorts ascending by
// step, and deduplicates step collisions. The returned ordering depends only
// on the extracted steps, never on filesystem listing order.
func discover(dir string, steps vts.StepPattern) ([]inputFile, []Skip, error) {
	var paths []string
	for _, pattern := range []string{"*.vts", "*.vts.gz"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, nil, fmt.Errorf("convert: glob: %w", err)
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("%w in %s", ErrNoInputFiles, dir)
	}
	sort.Strings(paths)

	var (
		files []inputFile
		skips []Skip
		seen  = make(map[int]string)
	)
	for _, path := range paths {
		step, err := steps.Extract(path)
		if err != nil {
			skips = append(skips, Skip{Path: path, Err: err})
			continue
		}
		if first, dup := seen[step]; dup {
			skips = append(skips, Skip{
				Path: path,
				Err:  fmt.Errorf("%w: step %d already taken by %s", errDuplicateStep, step, filepath.Base(first)),
			})
			continue
		}
		seen[step] = path
		files = append(files, inputFile{path: path, step: step})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].step < files[j].step })
	return files, skips, nil
}
