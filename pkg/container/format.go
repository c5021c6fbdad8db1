// Package container implements the hierarchical chunked container file that
// holds a converted time series. The layout contract is:
//
//	/origin                      3 float64
//	/spacing                     3 float64
//	/step_<N>/point_data/<name>  flat numeric array
//	/step_<N>/cell_data/<name>   flat numeric array
//
// Datasets are stored as independently compressed chunks with a JSON index
// footer. The codec and level are chosen once per job and applied uniformly
// to every dataset, so container bytes depend only on input content and
// configuration.
package container

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/gridflow/gridflow/internal/model"
)

var (
	// ErrContainerOpen is returned when the container file cannot be
	// created or read.
	ErrContainerOpen = errors.New("container: open failed")

	// ErrGeometryConflict is returned when WriteGeometry is called again
	// with differing values.
	ErrGeometryConflict = errors.New("container: geometry conflict")

	// ErrDuplicateStep is returned when a step key is appended twice.
	// Step keys are deduplicated upstream; hitting this indicates an
	// orchestrator bug.
	ErrDuplicateStep = errors.New("container: duplicate step")

	// ErrClosed is returned on use after Close or Discard.
	ErrClosed = errors.New("container: closed")

	// ErrNotFound is returned when a dataset path does not exist.
	ErrNotFound = errors.New("container: dataset not found")
)

// File structure constants.
var (
	magic         = []byte("\x89GFC\r\n\x1a\n")
	indexMagic    = []byte("GFCINDX1")
	formatVersion = 1
)

// chunkSize is the uncompressed chunk payload size.
const chunkSize = 1 << 20

// StepKey formats the container group name for a step.
func StepKey(step int) string {
	return fmt.Sprintf("step_%d", step)
}

// DatasetPath builds the container path for one array of a step.
func DatasetPath(step int, kind model.DataKind, name string) string {
	return fmt.Sprintf("/%s/%s/%s", StepKey(step), kind, name)
}

// ParseStepKey parses a step group name back into its step number.
func ParseStepKey(key string) (int, bool) {
	var step int
	if _, err := fmt.Sscanf(key, "step_%d", &step); err != nil {
		return 0, false
	}
	return step, true
}

type chunkEntry struct {
	Offset int64 `json:"offset"`
	Size   int64 `json:"size"`
	Raw    int64 `json:"raw"`
}

type datasetEntry struct {
	Path   string       `json:"path"`
	Kind   string       `json:"kind"`
	Count  int          `json:"count"`
	Chunks []chunkEntry `json:"chunks"`
}

type fileIndex struct {
	Version  int            `json:"version"`
	Codec    string         `json:"codec"`
	Level    int            `json:"level"`
	Datasets []datasetEntry `json:"datasets"`
}

func (idx *fileIndex) find(path string) *datasetEntry {
	for i := range idx.Datasets {
		if idx.Datasets[i].Path == path {
			return &idx.Datasets[i]
		}
	}
	return nil
}

func kindFromName(name string) (model.Kind, error) {
	switch name {
	case "float32":
		return model.KindFloat32, nil
	case "float64":
		return model.KindFloat64, nil
	case "int32":
		return model.KindInt32, nil
	case "int64":
		return model.KindInt64, nil
	default:
		return 0, fmt.Errorf("container: unknown element kind %q", name)
	}
}

// arrayBytes serializes an array to its little-endian on-disk form.
func arrayBytes(arr *model.Array) []byte {
	out := make([]byte, arr.Len()*arr.Kind.Size())
	switch arr.Kind {
	case model.KindFloat32:
		for i, v := range arr.F32 {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
	case model.KindFloat64:
		for i, v := range arr.F64 {
			binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
		}
	case model.KindInt32:
		for i, v := range arr.I32 {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
		}
	case model.KindInt64:
		for i, v := range arr.I64 {
			binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
		}
	}
	return out
}

// arrayFromBytes deserializes the little-endian on-disk form.
func arrayFromBytes(raw []byte, kind model.Kind) (*model.Array, error) {
	size := kind.Size()
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("container: dataset length %d not a multiple of element size %d", len(raw), size)
	}
	n := len(raw) / size
	arr := &model.Array{Kind: kind}
	switch kind {
	case model.KindFloat32:
		arr.F32 = make([]float32, n)
		for i := range arr.F32 {
			arr.F32[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case model.KindFloat64:
		arr.F64 = make([]float64, n)
		for i := range arr.F64 {
			arr.F64[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
	case model.KindInt32:
		arr.I32 = make([]int32, n)
		for i := range arr.I32 {
			arr.I32[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case model.KindInt64:
		arr.I64 = make([]int64, n)
		for i := range arr.I64 {
			arr.I64[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
		}
	}
	return arr, nil
}

// splitDatasetPath splits "/step_3/point_data/temp" into its parts.
func splitDatasetPath(path string) (stepKey, group, name string, ok bool) {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
